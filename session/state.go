package session

import (
	"strings"
	"sync"

	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/store"
)

type AccountType int

const (
	// AccountNone is the account-less store opened by OpenLocal.
	AccountNone AccountType = iota
	// AccountLocal is password protected but has never been pushed to a server.
	AccountLocal
	AccountCloud
)

func (a AccountType) String() string {
	switch a {
	case AccountLocal:
		return "local"
	case AccountCloud:
		return "cloud"
	default:
		return "none"
	}
}

// ClientConfig is the server-provided client configuration.
type ClientConfig struct {
	Features []string `json:"features"`
}

// UserStats combines the server reported usage and limits with the changes
// made locally since the last push.
type UserStats struct {
	store.UserStats
	LocalSizeDelta      int64 `json:"localSizeDelta"`
	LocalNoteCountDelta int64 `json:"localNoteCountDelta"`
	LocalSize           int64 `json:"localSize"`
	LocalNoteCount      int64 `json:"localNoteCount"`
}

// State is the runtime context shared by every component of a logged in
// account. It is created once and passed by reference; Reset clears it on
// logout.
type State struct {
	mu sync.RWMutex

	username      string
	userID        string
	loggedIn      bool
	online        bool
	workOffline   bool
	accountType   AccountType
	stats         UserStats
	clientConfig  ClientConfig
	userData      store.UserData
	rootCrypt     *crypto.Symmetric
	rootSignature *crypto.Signature
}

func NewState() *State {
	return &State{}
}

func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.username = ""
	s.userID = ""
	s.loggedIn = false
	s.online = false
	s.workOffline = false
	s.accountType = AccountNone
	s.stats = UserStats{}
	s.clientConfig = ClientConfig{}
	s.userData = store.UserData{}
	s.rootCrypt = nil
	s.rootSignature = nil
}

func (s *State) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.username
}

func (s *State) SetUsername(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

// IsAnonymous reports whether the account was created without a chosen username.
func (s *State) IsAnonymous() bool {
	return strings.HasPrefix(s.Username(), common.AnonymousAccountPrefix)
}

func (s *State) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userID
}

func (s *State) SetUserID(id string) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

func (s *State) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loggedIn
}

func (s *State) SetLoggedIn(v bool) {
	s.mu.Lock()
	s.loggedIn = v
	s.mu.Unlock()
}

func (s *State) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.online
}

func (s *State) SetOnline(v bool) {
	s.mu.Lock()
	s.online = v
	s.mu.Unlock()
}

func (s *State) WorkOffline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.workOffline
}

func (s *State) SetWorkOffline(v bool) {
	s.mu.Lock()
	s.workOffline = v
	s.mu.Unlock()
}

func (s *State) AccountType() AccountType {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.accountType
}

func (s *State) SetAccountType(t AccountType) {
	s.mu.Lock()
	s.accountType = t
	s.mu.Unlock()
}

// CanSync reports whether the sync engine may talk to the server.
func (s *State) CanSync() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.online && !s.workOffline && s.accountType == AccountCloud
}

// Stats returns a copy of the current usage counters.
func (s *State) Stats() UserStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.stats
}

// SetServerStats replaces the server-side usage and limits, keeping local deltas.
func (s *State) SetServerStats(us store.UserStats) {
	s.mu.Lock()
	s.stats.UserStats = us
	s.mu.Unlock()
}

// UpdateServerUsage records the size and count reported after a server write.
func (s *State) UpdateServerUsage(size, noteCount int64) {
	s.mu.Lock()
	s.stats.Size = size
	s.stats.NoteCount = noteCount
	s.mu.Unlock()
}

// AddLocalDelta adjusts the unpushed size and note count. It returns the new totals.
func (s *State) AddLocalDelta(size, noteCount int64) (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.LocalSizeDelta += size
	s.stats.LocalNoteCountDelta += noteCount
	s.stats.LocalSize = max(s.stats.LocalSize+size, 0)
	s.stats.LocalNoteCount = max(s.stats.LocalNoteCount+noteCount, 0)

	return s.stats.LocalSizeDelta, s.stats.LocalNoteCountDelta
}

// SetLocalDelta replaces the unpushed size and note count, typically with
// values recomputed from the dirty partitions after a push.
func (s *State) SetLocalDelta(size, noteCount int64) {
	s.mu.Lock()
	s.stats.LocalSizeDelta = size
	s.stats.LocalNoteCountDelta = noteCount
	s.stats.LocalSize = max(size, 0)
	s.stats.LocalNoteCount = max(noteCount, 0)
	s.mu.Unlock()
}

func (s *State) setLocalStats(ls store.LocalState) {
	s.mu.Lock()
	s.stats.LocalSizeDelta = ls.SizeDelta
	s.stats.LocalNoteCountDelta = ls.NoteCountDelta
	s.stats.LocalSize = ls.Size
	s.stats.LocalNoteCount = ls.NoteCount
	s.mu.Unlock()
}

func (s *State) ClientConfig() ClientConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.clientConfig
}

func (s *State) SetClientConfig(c ClientConfig) {
	s.mu.Lock()
	s.clientConfig = c
	s.mu.Unlock()
}

func (s *State) UserData() store.UserData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userData
}

func (s *State) SetUserData(d store.UserData) {
	s.mu.Lock()
	s.userData = d
	s.mu.Unlock()
}

func (s *State) RootCrypt() *crypto.Symmetric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rootCrypt
}

func (s *State) SetRootCrypt(c *crypto.Symmetric) {
	s.mu.Lock()
	s.rootCrypt = c
	s.mu.Unlock()
}

func (s *State) RootSignature() *crypto.Signature {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rootSignature
}

func (s *State) SetRootSignature(sig *crypto.Signature) {
	s.mu.Lock()
	s.rootSignature = sig
	s.mu.Unlock()
}
