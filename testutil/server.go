// Package testutil provides an in-memory server speaking the wire protocol.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
)

// DefaultLimits are the quotas given to every new account.
var DefaultLimits = api.Usage{
	MaxTotalBytes: 10 * 1024 * 1024,
	MaxNoteBytes:  1024 * 1024,
	MaxNoteCount:  1000,
}

type user struct {
	id        string
	username  string
	account   api.AccountData
	signature *crypto.Signature
	challenge string
	data      string
	config    string
	limits    api.Usage

	notes        map[string]*api.NoteInfo
	keys         map[string]*api.KeyInfo
	deletedNotes map[string]int64
}

func (u *user) usage() api.Usage {
	usage := u.limits

	for _, n := range u.notes {
		usage.NoteCount++
		for _, item := range n.Items {
			usage.Size += int64(len(item.Data))
		}
	}

	return usage
}

type shareOffer struct {
	api.ShareOffer
	code      string
	recipient string
}

// Server is a fake API server. Item versions and sync counters advance the
// way the real service does; quotas are reported but not enforced.
type Server struct {
	*httptest.Server

	// Key, when set, is used to open sealed account requests.
	Key   *crypto.Signature
	KeyID string

	// PageSize limits the notes returned per changes-since round. Zero is unlimited.
	PageSize int

	mu       sync.Mutex
	users    map[string]*user
	offers   []*shareOffer
	sync     int64
	failures map[string][]int
	counts   map[string]int
	pushes   []api.SyncPushRequest
}

func NewServer() *Server {
	s := &Server{
		users:    map[string]*user{},
		failures: map[string][]int{},
		counts:   map[string]int{},
	}

	s.Server = httptest.NewServer(s.routes())

	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.AllowContentType(common.APIContentType))
	r.Use(s.countAndFail)

	r.Get(common.PreLoginPath+"{username}", s.preLogin)
	r.Post(common.LoginPath, s.login)
	r.Post(common.UserAvailablePath, s.available)
	r.Post(common.CreateUserPath, s.createUser)
	r.Post(common.UpdateUserPath, s.updateUser)
	r.Post(common.UpdateUserDataPath, s.updateUserData)
	r.Post(common.GetDataPath, s.getData)
	r.Post(common.DeleteUserPath, s.deleteUser)
	r.Post(common.PublicKeyPath, s.publicKey)
	r.Post(common.ChangesSincePath, s.changesSince)
	r.Post(common.PushChangesPath, s.pushChanges)
	r.Post(common.MultiNotePath, s.multi)
	r.Post(common.ReadNotePath, s.readNote)
	r.Post(common.KeyCreatePath, s.createKey)
	r.Post(common.ShareNotePath, s.shareNote)
	r.Post(common.ShareOfferPath, s.shareOffers)
	r.Post(common.DeleteSharePath, s.deleteShare)
	r.Post(common.NotificationCreatePath, s.notificationURL)

	return r
}

func (s *Server) countAndFail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if len(path) > len(common.PreLoginPath) && path[:len(common.PreLoginPath)] == common.PreLoginPath {
			path = common.PreLoginPath
		}

		s.mu.Lock()
		s.counts[path]++

		status := 0
		if queued := s.failures[path]; len(queued) > 0 {
			status = queued[0]
			s.failures[path] = queued[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}

		w.Header().Set(common.HeaderVersion, "test")
		next.ServeHTTP(w, r)
	})
}

// FailNext makes the next request to path answer with status.
func (s *Server) FailNext(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[path] = append(s.failures[path], status)
}

// Count returns the number of requests received for path.
func (s *Server) Count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counts[path]
}

// Pushes returns every push-changes request received.
func (s *Server) Pushes() []api.SyncPushRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]api.SyncPushRequest(nil), s.pushes...)
}

func (s *Server) nextSync() int64 {
	s.sync++

	return s.sync
}

// Note returns a copy of a stored note or nil.
func (s *Server) Note(username, id string) *api.NoteInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[username]
	if u == nil || u.notes[id] == nil {
		return nil
	}

	n := *u.notes[id]
	n.Items = append([]api.NoteInfoItem(nil), n.Items...)

	return &n
}

// StoredKey returns a stored key record or nil.
func (s *Server) StoredKey(username, id string) *api.KeyInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[username]
	if u == nil || u.keys[id] == nil {
		return nil
	}

	k := *u.keys[id]

	return &k
}

// UserExists reports whether an account is registered under username.
func (s *Server) UserExists(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.users[username] != nil
}

// SetLimits replaces the quotas of an account.
func (s *Server) SetLimits(username string, limits api.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u := s.users[username]; u != nil {
		u.limits = limits
	}
}

// TouchItem stores data as a new version of the item, as if another device
// had written it.
func (s *Server) TouchItem(username, noteID, itemType, data string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[username]
	if u == nil || u.notes[noteID] == nil {
		return 0
	}

	n := u.notes[noteID]
	for i := range n.Items {
		if n.Items[i].ItemType == itemType {
			n.Items[i].Version++
			n.Items[i].Modified = common.Now()
			if data != "" {
				n.Items[i].Data = data
			}
			n.Sync = s.nextSync()
			n.Modified = n.Items[i].Modified

			return n.Items[i].Version
		}
	}

	return 0
}

// RemoveNote deletes a note as if another device had deleted it.
func (s *Server) RemoveNote(username, noteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u := s.users[username]; u != nil {
		delete(u.notes, noteID)
		u.deletedNotes[noteID] = s.nextSync()
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set(common.HeaderContentType, common.APIContentType)
	_ = json.NewEncoder(w).Encode(v)
}

func newChallenge() string {
	return randomHex(32)
}

func (s *Server) sortedNotes(u *user, since int64) []api.NoteInfo {
	var out []api.NoteInfo

	for _, n := range u.notes {
		if n.Sync > since {
			out = append(out, *n)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Sync < out[j].Sync
	})

	if s.PageSize > 0 && len(out) > s.PageSize {
		out = out[:s.PageSize]
	}

	return out
}

func newID() string {
	return uuid.New().String()
}
