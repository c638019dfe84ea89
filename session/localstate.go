package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/innonova/mimiri-client-sub002/store"
)

var ErrLocalStateNotInitialized = errors.New("local state not initialized")

// LocalStateManager keeps the device specific flags and unpushed quota
// counters of the open account in the user store.
type LocalStateManager struct {
	db    *store.Store
	state *State

	mu    sync.Mutex
	local *store.LocalState
}

func NewLocalStateManager(db *store.Store, state *State) *LocalStateManager {
	return &LocalStateManager{db: db, state: state}
}

// Login loads the persisted local state, creating it on the first login of
// this device, and copies it into the shared state.
func (m *LocalStateManager) Login() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ls, err := m.db.GetLocalState()
	if err != nil {
		return fmt.Errorf("LocalStateManager.Login | %w", err)
	}

	if ls == nil {
		ls = &store.LocalState{FirstLogin: true}

		if err = m.db.SetLocalState(*ls); err != nil {
			return fmt.Errorf("LocalStateManager.Login | %w", err)
		}
	}

	us, err := m.db.GetUserStats()
	if err != nil {
		return fmt.Errorf("LocalStateManager.Login | %w", err)
	}

	if us != nil {
		m.state.SetServerStats(*us)
	}

	m.local = ls
	m.state.setLocalStats(*ls)

	if ls.WorkOffline {
		m.state.SetWorkOffline(true)
	}

	return nil
}

func (m *LocalStateManager) Logout() {
	m.mu.Lock()
	m.local = nil
	m.mu.Unlock()
}

func (m *LocalStateManager) save() error {
	if m.local == nil {
		return ErrLocalStateNotInitialized
	}

	return m.db.SetLocalState(*m.local)
}

// UpdateLocalSizeData persists the local quota counters held in the shared state.
func (m *LocalStateManager) UpdateLocalSizeData() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local == nil {
		return ErrLocalStateNotInitialized
	}

	stats := m.state.Stats()
	m.local.SizeDelta = stats.LocalSizeDelta
	m.local.NoteCountDelta = stats.LocalNoteCountDelta
	m.local.Size = stats.LocalSize
	m.local.NoteCount = stats.LocalNoteCount

	if err := m.save(); err != nil {
		return fmt.Errorf("UpdateLocalSizeData | %w", err)
	}

	return nil
}

func (m *LocalStateManager) FirstLogin() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local == nil {
		return false, ErrLocalStateNotInitialized
	}

	return m.local.FirstLogin, nil
}

func (m *LocalStateManager) ClearFirstLogin() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local == nil {
		return ErrLocalStateNotInitialized
	}

	m.local.FirstLogin = false

	return m.save()
}

// WorkOffline suspends sync for this device until WorkOnline is called.
func (m *LocalStateManager) WorkOffline() error {
	return m.setWorkOffline(true)
}

func (m *LocalStateManager) WorkOnline() error {
	return m.setWorkOffline(false)
}

func (m *LocalStateManager) setWorkOffline(v bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local == nil {
		return ErrLocalStateNotInitialized
	}

	m.local.WorkOffline = v
	m.state.SetWorkOffline(v)

	return m.save()
}
