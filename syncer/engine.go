// Package syncer reconciles the local store with the server: it pulls
// changes since the stored watermark, pushes dirty records and tombstones,
// and pulls again to absorb the effects of the push.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/keys"
	"github.com/innonova/mimiri-client-sub002/logging"
	"github.com/innonova/mimiri-client-sub002/session"
	"github.com/innonova/mimiri-client-sub002/store"
)

type Status string

const (
	StatusIdle                   Status = "idle"
	StatusRetrievingChanges      Status = "retrieving-changes"
	StatusSendingChanges         Status = "sending-changes"
	StatusError                  Status = "error"
	StatusTotalSizeLimitExceeded Status = "total-size-limit-exceeded"
	StatusCountLimitExceeded     Status = "count-limit-exceeded"
	StatusNoteSizeLimitExceeded  Status = "note-size-limit-exceeded"
)

// Engine runs at most one sync cycle at a time. Requests made while a cycle
// is running are coalesced into one more pass.
type Engine struct {
	// OnNoteUpdated is called for every note changed by a pull.
	OnNoteUpdated func(id string)
	// OnConflict is called with the conflicts the server reported for a note.
	OnConflict func(noteID string, conflicts []api.VersionConflict)
	// OnInconsistency is called when CheckConsistency is set and a cycle
	// finds problems in the note tree.
	OnInconsistency func(report ConsistencyReport)
	// OnStatusChanged is called on every status transition.
	OnStatusChanged func(status Status)
	// CheckConsistency runs DetectConsistencyIssues after cycles that changed notes.
	CheckConsistency bool

	db     *store.Store
	client *api.Client
	keys   *keys.Manager
	state  *session.State
	local  *session.LocalStateManager
	log    logging.Logger
	retry  backoff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	status       Status
	initializing bool
	initialized  bool
	inProgress   bool
	rerun        bool
	waiters      []chan bool
	issued       []string
	conflicts    map[string][]api.VersionConflict
}

func NewEngine(db *store.Store, client *api.Client, km *keys.Manager, state *session.State, local *session.LocalStateManager, debug bool) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		db:     db,
		client: client,
		keys:   km,
		state:  state,
		local:  local,
		log:    logging.New(debug, "syncer"),
		retry: backoff{
			base: common.SyncBaseDelayMs * time.Millisecond,
			max:  common.SyncMaxDelayMs * time.Millisecond,
		},
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusIdle,
		conflicts: map[string][]api.VersionConflict{},
	}
}

// SetRetryDelays replaces the retry backoff bounds.
func (e *Engine) SetRetryDelays(base, maxDelay time.Duration) {
	e.retry = backoff{base: base, max: maxDelay}
}

// Close stops background syncs and waits for them to return.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Reset forgets the per-login sync state so the next login starts with an
// initial sync.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.initialized = false
	e.issued = nil
	e.conflicts = map[string][]api.VersionConflict{}
	e.mu.Unlock()

	e.setStatus(StatusIdle)
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.status
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	changed := e.status != s
	e.status = s
	e.mu.Unlock()

	if changed && e.OnStatusChanged != nil {
		e.OnStatusChanged(s)
	}
}

func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.initialized
}

// Conflicts returns the unresolved conflicts per note id.
func (e *Engine) Conflicts() map[string][]api.VersionConflict {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string][]api.VersionConflict, len(e.conflicts))
	for id, c := range e.conflicts {
		out[id] = append([]api.VersionConflict(nil), c...)
	}

	return out
}

func (e *Engine) setConflicts(noteID string, conflicts []api.VersionConflict) {
	e.mu.Lock()
	if len(conflicts) == 0 {
		delete(e.conflicts, noteID)
	} else {
		e.conflicts[noteID] = conflicts
	}
	e.mu.Unlock()

	if len(conflicts) > 0 && e.OnConflict != nil {
		e.OnConflict(noteID, conflicts)
	}
}

func (e *Engine) issueSyncID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.issued = append(e.issued, id)
	if len(e.issued) > common.IssuedSyncIDLimit {
		e.issued = e.issued[len(e.issued)-common.IssuedSyncIDLimit:]
	}
}

// IsSyncIDIssued reports whether id belongs to one of the recent pushes of
// this engine.
func (e *Engine) IsSyncIDIssued(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, issued := range e.issued {
		if issued == id {
			return true
		}
	}

	return false
}

func (e *Engine) canInitialize() bool {
	return e.client != nil && !e.state.WorkOffline() && e.state.AccountType() == session.AccountCloud
}

// InitialSync performs the first pull after login. Concurrent calls while
// one is running return immediately.
func (e *Engine) InitialSync(ctx context.Context) error {
	if !e.canInitialize() {
		e.log.Debugf("InitialSync | skipped, offline or not a cloud account")

		return nil
	}

	e.mu.Lock()
	if e.initializing {
		e.mu.Unlock()

		return nil
	}
	e.initializing = true
	e.mu.Unlock()

	_, keyChanges, err := e.pull(ctx, false)

	e.mu.Lock()
	e.initializing = false
	if err == nil {
		e.initialized = true
	}
	e.mu.Unlock()

	if err != nil {
		e.setStatus(StatusError)

		return classifySyncError(err)
	}

	if keyChanges {
		return e.keys.LoadAllKeys()
	}

	return nil
}

// Sync runs a full cycle, retrying failed cycles with exponential backoff.
// Only errors that retrying cannot fix are returned. When a cycle is already
// running Sync flags one more pass and returns nil at once.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.Initialized() || !e.state.CanSync() || e.client == nil {
		return nil
	}

	e.mu.Lock()
	if e.inProgress {
		e.rerun = true
		e.mu.Unlock()
		e.log.Debugf("Sync | already in progress, queued another pass")

		return nil
	}
	e.inProgress = true
	e.mu.Unlock()

	err := e.run(ctx)

	e.mu.Lock()
	e.inProgress = false
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, w := range waiters {
		w <- err == nil
	}

	return err
}

func (e *Engine) run(ctx context.Context) error {
	var (
		failed  bool
		attempt int
	)

	for {
		if failed {
			e.log.Debugf("run | retrying in %v (attempt %d)", e.retry.delay(attempt), attempt+1)

			if err := e.retry.wait(ctx, attempt); err != nil {
				return err
			}

			attempt++
		}

		failed = false

		e.mu.Lock()
		e.rerun = false
		e.mu.Unlock()

		if !e.state.CanSync() {
			return nil
		}

		if err := e.cycle(ctx); err != nil {
			se := classifySyncError(err)
			if !se.Retryable {
				e.log.Errorf("run | %s", se)
				e.setStatus(StatusError)

				return se
			}

			e.log.Warnf("run | %s sync error: %s", se.Type, se)

			failed = true
		}

		e.mu.Lock()
		again := e.rerun
		e.mu.Unlock()

		if !(again || failed) || e.state.WorkOffline() {
			return nil
		}
	}
}

func (e *Engine) cycle(ctx context.Context) error {
	noteChanges, keyChanges, err := e.pull(ctx, true)
	if err != nil {
		return err
	}

	if keyChanges {
		if err = e.keys.LoadAllKeys(); err != nil {
			return err
		}
	}

	pushed, err := e.push(ctx)
	if err != nil {
		return err
	}

	if pushed {
		if _, keyChanges, err = e.pull(ctx, true); err != nil {
			return err
		}

		if keyChanges {
			if err = e.keys.LoadAllKeys(); err != nil {
				return err
			}
		}
	}

	if e.CheckConsistency && (noteChanges || pushed) {
		report, err := e.DetectConsistencyIssues()
		if err != nil {
			return err
		}

		if report.HasIssues() {
			e.log.Warnf("cycle | %d notes without parent, %d notes with several parents", len(report.Orphans), len(report.MultipleParents))

			if e.OnInconsistency != nil {
				e.OnInconsistency(report)
			}
		}
	}

	return nil
}

// QueueSync starts a sync in the background, performing the initial sync
// first when it has not happened yet.
func (e *Engine) QueueSync() {
	if !e.state.CanSync() || e.client == nil {
		e.log.Debugf("QueueSync | ignored, cannot sync")

		return
	}

	initialized := e.Initialized()

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		if !initialized {
			if err := e.InitialSync(e.ctx); err != nil {
				e.log.Warnf("QueueSync | initial sync: %s", err)

				return
			}
		}

		if err := e.Sync(e.ctx); err != nil {
			e.log.Warnf("QueueSync | %s", err)
		}
	}()
}

// WaitForSync blocks until the running cycle finishes or timeout elapses. It
// never starts a cycle. A zero timeout waits without limit. The result is
// false when the account cannot sync, the cycle failed or the wait timed out.
func (e *Engine) WaitForSync(timeout time.Duration) bool {
	if !e.Initialized() || !e.state.IsOnline() || e.state.AccountType() != session.AccountCloud {
		return false
	}

	e.mu.Lock()
	if !e.inProgress {
		e.mu.Unlock()

		return true
	}

	ch := make(chan bool, 1)
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	var expired <-chan time.Time

	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()

		expired = t.C
	}

	select {
	case ok := <-ch:
		return ok
	case <-expired:
		e.removeWaiter(ch)

		return false
	}
}

func (e *Engine) removeWaiter(ch chan bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, w := range e.waiters {
		if w == ch {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)

			return
		}
	}
}
