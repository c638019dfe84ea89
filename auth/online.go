package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/innonova/mimiri-client-sub002/logging"
	"github.com/matryer/try"
)

const (
	onlineRetryBase = time.Second
	onlineRetryMax  = 30 * time.Second
)

// onlineRetry runs at most one background credential check loop.
type onlineRetry struct {
	// base and limit bound the incremental delay between attempts.
	base  time.Duration
	limit time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopRun context.CancelFunc
}

func (r *onlineRetry) setup() {
	r.base = onlineRetryBase
	r.limit = onlineRetryMax
	r.ctx, r.cancel = context.WithCancel(context.Background())
}

func (r *onlineRetry) delay(attempt int) time.Duration {
	d := time.Duration(attempt) * r.base
	if d > r.limit {
		d = r.limit
	}

	return d
}

// start launches the loop unless one is already running. verify is called
// after each delay until it succeeds, fails with ErrCredentialsRejected, or
// try gives up.
func (r *onlineRetry) start(verify func(ctx context.Context) error, onOnline func(), log logging.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running || r.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.ctx)
	r.running = true
	r.stopRun = cancel

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.running = false
			r.stopRun = nil
			r.mu.Unlock()
			cancel()
		}()

		err := try.Do(func(attempt int) (bool, error) {
			t := time.NewTimer(r.delay(attempt))
			defer t.Stop()

			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-t.C:
			}

			vErr := verify(ctx)
			if vErr != nil {
				log.Debugf("GoOnline | attempt %d: %v", attempt, vErr)
			}

			return vErr != nil && !errors.Is(vErr, ErrCredentialsRejected), vErr
		})

		if err != nil {
			log.Debugf("GoOnline | giving up: %v", err)
			return
		}

		if onOnline != nil {
			onOnline()
		}
	}()
}

// stop cancels a running loop and waits for it to exit.
func (r *onlineRetry) stop() {
	r.mu.Lock()
	if r.stopRun != nil {
		r.stopRun()
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *onlineRetry) close() {
	r.cancel()
	r.wg.Wait()
}
