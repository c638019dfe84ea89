package syncer

import (
	"context"
	"time"
)

// backoff doubles from base on every attempt up to max.
type backoff struct {
	base time.Duration
	max  time.Duration
}

func (b backoff) delay(attempt int) time.Duration {
	d := b.base

	for i := 0; i < attempt && d < b.max; i++ {
		d *= 2
	}

	return min(d, b.max)
}

// wait sleeps for the delay of attempt or until ctx is done.
func (b backoff) wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(b.delay(attempt))
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
