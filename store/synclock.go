package store

import (
	"fmt"
	"sync"

	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/log"
)

type LockType int

const (
	Shared LockType = iota
	Exclusive
)

func (t LockType) String() string {
	if t == Exclusive {
		return "exclusive"
	}

	return "shared"
}

// SyncLock serializes store access. Shared holders run together; an
// exclusive holder runs alone. It is not reentrant.
type SyncLock struct {
	mu    sync.RWMutex
	debug bool
}

func NewSyncLock(debug bool) *SyncLock {
	return &SyncLock{debug: debug}
}

// WithLock runs fn while holding the lock. name identifies the operation in
// debug output.
func (l *SyncLock) WithLock(name string, lt LockType, fn func() error) error {
	if lt == Exclusive {
		l.mu.Lock()
		defer l.mu.Unlock()
	} else {
		l.mu.RLock()
		defer l.mu.RUnlock()
	}

	log.DebugPrint(l.debug, fmt.Sprintf("WithLock | %s acquired %s lock", name, lt), common.MaxDebugChars)

	return fn()
}
