package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransactionCommit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, "alice")
	require.NoError(t, s.SetNote(testNote("remote")))
	require.NoError(t, s.SetLocalNote(testNote("gone")))

	tx, err := s.BeginTransaction()
	require.NoError(t, err)

	require.NoError(t, tx.SetLocalNote(testNote("a")))
	require.NoError(t, tx.DeleteLocalNote("gone"))
	require.NoError(t, tx.DeleteRemoteNote("remote"))
	require.Equal(t, 3, tx.Len())

	// queued writes are visible through the transaction only
	n, err := tx.GetLocalNote("a")
	require.NoError(t, err)
	require.NotNil(t, n)

	n, err = tx.GetLocalNote("gone")
	require.NoError(t, err)
	require.Nil(t, n)

	n, err = s.GetLocalNote("a")
	require.NoError(t, err)
	require.Nil(t, n)

	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Commit(), ErrTransactionDone)

	n, err = s.GetLocalNote("a")
	require.NoError(t, err)
	require.NotNil(t, n)

	n, err = s.GetLocalNote("gone")
	require.NoError(t, err)
	require.Nil(t, n)

	deleted, err := s.IsNoteDeleted("remote")
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestTransactionRollback(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, "alice")

	tx, err := s.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.SetLocalNote(testNote("a")))
	tx.Rollback()

	require.ErrorIs(t, tx.SetLocalNote(testNote("b")), ErrTransactionDone)
	require.ErrorIs(t, tx.Commit(), ErrTransactionDone)

	all, err := s.GetAllLocalNotes()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestTransactionCopiesQueuedNotes(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, "alice")

	tx, err := s.BeginTransaction()
	require.NoError(t, err)

	n := testNote("a")
	require.NoError(t, tx.SetLocalNote(n))
	n.Items[0].Data = "changed after queueing"

	require.NoError(t, tx.Commit())

	got, err := s.GetLocalNote("a")
	require.NoError(t, err)
	require.Equal(t, "001:00:AAAA", got.Items[0].Data)
}

func TestTransactionRejectsInvalidNote(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, "alice")

	tx, err := s.BeginTransaction()
	require.NoError(t, err)
	require.Error(t, tx.SetLocalNote(&NoteData{ID: "bad"}))
	require.Equal(t, 0, tx.Len())
}

func TestSyncLockExclusive(t *testing.T) {
	t.Parallel()

	l := NewSyncLock(false)

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = l.WithLock("writeNote", Exclusive, func() error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()

				return nil
			})
		}()
	}

	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestSyncLockShared(t *testing.T) {
	t.Parallel()

	l := NewSyncLock(false)
	inside := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = l.WithLock("readNote", Shared, func() error {
			close(inside)
			<-release
			return nil
		})
	}()

	<-inside

	// a second shared holder does not wait for the first
	require.NoError(t, l.WithLock("readNote", Shared, func() error { return nil }))
	close(release)

	require.NoError(t, l.WithLock("writeNote", Exclusive, func() error { return nil }))
	require.Equal(t, "exclusive", Exclusive.String())
	require.Equal(t, "shared", Shared.String())
}
