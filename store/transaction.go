package store

import (
	"errors"
	"fmt"

	"github.com/asdine/storm/v3"
	"github.com/innonova/mimiri-client-sub002/schemas"
)

var ErrTransactionDone = errors.New("transaction already committed or rolled back")

type txOp struct {
	bucket string
	key    string
	value  interface{}
	delete bool
}

// Transaction queues mutations and applies them in one bolt transaction on
// Commit. Reads through the transaction observe queued mutations.
type Transaction struct {
	s       *Store
	ops     []txOp
	pending map[string]txOp
	done    bool
}

func (s *Store) BeginTransaction() (*Transaction, error) {
	if _, err := s.conn(); err != nil {
		return nil, err
	}

	return &Transaction{
		s:       s,
		pending: make(map[string]txOp),
	}, nil
}

func (t *Transaction) queue(op txOp) {
	t.ops = append(t.ops, op)
	t.pending[op.bucket+"/"+op.key] = op
}

func (t *Transaction) getNote(bucket, id string) (*NoteData, error) {
	if op, ok := t.pending[bucket+"/"+NoteKey(id)]; ok {
		if op.delete {
			return nil, nil
		}

		return op.value.(*NoteData).Clone(), nil
	}

	var n NoteData

	ok, err := t.s.get(bucket, NoteKey(id), &n)
	if err != nil || !ok {
		return nil, err
	}

	return &n, nil
}

func (t *Transaction) GetNote(id string) (*NoteData, error) {
	return t.getNote(NoteStore, id)
}

func (t *Transaction) GetLocalNote(id string) (*NoteData, error) {
	return t.getNote(NoteLocalStore, id)
}

func (t *Transaction) SetLocalNote(note *NoteData) error {
	if t.done {
		return ErrTransactionDone
	}

	if err := t.s.check(schemas.NoteData, note); err != nil {
		return err
	}

	t.queue(txOp{bucket: NoteLocalStore, key: NoteKey(note.ID), value: note.Clone()})

	return nil
}

func (t *Transaction) DeleteLocalNote(id string) error {
	if t.done {
		return ErrTransactionDone
	}

	t.queue(txOp{bucket: NoteLocalStore, key: NoteKey(id), delete: true})

	return nil
}

func (t *Transaction) DeleteRemoteNote(id string) error {
	if t.done {
		return ErrTransactionDone
	}

	t.queue(txOp{bucket: NoteDeletedStore, key: NoteKey(id), value: id})

	return nil
}

// Len returns the number of queued mutations.
func (t *Transaction) Len() int {
	return len(t.ops)
}

// Commit applies every queued mutation atomically. On failure nothing is
// applied.
func (t *Transaction) Commit() error {
	if t.done {
		return ErrTransactionDone
	}

	t.done = true

	if len(t.ops) == 0 {
		return nil
	}

	db, err := t.s.conn()
	if err != nil {
		return err
	}

	tx, err := db.Begin(true)
	if err != nil {
		return fmt.Errorf("Commit | %w", err)
	}

	for _, op := range t.ops {
		if op.delete {
			err = tx.Delete(op.bucket, op.key)
			if errors.Is(err, storm.ErrNotFound) {
				err = nil
			}
		} else {
			err = tx.Set(op.bucket, op.key, op.value)
		}

		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("Commit | %s/%s: %w", op.bucket, op.key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("Commit | %w", err)
	}

	t.s.log.Debugf("Commit | applied %d mutations", len(t.ops))

	return nil
}

// Rollback discards the queue.
func (t *Transaction) Rollback() {
	t.done = true
	t.ops = nil
	t.pending = nil
}
