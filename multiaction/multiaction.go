// Package multiaction bundles note changes into one signed batch that the
// server and the local store apply atomically.
package multiaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/logging"
	"github.com/innonova/mimiri-client-sub002/notes"
	"github.com/innonova/mimiri-client-sub002/session"
)

var ErrNoActions = errors.New("no actions to commit")

// SyncQueuer starts a sync cycle without waiting for it.
type SyncQueuer interface {
	QueueSync()
}

// Batch accumulates note actions until Commit. A Batch is not safe for
// concurrent use.
type Batch struct {
	notes  *notes.Service
	client *api.Client
	signer api.KeySigner
	state  *session.State
	sync   SyncQueuer
	log    logging.Logger

	actions []api.NoteAction
}

// New returns an empty batch. client and sync may be nil for accounts that
// never talk to a server.
func New(svc *notes.Service, client *api.Client, signer api.KeySigner, state *session.State, sync SyncQueuer, debug bool) *Batch {
	return &Batch{
		notes:  svc,
		client: client,
		signer: signer,
		state:  state,
		sync:   sync,
		log:    logging.New(debug, "multiaction"),
	}
}

func (b *Batch) add(action api.NoteAction, err error) error {
	if err != nil {
		return err
	}

	b.actions = append(b.actions, action)

	return nil
}

func (b *Batch) CreateNote(note *notes.Note) error {
	return b.add(b.notes.CreateCreateAction(note))
}

func (b *Batch) UpdateNote(note *notes.Note) error {
	return b.add(b.notes.CreateUpdateAction(note))
}

func (b *Batch) DeleteNote(note *notes.Note) {
	b.actions = append(b.actions, b.notes.CreateDeleteAction(note))
}

func (b *Batch) ChangeNoteKey(ctx context.Context, noteID, newKeyName string) error {
	return b.add(b.notes.CreateChangeKeyAction(ctx, noteID, newKeyName))
}

// Len is the number of accumulated actions.
func (b *Batch) Len() int {
	return len(b.actions)
}

// Commit sends the batch to the server when the account can sync and applies
// it locally. A version conflict is returned as *api.VersionConflictError and
// leaves the local store untouched. When the server cannot be reached the
// batch is applied locally only and reaches the server with the next push.
// A sync is queued after every successful commit.
func (b *Batch) Commit(ctx context.Context) ([]string, error) {
	if len(b.actions) == 0 {
		return nil, ErrNoActions
	}

	ids, err := b.commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("Commit | %w", err)
	}

	b.actions = nil

	if b.sync != nil {
		b.sync.QueueSync()
	}

	return ids, nil
}

func (b *Batch) commit(ctx context.Context) ([]string, error) {
	if b.client == nil || !b.state.CanSync() {
		return b.notes.MultiAction(b.actions)
	}

	resp, err := b.client.MultiAction(ctx, b.actions, b.signer)
	if err == nil {
		b.state.UpdateServerUsage(resp.Size, resp.NoteCount)

		return b.notes.ApplyAcknowledged(b.actions)
	}

	if !api.IsNetworkError(err) {
		var conflict *api.VersionConflictError
		if errors.As(err, &conflict) {
			b.log.Debugf("commit | %d conflicts", len(conflict.Conflicts))
		}

		return nil, err
	}

	b.log.Warnf("commit | server unavailable, applying locally: %s", err)

	return b.notes.MultiAction(b.actions)
}
