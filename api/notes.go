package api

import (
	"context"
	"fmt"

	"github.com/innonova/mimiri-client-sub002/common"
)

// GetChangesSince pulls note and key deltas after the given watermark.
func (c *Client) GetChangesSince(ctx context.Context, noteSince, keySince int64) (*SyncResponse, error) {
	basic, err := c.basic()
	if err != nil {
		return nil, err
	}

	req := &SyncRequest{BasicRequest: basic, NoteSince: noteSince, KeySince: keySince}
	if err = c.signUser(req); err != nil {
		return nil, err
	}

	var out SyncResponse
	if err = c.post(ctx, common.ChangesSincePath, req, &out); err != nil {
		return nil, fmt.Errorf("GetChangesSince | %w", err)
	}

	return &out, nil
}

func (c *Client) PushChanges(ctx context.Context, notes []NoteSyncAction, keys []KeySyncAction, syncID string) (*SyncPushResponse, error) {
	basic, err := c.basic()
	if err != nil {
		return nil, err
	}

	if notes == nil {
		notes = []NoteSyncAction{}
	}

	if keys == nil {
		keys = []KeySyncAction{}
	}

	req := &SyncPushRequest{BasicRequest: basic, Notes: notes, Keys: keys, SyncID: syncID}
	if err = c.signUser(req); err != nil {
		return nil, err
	}

	var out SyncPushResponse
	if err = c.post(ctx, common.PushChangesPath, req, &out); err != nil {
		return nil, fmt.Errorf("PushChanges | %w", err)
	}

	return &out, nil
}

// MultiAction sends the actions as one request signed by the account and by
// every distinct key the actions touch.
func (c *Client) MultiAction(ctx context.Context, actions []NoteAction, signer KeySigner) (*UpdateNoteResponse, error) {
	basic, err := c.basic()
	if err != nil {
		return nil, err
	}

	req := &MultiNoteRequest{BasicRequest: basic, Actions: actions}
	if err = c.signUser(req); err != nil {
		return nil, err
	}

	signed := map[string]bool{}

	for _, action := range actions {
		for _, name := range []string{action.KeyName, action.OldKeyName} {
			if name == "" || signed[name] {
				continue
			}

			sig := signer.KeySignature(name)
			if sig == nil {
				return nil, fmt.Errorf("MultiAction | %w: %s", ErrMissingKeySigner, name)
			}

			if err = sig.Sign(name, req); err != nil {
				return nil, fmt.Errorf("MultiAction | %w", err)
			}

			signed[name] = true
		}
	}

	var out UpdateNoteResponse
	if err = c.post(ctx, common.MultiNotePath, req, &out); err != nil {
		return nil, fmt.Errorf("MultiAction | %w", err)
	}

	if !out.Success {
		return &out, &VersionConflictError{Conflicts: out.Conflicts}
	}

	return &out, nil
}

// ReadNote fetches a single note with all of its items.
func (c *Client) ReadNote(ctx context.Context, id string) (*ReadNoteResponse, error) {
	basic, err := c.basic()
	if err != nil {
		return nil, err
	}

	req := &ReadNoteRequest{BasicRequest: basic, ID: id, Include: "*"}
	if err = c.signUser(req); err != nil {
		return nil, err
	}

	var out ReadNoteResponse
	if err = c.post(ctx, common.ReadNotePath, req, &out); err != nil {
		return nil, fmt.Errorf("ReadNote | %w", err)
	}

	return &out, nil
}

// CreateKey publishes a root-wrapped key record.
func (c *Client) CreateKey(ctx context.Context, key CreateKeyRequest) error {
	basic, err := c.basic()
	if err != nil {
		return err
	}

	key.BasicRequest = basic
	if err = c.signUser(&key); err != nil {
		return err
	}

	if err = c.post(ctx, common.KeyCreatePath, &key, nil); err != nil {
		return fmt.Errorf("CreateKey | %w", err)
	}

	return nil
}
