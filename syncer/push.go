package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/keys"
	"github.com/innonova/mimiri-client-sub002/store"
)

var errNoteTooLarge = errors.New("note item exceeds the server limit")

type pushPlan struct {
	notes        []api.NoteSyncAction
	keys         []api.KeySyncAction
	pushedNotes  map[string]store.NoteData
	deletedNotes []string
	deletedKeys  []string
	dropped      []string
}

func (p *pushPlan) empty() bool {
	return len(p.notes) == 0 && len(p.keys) == 0
}

func resultKey(kind, id string) string {
	return kind + ":" + id
}

// sameItems reports whether two records hold the same ciphertext per item.
func sameItems(a, b *store.NoteData) bool {
	if len(a.Items) != len(b.Items) {
		return false
	}

	for _, item := range a.Items {
		other := b.Item(item.Type)
		if other == nil || other.Data != item.Data {
			return false
		}
	}

	return true
}

func (e *Engine) withinQuota() (Status, bool) {
	stats := e.state.Stats()

	if stats.MaxTotalBytes > 0 && stats.Size+stats.LocalSizeDelta > stats.MaxTotalBytes {
		return StatusTotalSizeLimitExceeded, false
	}

	if stats.MaxNoteCount > 0 && stats.NoteCount+stats.LocalNoteCountDelta > stats.MaxNoteCount {
		return StatusCountLimitExceeded, false
	}

	return "", true
}

func (e *Engine) checkItemSize(data string) error {
	if limit := e.state.Stats().MaxNoteBytes; limit > 0 && int64(len(data)) > limit {
		return errNoteTooLarge
	}

	return nil
}

// keyTarget picks the key a dirty note is pushed under when the local and
// remote key names differ. The side that still holds the base key did not
// change it, so the note follows the other side. Every item is then resealed
// under the target so no item is left under the old key.
func keyTarget(local, remote *store.NoteData) (string, bool) {
	if remote.KeyName == local.KeyName {
		return local.KeyName, false
	}

	if local.Base != nil && local.Base.KeyName == local.KeyName {
		return remote.KeyName, true
	}

	return local.KeyName, true
}

// noteAction returns the action that brings the server in line with a dirty
// note, or nil when nothing is left to send. Items are compared by
// plaintext since every write reseals them. An item that still equals its
// base was not edited on this device: when the server has moved it to a new
// version the remote item replaces it in local, and adopted reports that
// local was changed and must be written back.
func (e *Engine) noteAction(local, remote *store.NoteData) (action *api.NoteSyncAction, adopted bool, err error) {
	if remote == nil {
		if local.Base != nil {
			e.log.Debugf("noteAction | restoring remotely deleted note %s", local.ID)
		}

		action = &api.NoteSyncAction{ID: local.ID, KeyName: local.KeyName, Type: api.ActionCreate, Items: []api.NoteActionItem{}}

		for _, item := range local.Items {
			sealed, err := e.keys.TryReencryptNoteItemDataFromLocal(item, local.KeyName)
			if err != nil {
				return nil, false, err
			}

			if err = e.checkItemSize(sealed.Data); err != nil {
				return nil, false, err
			}

			action.Items = append(action.Items, api.NoteActionItem{Version: 0, Type: item.Type, Data: sealed.Data})
		}

		return action, false, nil
	}

	target, switchKey := keyTarget(local, remote)
	if switchKey {
		e.log.Debugf("noteAction | note %s moves from key %s to %s", local.ID, remote.KeyName, target)
	}

	crypt := e.keys.KeyCrypt(target)
	if crypt == nil {
		return nil, false, fmt.Errorf("%w: %s", keys.ErrKeyNotFound, target)
	}

	localCrypt := e.keys.LocalCrypt()
	if localCrypt == nil {
		return nil, false, keys.ErrNoLocalKey
	}

	remoteCrypt := e.keys.KeyCrypt(remote.KeyName)

	base := local.Base

	var baseCrypt *crypto.Symmetric
	if base != nil {
		baseCrypt = e.keys.KeyCrypt(base.KeyName)
	}

	action = &api.NoteSyncAction{ID: local.ID, KeyName: target, Type: api.ActionUpdate, Items: []api.NoteActionItem{}}

	for i := range local.Items {
		item := &local.Items[i]
		text := e.keys.TryDecryptNoteItemText(item.Type, item.Data, localCrypt)
		remoteItem := remote.Item(item.Type)

		var baseItem *store.NoteItemData
		if base != nil {
			baseItem = base.Item(item.Type)
		}

		edited := item.Version == 0 || baseItem == nil ||
			text != e.keys.TryDecryptNoteItemText(baseItem.Type, baseItem.Data, baseCrypt)

		if !edited && remoteItem != nil && remoteItem.Version != baseItem.Version {
			text = e.keys.TryDecryptNoteItemText(remoteItem.Type, remoteItem.Data, remoteCrypt)

			data, err := localCrypt.Encrypt(text, false)
			if err != nil {
				return nil, false, err
			}

			item.Data = data
			item.Version = remoteItem.Version
			item.Modified = remoteItem.Modified

			if base.KeyName == remote.KeyName {
				*baseItem = *remoteItem
			}

			adopted = true
		}

		send := switchKey
		if !send && edited {
			send = remoteItem == nil || text != e.keys.TryDecryptNoteItemText(remoteItem.Type, remoteItem.Data, remoteCrypt)
		}

		if !send {
			continue
		}

		data, err := crypt.Encrypt(text, false)
		if err != nil {
			return nil, false, err
		}

		if err = e.checkItemSize(data); err != nil {
			return nil, false, err
		}

		action.Items = append(action.Items, api.NoteActionItem{Version: item.Version, Type: item.Type, Data: data})
	}

	if len(action.Items) == 0 {
		return nil, adopted, nil
	}

	return action, adopted, nil
}

func (e *Engine) plan() (*pushPlan, error) {
	p := &pushPlan{pushedNotes: map[string]store.NoteData{}}

	localNotes, err := e.db.GetAllLocalNotes()
	if err != nil {
		return nil, err
	}

	for _, local := range localNotes {
		remote, err := e.db.GetNote(local.ID)
		if err != nil {
			return nil, err
		}

		action, adopted, err := e.noteAction(&local, remote)
		if err != nil {
			return nil, fmt.Errorf("note %s: %w", local.ID, err)
		}

		if action == nil {
			p.dropped = append(p.dropped, local.ID)

			continue
		}

		if adopted {
			if err = e.db.SetLocalNote(&local); err != nil {
				return nil, err
			}
		}

		p.notes = append(p.notes, *action)
		p.pushedNotes[local.ID] = local
	}

	localKeys, err := e.db.GetAllLocalKeys()
	if err != nil {
		return nil, err
	}

	for _, kd := range localKeys {
		data, err := e.keys.ExportKeyData(kd)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", kd.ID, err)
		}

		p.keys = append(p.keys, api.KeySyncAction{ID: kd.ID, Name: kd.Name, Type: api.ActionCreate, Data: data})
	}

	if p.deletedNotes, err = e.db.GetAllDeletedNotes(); err != nil {
		return nil, err
	}

	for _, id := range p.deletedNotes {
		p.notes = append(p.notes, api.NoteSyncAction{ID: id, KeyName: uuid.Nil.String(), Type: api.ActionDelete, Items: []api.NoteActionItem{}})
	}

	if p.deletedKeys, err = e.db.GetAllDeletedKeys(); err != nil {
		return nil, err
	}

	for _, id := range p.deletedKeys {
		p.keys = append(p.keys, api.KeySyncAction{ID: id, Name: uuid.Nil.String(), Type: api.ActionDelete})
	}

	return p, nil
}

// push sends every dirty note and key and every tombstone in one request.
// It reports whether a request was sent.
func (e *Engine) push(ctx context.Context) (bool, error) {
	e.setStatus(StatusSendingChanges)

	if status, ok := e.withinQuota(); !ok {
		e.log.Warnf("push | %s", status)
		e.setStatus(status)

		return false, nil
	}

	var p *pushPlan

	err := e.db.Lock().WithLock("syncPush", store.Exclusive, func() (err error) {
		if p, err = e.plan(); err != nil {
			return err
		}

		for _, id := range p.dropped {
			if err = e.db.DeleteLocalNote(id); err != nil {
				return err
			}
		}

		return nil
	})

	switch {
	case errors.Is(err, errNoteTooLarge):
		e.log.Warnf("push | %s", err)
		e.setStatus(StatusNoteSizeLimitExceeded)

		return false, nil
	case err != nil:
		return false, fmt.Errorf("push | %w", err)
	}

	for _, id := range p.dropped {
		e.setConflicts(id, nil)
	}

	if p.empty() {
		if err = e.refreshLocalDelta(); err != nil {
			return false, fmt.Errorf("push | %w", err)
		}

		e.setStatus(StatusIdle)

		return false, nil
	}

	syncID := uuid.New().String()
	e.issueSyncID(syncID)

	resp, err := e.client.PushChanges(ctx, p.notes, p.keys, syncID)
	if err != nil {
		return false, fmt.Errorf("push | %w", err)
	}

	if resp.Status != api.StatusSuccess {
		e.log.Warnf("push | server reported status %q", resp.Status)
		e.setStatus(StatusError)

		return true, nil
	}

	if err = e.apply(p, resp.Results); err != nil {
		return true, fmt.Errorf("push | %w", err)
	}

	if err = e.refreshLocalDelta(); err != nil {
		return true, fmt.Errorf("push | %w", err)
	}

	e.setStatus(StatusIdle)

	return true, nil
}

// apply clears the dirty records and tombstones the server acknowledged. A
// note edited again while the push was in flight stays dirty.
func (e *Engine) apply(p *pushPlan, results []api.SyncResult) error {
	byKey := make(map[string]api.SyncResult, len(results))
	for _, r := range results {
		byKey[resultKey(r.Kind, r.ID)] = r
	}

	acked := func(kind, id string) bool {
		r, ok := byKey[resultKey(kind, id)]

		return ok && r.Success
	}

	conflicts := map[string][]api.VersionConflict{}

	err := e.db.Lock().WithLock("syncPush", store.Exclusive, func() error {
		for id, pushed := range p.pushedNotes {
			if !acked(api.KindNote, id) {
				r := byKey[resultKey(api.KindNote, id)]
				conflicts[id] = r.Conflicts
				e.log.Warnf("apply | note %s not accepted, %d conflicts", id, len(r.Conflicts))

				continue
			}

			conflicts[id] = nil

			current, err := e.db.GetLocalNote(id)
			if err != nil {
				return err
			}

			if current == nil || !sameItems(current, &pushed) {
				continue
			}

			if err = e.db.DeleteLocalNote(id); err != nil {
				return err
			}
		}

		for _, action := range p.keys {
			if action.Type != api.ActionCreate || !acked(api.KindKey, action.ID) {
				continue
			}

			if err := e.db.DeleteLocalKey(action.ID); err != nil {
				return err
			}
		}

		for _, id := range p.deletedNotes {
			if !acked(api.KindNote, id) {
				continue
			}

			if err := e.db.DeleteNote(id); err != nil {
				return err
			}

			if err := e.db.ClearDeleteRemoteNote(id); err != nil {
				return err
			}
		}

		for _, id := range p.deletedKeys {
			if !acked(api.KindKey, id) {
				continue
			}

			if err := e.db.DeleteKey(id); err != nil {
				return err
			}

			if err := e.db.ClearDeleteRemoteKey(id); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	for id, c := range conflicts {
		e.setConflicts(id, c)
	}

	return nil
}

// refreshLocalDelta recomputes the unpushed quota counters from what is
// still dirty.
func (e *Engine) refreshLocalDelta() error {
	var size, count int64

	err := e.db.Lock().WithLock("syncPush", store.Shared, func() error {
		localNotes, err := e.db.GetAllLocalNotes()
		if err != nil {
			return err
		}

		for i := range localNotes {
			remote, err := e.db.GetNote(localNotes[i].ID)
			if err != nil {
				return err
			}

			size += localNotes[i].Size() - remote.Size()

			if remote == nil {
				count++
			}
		}

		deleted, err := e.db.GetAllDeletedNotes()
		if err != nil {
			return err
		}

		for _, id := range deleted {
			remote, err := e.db.GetNote(id)
			if err != nil {
				return err
			}

			if remote != nil {
				size -= remote.Size()
				count--
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	e.state.SetLocalDelta(size, count)

	if e.local != nil {
		return e.local.UpdateLocalSizeData()
	}

	return nil
}
