package notes

import (
	"context"
	"fmt"

	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/keys"
	"github.com/innonova/mimiri-client-sub002/store"
)

func (s *Service) noteCrypt(keyName string) (*crypto.Symmetric, error) {
	crypt := s.keys.KeyCrypt(keyName)
	if crypt == nil {
		return nil, fmt.Errorf("%w: %s", keys.ErrKeyNotFound, keyName)
	}

	return crypt, nil
}

func actionItem(item NoteItem, version int64, crypt *crypto.Symmetric) (api.NoteActionItem, error) {
	data, err := sealItem(item, crypt)
	if err != nil {
		return api.NoteActionItem{}, err
	}

	return api.NoteActionItem{Version: version, Type: item.Type, Data: data}, nil
}

// CreateCreateAction seals every item of a new note under its key.
func (s *Service) CreateCreateAction(note *Note) (api.NoteAction, error) {
	crypt, err := s.noteCrypt(note.KeyName)
	if err != nil {
		return api.NoteAction{}, fmt.Errorf("CreateCreateAction | %w", err)
	}

	action := api.NoteAction{Type: api.ActionCreate, ID: note.ID, KeyName: note.KeyName, Items: []api.NoteActionItem{}}

	for _, item := range note.Items {
		ai, err := actionItem(item, 0, crypt)
		if err != nil {
			return api.NoteAction{}, fmt.Errorf("CreateCreateAction | %w", err)
		}

		action.Items = append(action.Items, ai)
	}

	return action, nil
}

// CreateUpdateAction seals the changed items only, at the version they were
// read with.
func (s *Service) CreateUpdateAction(note *Note) (api.NoteAction, error) {
	crypt, err := s.noteCrypt(note.KeyName)
	if err != nil {
		return api.NoteAction{}, fmt.Errorf("CreateUpdateAction | %w", err)
	}

	action := api.NoteAction{Type: api.ActionUpdate, ID: note.ID, KeyName: note.KeyName, Items: []api.NoteActionItem{}}

	for _, item := range note.Items {
		if !item.Changed {
			continue
		}

		ai, err := actionItem(item, item.Version, crypt)
		if err != nil {
			return api.NoteAction{}, fmt.Errorf("CreateUpdateAction | %w", err)
		}

		action.Items = append(action.Items, ai)
	}

	return action, nil
}

func (s *Service) CreateDeleteAction(note *Note) api.NoteAction {
	return api.NoteAction{Type: api.ActionDelete, ID: note.ID, KeyName: note.KeyName, Items: []api.NoteActionItem{}}
}

// CreateChangeKeyAction moves a note to newKeyName by resealing every item
// under the new key.
func (s *Service) CreateChangeKeyAction(ctx context.Context, noteID, newKeyName string) (api.NoteAction, error) {
	note, err := s.ReadNote(ctx, noteID)
	if err != nil {
		return api.NoteAction{}, fmt.Errorf("CreateChangeKeyAction | %w", err)
	}

	if note == nil {
		return api.NoteAction{}, fmt.Errorf("CreateChangeKeyAction | %w: %s", ErrNoteNotFound, noteID)
	}

	crypt, err := s.noteCrypt(newKeyName)
	if err != nil {
		return api.NoteAction{}, fmt.Errorf("CreateChangeKeyAction | %w", err)
	}

	action := api.NoteAction{
		Type:       api.ActionUpdate,
		ID:         note.ID,
		KeyName:    newKeyName,
		OldKeyName: note.KeyName,
		Items:      []api.NoteActionItem{},
	}

	for _, item := range note.Items {
		ai, err := actionItem(item, item.Version, crypt)
		if err != nil {
			return api.NoteAction{}, fmt.Errorf("CreateChangeKeyAction | %w", err)
		}

		action.Items = append(action.Items, ai)
	}

	return action, nil
}

// MultiAction applies the actions to the local partitions in one transaction.
// It returns the ids of the notes written.
func (s *Service) MultiAction(actions []api.NoteAction) ([]string, error) {
	return s.multiAction(actions, false)
}

// ApplyAcknowledged applies actions the server has already accepted. Item
// versions follow the server's increments and quota deltas are left alone.
func (s *Service) ApplyAcknowledged(actions []api.NoteAction) ([]string, error) {
	return s.multiAction(actions, true)
}

func (s *Service) toLocal(item store.NoteItemData, keyName string) (store.NoteItemData, error) {
	return s.keys.TryReencryptNoteItemDataToLocal(item, keyName)
}

func (s *Service) multiAction(actions []api.NoteAction, acknowledged bool) ([]string, error) {
	if !s.state.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}

	var (
		updated               []string
		sizeDelta, countDelta int64
	)

	bump := func(v int64) int64 {
		if acknowledged {
			return v + 1
		}

		return v
	}

	err := s.db.Lock().WithLock("multiAction", store.Exclusive, func() error {
		tx, err := s.db.BeginTransaction()
		if err != nil {
			return err
		}

		for _, action := range actions {
			if err = s.applyAction(tx, action, bump, &sizeDelta, &countDelta); err != nil {
				tx.Rollback()

				return err
			}

			if action.Type != api.ActionDelete {
				updated = append(updated, action.ID)
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("MultiAction | %w", err)
	}

	if !acknowledged {
		s.addDelta(sizeDelta, countDelta)
	}

	s.notify(updated...)

	return updated, nil
}

func (s *Service) applyAction(tx *store.Transaction, action api.NoteAction, bump func(int64) int64, sizeDelta, countDelta *int64) error {
	local, err := tx.GetLocalNote(action.ID)
	if err != nil {
		return err
	}

	remote, err := tx.GetNote(action.ID)
	if err != nil {
		return err
	}

	previous := local
	if previous == nil {
		previous = remote
	}

	now := common.Now()

	switch action.Type {
	case api.ActionCreate:
		nd := &store.NoteData{
			ID:       action.ID,
			KeyName:  action.KeyName,
			Modified: now,
			Created:  now,
		}

		for _, ai := range action.Items {
			item, err := s.toLocal(store.NoteItemData{
				Version:  bump(ai.Version),
				Type:     ai.Type,
				Data:     ai.Data,
				Modified: now,
				Created:  now,
			}, action.KeyName)
			if err != nil {
				return err
			}

			nd.Items = append(nd.Items, item)
		}

		if previous == nil {
			*countDelta++
		}

		*sizeDelta += nd.Size() - previous.Size()

		return tx.SetLocalNote(nd)
	case api.ActionUpdate:
		if previous == nil {
			return fmt.Errorf("%w: %s", ErrNoteNotFound, action.ID)
		}

		nd := previous.Clone()
		if local == nil {
			nd.Base = remote.Clone()
			nd.Base.Base = nil
		}

		nd.KeyName = action.KeyName
		nd.Modified = now

		for _, ai := range action.Items {
			item, err := s.toLocal(store.NoteItemData{
				Version:  bump(ai.Version),
				Type:     ai.Type,
				Data:     ai.Data,
				Modified: now,
				Created:  now,
			}, action.KeyName)
			if err != nil {
				return err
			}

			if existing := nd.Item(ai.Type); existing != nil {
				existing.Data = item.Data
				existing.Version = item.Version
				existing.Modified = now

				continue
			}

			nd.Items = append(nd.Items, item)
		}

		// mirror items the action left untouched are still sealed under the old key
		if local == nil {
			for i := range nd.Items {
				if hasActionItem(action, nd.Items[i].Type) {
					continue
				}

				item, err := s.toLocal(nd.Items[i], remote.KeyName)
				if err != nil {
					return err
				}

				nd.Items[i] = item
			}
		}

		*sizeDelta += nd.Size() - previous.Size()

		return tx.SetLocalNote(nd)
	case api.ActionDelete:
		if local != nil {
			if err = tx.DeleteLocalNote(action.ID); err != nil {
				return err
			}
		}

		if remote != nil {
			if err = tx.DeleteRemoteNote(action.ID); err != nil {
				return err
			}
		}

		if previous != nil {
			*sizeDelta -= previous.Size()
			*countDelta--
		}

		return nil
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func hasActionItem(action api.NoteAction, itemType string) bool {
	for _, ai := range action.Items {
		if ai.Type == itemType {
			return true
		}
	}

	return false
}
