package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/keys"
	"github.com/innonova/mimiri-client-sub002/logging"
	"github.com/innonova/mimiri-client-sub002/session"
	"github.com/innonova/mimiri-client-sub002/store"
)

var (
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrNoteNotFound = errors.New("note not found")
)

// Service converts between plaintext notes and their encrypted records. All
// writes land in the local partition sealed under the device local key.
type Service struct {
	// OnNoteUpdated is called after a note has been written locally.
	OnNoteUpdated func(id string)

	db     *store.Store
	keys   *keys.Manager
	state  *session.State
	local  *session.LocalStateManager
	client *api.Client
	log    logging.Logger
}

func NewService(db *store.Store, km *keys.Manager, state *session.State, local *session.LocalStateManager, client *api.Client, debug bool) *Service {
	return &Service{
		db:     db,
		keys:   km,
		state:  state,
		local:  local,
		client: client,
		log:    logging.New(debug, "notes"),
	}
}

func (s *Service) notify(ids ...string) {
	if s.OnNoteUpdated == nil {
		return
	}

	for _, id := range ids {
		s.OnNoteUpdated(id)
	}
}

// addDelta records unpushed quota changes and persists them.
func (s *Service) addDelta(size, count int64) {
	if size == 0 && count == 0 {
		return
	}

	s.state.AddLocalDelta(size, count)

	if s.local == nil {
		return
	}

	if err := s.local.UpdateLocalSizeData(); err != nil {
		s.log.Warnf("addDelta | %s", err)
	}
}

func sealItem(item NoteItem, crypt *crypto.Symmetric) (string, error) {
	data := item.Data
	if data == nil {
		data = map[string]interface{}{}
	}

	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return crypt.Encrypt(string(b), false)
}

// WriteNote stores the note in the local partition. The first local write
// keeps the current mirror copy as the base for later comparison.
func (s *Service) WriteNote(note *Note) error {
	if !s.state.IsLoggedIn() {
		return ErrNotLoggedIn
	}

	local := s.keys.LocalCrypt()
	if local == nil {
		return fmt.Errorf("WriteNote | %w", keys.ErrNoLocalKey)
	}

	now := common.Now()

	nd := &store.NoteData{
		ID:       note.ID,
		KeyName:  note.KeyName,
		Modified: now,
		Created:  note.Created,
		Sync:     note.Sync,
	}

	if nd.Created == "" {
		nd.Created = now
	}

	for _, item := range note.Items {
		data, err := sealItem(item, local)
		if err != nil {
			return fmt.Errorf("WriteNote | %w", err)
		}

		modified := item.Modified
		if item.Changed || modified == "" {
			modified = now
		}

		created := item.Created
		if created == "" {
			created = now
		}

		nd.Items = append(nd.Items, store.NoteItemData{
			Version:  item.Version,
			Type:     item.Type,
			Data:     data,
			Modified: modified,
			Created:  created,
		})
	}

	var sizeDelta, countDelta int64

	err := s.db.Lock().WithLock("writeNote", store.Exclusive, func() error {
		existing, err := s.db.GetLocalNote(note.ID)
		if err != nil {
			return err
		}

		remote, err := s.db.GetNote(note.ID)
		if err != nil {
			return err
		}

		previous := existing
		if existing != nil {
			nd.Base = existing.Base
		} else {
			previous = remote
			if remote != nil {
				nd.Base = remote.Clone()
				nd.Base.Base = nil
			}
		}

		if previous == nil {
			countDelta = 1
		}

		sizeDelta = nd.Size() - previous.Size()

		return s.db.SetLocalNote(nd)
	})
	if err != nil {
		return fmt.Errorf("WriteNote | %w", err)
	}

	s.addDelta(sizeDelta, countDelta)

	for i := range note.Items {
		note.Items[i].Changed = false
	}

	note.Modified = now

	s.notify(note.ID)

	return nil
}

func (s *Service) decrypt(nd *store.NoteData, crypt *crypto.Symmetric) *Note {
	note := &Note{
		ID:       nd.ID,
		KeyName:  nd.KeyName,
		Modified: nd.Modified,
		Created:  nd.Created,
		Sync:     nd.Sync,
	}

	for _, item := range nd.Items {
		note.Items = append(note.Items, NoteItem{
			Version:  item.Version,
			Type:     item.Type,
			Data:     s.keys.TryDecryptNoteItemObject(item.Type, item.Data, crypt),
			Modified: item.Modified,
			Created:  item.Created,
		})
	}

	return note
}

// ReadNote returns the local copy if there is one, else the mirror copy, else
// the server copy which is then cached. A missing note is nil without error.
func (s *Service) ReadNote(ctx context.Context, id string) (*Note, error) {
	if !s.state.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}

	var local, remote *store.NoteData

	var deleted bool

	err := s.db.Lock().WithLock("readNote", store.Shared, func() (err error) {
		if local, err = s.db.GetLocalNote(id); err != nil || local != nil {
			return
		}

		if deleted, err = s.db.IsNoteDeleted(id); err != nil || deleted {
			return
		}

		remote, err = s.db.GetNote(id)

		return
	})
	if err != nil {
		return nil, fmt.Errorf("ReadNote | %w", err)
	}

	switch {
	case local != nil:
		return s.decrypt(local, s.keys.LocalCrypt()), nil
	case deleted:
		return nil, nil
	case remote != nil:
		return s.decrypt(remote, s.keys.KeyCrypt(remote.KeyName)), nil
	}

	if !s.state.CanSync() || s.client == nil {
		return nil, nil
	}

	resp, err := s.client.ReadNote(ctx, id)
	if err != nil {
		if api.IsStatus(err, http.StatusNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("ReadNote | %w", err)
	}

	remote = &store.NoteData{
		ID:       resp.ID,
		KeyName:  resp.KeyName,
		Items:    resp.Items,
		Modified: resp.Modified,
		Created:  resp.Created,
		Sync:     resp.Sync,
	}

	err = s.db.Lock().WithLock("readNote", store.Exclusive, func() error {
		return s.db.SetNote(remote)
	})
	if err != nil {
		return nil, fmt.Errorf("ReadNote | %w", err)
	}

	s.log.Debugf("ReadNote | cached %s from server", id)

	return s.decrypt(remote, s.keys.KeyCrypt(remote.KeyName)), nil
}
