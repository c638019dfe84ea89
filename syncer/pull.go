package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/store"
)

func keyRecord(k api.KeyInfo) (*store.KeyData, error) {
	var kd store.KeyData
	if err := json.Unmarshal([]byte(k.Data), &kd); err != nil {
		return nil, fmt.Errorf("key %s: %w", k.ID, err)
	}

	kd.ID = k.ID
	kd.Name = k.Name
	kd.Modified = k.Modified
	kd.Created = k.Created
	kd.Sync = k.Sync

	return &kd, nil
}

// pull applies server changes after the stored watermark until the server
// has nothing newer, persisting the watermark after every round.
func (e *Engine) pull(ctx context.Context, notify bool) (noteChanges, keyChanges bool, err error) {
	e.setStatus(StatusRetrievingChanges)

	last, err := e.db.GetLastSync()
	if err != nil {
		return false, false, fmt.Errorf("pull | %w", err)
	}

	noteSync, keySync := last.NoteSync, last.KeySync

	changes, err := e.client.GetChangesSince(ctx, noteSync, keySync)
	if err != nil {
		return false, false, fmt.Errorf("pull | %w", err)
	}

	stats := changes.Usage.Stats()
	e.state.SetServerStats(stats)

	if err = e.db.SetUserStats(stats); err != nil {
		return false, false, fmt.Errorf("pull | %w", err)
	}

	var updated []string

	for round := 0; round < common.MaxPullRounds; round++ {
		advanced := false

		err = e.db.Lock().WithLock("syncPull", store.Exclusive, func() error {
			for _, k := range changes.Keys {
				if k.Sync > keySync {
					keySync = k.Sync
					advanced = true
				}

				kd, kerr := keyRecord(k)
				if kerr != nil {
					return kerr
				}

				if kerr = e.db.SetKey(kd); kerr != nil {
					return kerr
				}

				keyChanges = true
			}

			for _, id := range changes.DeletedNotes {
				if derr := e.db.DeleteNote(id); derr != nil {
					return derr
				}
			}

			for _, n := range changes.Notes {
				if n.Sync > noteSync {
					noteSync = n.Sync
					advanced = true
				}

				if serr := e.db.SetNote(n.NoteData()); serr != nil {
					return serr
				}

				noteChanges = true

				updated = append(updated, n.ID)
			}

			return nil
		})
		if err != nil {
			return noteChanges, keyChanges, fmt.Errorf("pull | %w", err)
		}

		if !advanced {
			break
		}

		if err = e.db.SetLastSync(noteSync, keySync); err != nil {
			return noteChanges, keyChanges, fmt.Errorf("pull | %w", err)
		}

		if changes, err = e.client.GetChangesSince(ctx, noteSync, keySync); err != nil {
			return noteChanges, keyChanges, fmt.Errorf("pull | %w", err)
		}
	}

	e.log.Debugf("pull | watermark notes %d keys %d, %d notes updated", noteSync, keySync, len(updated))

	if notify && e.OnNoteUpdated != nil {
		for _, id := range updated {
			e.OnNoteUpdated(id)
		}
	}

	e.setStatus(StatusIdle)

	return noteChanges, keyChanges, nil
}
