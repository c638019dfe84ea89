package syncer

import (
	"fmt"
	"sort"

	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/notes"
	"github.com/innonova/mimiri-client-sub002/store"
)

// ConsistencyReport lists tree problems found in the mirrored notes.
type ConsistencyReport struct {
	// Orphans are notes no other note lists as a child.
	Orphans []string
	// MultipleParents maps a child to every note listing it.
	MultipleParents map[string][]string
}

func (r ConsistencyReport) HasIssues() bool {
	return len(r.Orphans) > 0 || len(r.MultipleParents) > 0
}

// DetectConsistencyIssues scans the mirrored notes, skipping tombstoned ones.
// The account's root note is never an orphan.
func (e *Engine) DetectConsistencyIssues() (ConsistencyReport, error) {
	var (
		all     []store.NoteData
		deleted []string
	)

	err := e.db.Lock().WithLock("detectConsistencyIssues", store.Shared, func() (err error) {
		if all, err = e.db.GetAllNotes(); err != nil {
			return err
		}

		deleted, err = e.db.GetAllDeletedNotes()

		return err
	})
	if err != nil {
		return ConsistencyReport{}, fmt.Errorf("DetectConsistencyIssues | %w", err)
	}

	tombstoned := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		tombstoned[id] = true
	}

	parents := map[string][]string{}

	for _, n := range all {
		if tombstoned[n.ID] {
			continue
		}

		metadata := n.Item(common.NoteItemTypeMetadata)
		if metadata == nil {
			continue
		}

		obj := e.keys.TryDecryptNoteItemObject(metadata.Type, metadata.Data, e.keys.KeyCrypt(n.KeyName))
		for _, child := range notes.ChildIDs(obj) {
			parents[child] = append(parents[child], n.ID)
		}
	}

	report := ConsistencyReport{MultipleParents: map[string][]string{}}
	root := e.state.UserData().RootNote

	for _, n := range all {
		if tombstoned[n.ID] || n.ID == root {
			continue
		}

		if len(parents[n.ID]) == 0 {
			report.Orphans = append(report.Orphans, n.ID)
		}
	}

	for child, p := range parents {
		if len(p) > 1 {
			report.MultipleParents[child] = p
		}
	}

	sort.Strings(report.Orphans)

	return report, nil
}
