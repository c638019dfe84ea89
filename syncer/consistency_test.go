package syncer

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/store"
	"github.com/stretchr/testify/require"
)

func TestDetectConsistencyIssues(t *testing.T) {
	t.Parallel()

	s, account := newTestServer(t)
	d := newDevice(t, s, account)
	ks := d.createKey(t)

	mirror := func(id string, title string, children ...string) {
		b, err := json.Marshal(map[string]interface{}{"title": title, "notes": append([]string{}, children...)})
		require.NoError(t, err)

		data, err := ks.Symmetric.Encrypt(string(b), false)
		require.NoError(t, err)

		require.NoError(t, d.db.SetNote(&store.NoteData{
			ID:      id,
			KeyName: ks.Name,
			Sync:    1,
			Items:   []store.NoteItemData{{Version: 1, Type: common.NoteItemTypeMetadata, Data: data}},
		}))
	}

	root := account.UserData.RootNote
	a, b, orphan, gone := uuid.New().String(), uuid.New().String(), uuid.New().String(), uuid.New().String()

	mirror(root, "root", a, b)
	mirror(a, "a", b)
	mirror(b, "b")

	report, err := d.engine.DetectConsistencyIssues()
	require.NoError(t, err)
	require.Empty(t, report.Orphans)
	require.ElementsMatch(t, []string{root, a}, report.MultipleParents[b])
	require.True(t, report.HasIssues())

	mirror(orphan, "orphan")
	mirror(gone, "gone")
	require.NoError(t, d.db.DeleteRemoteNote(gone))

	report, err = d.engine.DetectConsistencyIssues()
	require.NoError(t, err)
	require.Equal(t, []string{orphan}, report.Orphans)
	require.Len(t, report.MultipleParents, 1)

	mirror(a, "a")

	report, err = d.engine.DetectConsistencyIssues()
	require.NoError(t, err)
	require.Empty(t, report.MultipleParents)
	require.Equal(t, []string{orphan}, report.Orphans)
}

func TestCycleReportsInconsistency(t *testing.T) {
	t.Parallel()

	s, account := newTestServer(t)
	d := newDevice(t, s, account)
	ks := d.createKey(t)
	n := d.write(t, ks.Name, "Loose", "not linked from the root")

	var found []ConsistencyReport

	d.engine.CheckConsistency = true
	d.engine.OnInconsistency = func(report ConsistencyReport) {
		found = append(found, report)
	}

	d.sync(t)

	require.Len(t, found, 1)
	require.Equal(t, []string{n.ID}, found[0].Orphans)
}
