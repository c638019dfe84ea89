package notes

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/keys"
	"github.com/innonova/mimiri-client-sub002/session"
	"github.com/innonova/mimiri-client-sub002/store"
	"github.com/innonova/mimiri-client-sub002/testutil"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *Service
	db    *store.Store
	keys  *keys.Manager
	state *session.State
	key   *keys.KeySet
}

func newFixture(t *testing.T, client *api.Client) *fixture {
	t.Helper()

	db, err := store.New(filepath.Join(t.TempDir(), "db"), true, false)
	require.NoError(t, err)
	require.NoError(t, db.Open("ramea"))

	t.Cleanup(func() {
		_ = db.Close()
	})

	root, err := crypto.NewSymmetric(crypto.DefaultSymmetricAlgorithm)
	require.NoError(t, err)

	st := session.NewState()
	st.SetUserID("user-1")
	st.SetRootCrypt(root)
	st.SetLoggedIn(true)

	km := keys.NewManager(db, st, false)
	km.SignatureAlgorithm = testutil.TestSignatureAlgorithm
	require.NoError(t, km.EnsureLocalCrypt())

	ks, err := km.CreateKey(uuid.New().String(), store.KeyMetadata{Root: true})
	require.NoError(t, err)

	lsm := session.NewLocalStateManager(db, st)
	require.NoError(t, lsm.Login())

	return &fixture{
		svc:   NewService(db, km, st, lsm, client, false),
		db:    db,
		keys:  km,
		state: st,
		key:   ks,
	}
}

func (f *fixture) newNote(title, text string) *Note {
	n := NewNote(uuid.New().String(), f.key.Name)
	n.SetTitle(title)
	n.SetText(text)

	return n
}

// mirror stores the note as if it had been pulled from the server.
func (f *fixture) mirror(t *testing.T, n *Note, version int64) *store.NoteData {
	t.Helper()

	nd := &store.NoteData{ID: n.ID, KeyName: n.KeyName, Created: n.Created, Modified: n.Modified, Sync: 7}

	for _, item := range n.Items {
		data, err := sealItem(item, f.key.Symmetric)
		require.NoError(t, err)

		nd.Items = append(nd.Items, store.NoteItemData{Version: version, Type: item.Type, Data: data})
	}

	require.NoError(t, f.db.SetNote(nd))

	return nd
}

func TestWriteAndReadNote(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	var updated []string
	f.svc.OnNoteUpdated = func(id string) {
		updated = append(updated, id)
	}

	n := f.newNote("Groceries", "milk")
	require.NoError(t, f.svc.WriteNote(n))
	require.Equal(t, []string{n.ID}, updated)
	require.False(t, n.GetItem(common.NoteItemTypeText).Changed)

	local, err := f.db.GetLocalNote(n.ID)
	require.NoError(t, err)
	require.NotNil(t, local)
	require.Nil(t, local.Base)

	stats := f.state.Stats()
	require.Equal(t, local.Size(), stats.LocalSizeDelta)
	require.Equal(t, int64(1), stats.LocalNoteCountDelta)

	read, err := f.svc.ReadNote(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, "Groceries", read.Title())
	require.Equal(t, "milk", read.Text())

	read.SetText("milk and eggs")
	require.NoError(t, f.svc.WriteNote(read))

	local2, err := f.db.GetLocalNote(n.ID)
	require.NoError(t, err)

	stats = f.state.Stats()
	require.Equal(t, local2.Size(), stats.LocalSizeDelta)
	require.Equal(t, int64(1), stats.LocalNoteCountDelta)

	ls, err := f.db.GetLocalState()
	require.NoError(t, err)
	require.Equal(t, stats.LocalSizeDelta, ls.SizeDelta)

	missing, err := f.svc.ReadNote(ctx, uuid.New().String())
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestLocalCopyShadowsMirror(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	n := f.newNote("Plan", "remote text")
	f.mirror(t, n, 3)

	read, err := f.svc.ReadNote(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, "remote text", read.Text())
	require.Equal(t, int64(3), read.GetVersion(common.NoteItemTypeText))

	read.SetText("local text")
	require.NoError(t, f.svc.WriteNote(read))
	require.Zero(t, f.state.Stats().LocalNoteCountDelta)

	local, err := f.db.GetLocalNote(n.ID)
	require.NoError(t, err)
	require.NotNil(t, local.Base)
	require.Equal(t, int64(7), local.Base.Sync)

	// a later pull replaces the mirror, the local copy still wins
	n.SetText("newer remote text")
	f.mirror(t, n, 4)

	read, err = f.svc.ReadNote(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, "local text", read.Text())
	require.Equal(t, int64(3), read.GetVersion(common.NoteItemTypeText))

	// the base is kept from the first dirty write
	read.SetText("local text 2")
	require.NoError(t, f.svc.WriteNote(read))

	local, err = f.db.GetLocalNote(n.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), local.Base.Items[0].Version)
}

func TestReadNoteDegradesWithoutKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	nd := &store.NoteData{
		ID:      uuid.New().String(),
		KeyName: uuid.New().String(),
		Items: []store.NoteItemData{
			{Type: common.NoteItemTypeMetadata, Data: "garbage"},
			{Type: common.NoteItemTypeText, Data: "garbage"},
		},
	}
	require.NoError(t, f.db.SetNote(nd))

	read, err := f.svc.ReadNote(context.Background(), nd.ID)
	require.NoError(t, err)
	require.Equal(t, "[MISSING]", read.Title())
	require.Empty(t, read.ChildIDs())
	require.Empty(t, read.GetItem(common.NoteItemTypeText).Data)
}

func TestReadNoteFetchesFromServer(t *testing.T) {
	t.Parallel()

	s := testutil.NewServer()
	defer s.Close()

	ctx := context.Background()
	client := s.NewClient()

	_, err := s.Register(ctx, client, "ramea", "secret")
	require.NoError(t, err)

	f := newFixture(t, client)
	f.state.SetOnline(true)
	f.state.SetAccountType(session.AccountCloud)

	n := f.newNote("Shared", "from server")
	action, err := f.svc.CreateCreateAction(n)
	require.NoError(t, err)

	_, err = client.MultiAction(ctx, []api.NoteAction{action}, f.keys)
	require.NoError(t, err)

	read, err := f.svc.ReadNote(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, read)
	require.Equal(t, "from server", read.Text())
	require.Equal(t, int64(1), read.GetVersion(common.NoteItemTypeText))

	cached, err := f.db.GetNote(n.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Equal(t, 1, s.Count(common.ReadNotePath))

	missing, err := f.svc.ReadNote(ctx, uuid.New().String())
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestCreateActions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	n := f.newNote("Title", "Body")
	n.Items[0].Version = 2
	n.Items[1].Version = 5

	create, err := f.svc.CreateCreateAction(n)
	require.NoError(t, err)
	require.Equal(t, api.ActionCreate, create.Type)
	require.Len(t, create.Items, 2)

	for _, item := range create.Items {
		require.Zero(t, item.Version)

		_, err = f.key.Symmetric.Decrypt(item.Data)
		require.NoError(t, err)

		_, err = f.keys.LocalCrypt().Decrypt(item.Data)
		require.Error(t, err)
	}

	n.Items[0].Changed = false
	n.Items[1].Changed = true

	update, err := f.svc.CreateUpdateAction(n)
	require.NoError(t, err)
	require.Len(t, update.Items, 1)
	require.Equal(t, common.NoteItemTypeText, update.Items[0].Type)
	require.Equal(t, int64(5), update.Items[0].Version)

	plain, err := f.key.Symmetric.Decrypt(update.Items[0].Data)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(plain), &body))
	require.Equal(t, "Body", body["text"])

	del := f.svc.CreateDeleteAction(n)
	require.Equal(t, api.ActionDelete, del.Type)
	require.Empty(t, del.Items)

	n.KeyName = uuid.New().String()
	_, err = f.svc.CreateCreateAction(n)
	require.ErrorIs(t, err, keys.ErrKeyNotFound)
}

func TestMultiActionMergesAndRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	parent := f.newNote("Parent", "")
	f.mirror(t, parent, 1)

	child := f.newNote("Child", "child text")
	parent.SetChildIDs([]string{child.ID})
	parent.Items[1].Changed = false

	create, err := f.svc.CreateCreateAction(child)
	require.NoError(t, err)

	update, err := f.svc.CreateUpdateAction(parent)
	require.NoError(t, err)
	require.Len(t, update.Items, 1)

	ids, err := f.svc.MultiAction([]api.NoteAction{create, update})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{child.ID, parent.ID}, ids)

	readParent, err := f.svc.ReadNote(ctx, parent.ID)
	require.NoError(t, err)
	require.Equal(t, []string{child.ID}, readParent.ChildIDs())
	require.True(t, readParent.Has(common.NoteItemTypeText))

	readChild, err := f.svc.ReadNote(ctx, child.ID)
	require.NoError(t, err)
	require.Equal(t, "child text", readChild.Text())

	stats := f.state.Stats()
	require.Equal(t, int64(1), stats.LocalNoteCountDelta)

	orphan := f.newNote("Orphan", "")
	orphanCreate, err := f.svc.CreateCreateAction(orphan)
	require.NoError(t, err)

	missing := f.newNote("Missing", "")
	missingUpdate, err := f.svc.CreateUpdateAction(missing)
	require.NoError(t, err)

	_, err = f.svc.MultiAction([]api.NoteAction{orphanCreate, missingUpdate})
	require.ErrorIs(t, err, ErrNoteNotFound)

	gone, err := f.db.GetLocalNote(orphan.ID)
	require.NoError(t, err)
	require.Nil(t, gone)
	require.Equal(t, stats, f.state.Stats())
}

func TestChangeKeyAction(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	n := f.newNote("Moving", "secret body")
	f.mirror(t, n, 2)

	target, err := f.keys.CreateKey(uuid.New().String(), store.KeyMetadata{Shared: true})
	require.NoError(t, err)

	action, err := f.svc.CreateChangeKeyAction(ctx, n.ID, target.Name)
	require.NoError(t, err)
	require.Equal(t, api.ActionUpdate, action.Type)
	require.Equal(t, f.key.Name, action.OldKeyName)
	require.Equal(t, target.Name, action.KeyName)
	require.Len(t, action.Items, 2)

	for _, item := range action.Items {
		require.Equal(t, int64(2), item.Version)

		_, err = target.Symmetric.Decrypt(item.Data)
		require.NoError(t, err)

		_, err = f.key.Symmetric.Decrypt(item.Data)
		require.Error(t, err)
	}

	_, err = f.svc.MultiAction([]api.NoteAction{action})
	require.NoError(t, err)

	read, err := f.svc.ReadNote(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, target.Name, read.KeyName)
	require.Equal(t, "secret body", read.Text())

	local, err := f.db.GetLocalNote(n.ID)
	require.NoError(t, err)

	for _, item := range local.Items {
		_, err = f.keys.LocalCrypt().Decrypt(item.Data)
		require.NoError(t, err)

		_, err = f.key.Symmetric.Decrypt(item.Data)
		require.Error(t, err)
	}
}

func TestMultiActionDelete(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	synced := f.newNote("Synced", "x")
	f.mirror(t, synced, 1)

	fresh := f.newNote("Fresh", "y")
	require.NoError(t, f.svc.WriteNote(fresh))

	_, err := f.svc.MultiAction([]api.NoteAction{
		f.svc.CreateDeleteAction(synced),
		f.svc.CreateDeleteAction(fresh),
	})
	require.NoError(t, err)

	deleted, err := f.db.IsNoteDeleted(synced.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	freshDeleted, err := f.db.IsNoteDeleted(fresh.ID)
	require.NoError(t, err)
	require.False(t, freshDeleted)

	for _, id := range []string{synced.ID, fresh.ID} {
		read, err := f.svc.ReadNote(ctx, id)
		require.NoError(t, err)
		require.Nil(t, read)
	}

	require.Equal(t, int64(-1), f.state.Stats().LocalNoteCountDelta)
}

func TestApplyAcknowledgedFollowsServerVersions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	n := f.newNote("Acked", "z")
	action, err := f.svc.CreateCreateAction(n)
	require.NoError(t, err)

	_, err = f.svc.ApplyAcknowledged([]api.NoteAction{action})
	require.NoError(t, err)

	local, err := f.db.GetLocalNote(n.ID)
	require.NoError(t, err)

	for _, item := range local.Items {
		require.Equal(t, int64(1), item.Version)
	}

	require.Zero(t, f.state.Stats().LocalNoteCountDelta)
}

func TestNotLoggedIn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.state.SetLoggedIn(false)

	require.ErrorIs(t, f.svc.WriteNote(f.newNote("a", "b")), ErrNotLoggedIn)

	_, err := f.svc.ReadNote(context.Background(), "x")
	require.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = f.svc.MultiAction(nil)
	require.ErrorIs(t, err, ErrNotLoggedIn)
}
