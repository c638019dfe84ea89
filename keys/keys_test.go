package keys

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/session"
	"github.com/innonova/mimiri-client-sub002/store"
	"github.com/stretchr/testify/require"
)

const testSignatureAlgorithm = "RSA;1024"

func newTestManager(t *testing.T) (*Manager, *store.Store, *session.State) {
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

	m := NewManager(db, st, false)
	m.SignatureAlgorithm = testSignatureAlgorithm
	require.NoError(t, m.EnsureLocalCrypt())

	return m, db, st
}

func TestEnsureLocalCryptIdempotent(t *testing.T) {
	t.Parallel()

	m, db, st := newTestManager(t)
	first := m.LocalCrypt()
	require.NotNil(t, first)

	ld, err := db.GetLocalData()
	require.NoError(t, err)
	require.NotNil(t, ld)

	again := NewManager(db, st, false)
	require.NoError(t, again.EnsureLocalCrypt())
	require.Equal(t, first.Key(), again.LocalCrypt().Key())

	noRoot := NewManager(db, session.NewState(), false)
	require.ErrorIs(t, noRoot.EnsureLocalCrypt(), ErrNoRootKey)
}

func TestCreateKeyIsLocalUntilPushed(t *testing.T) {
	t.Parallel()

	m, db, st := newTestManager(t)

	ks, err := m.CreateKey("key-1", store.KeyMetadata{Shared: true})
	require.NoError(t, err)
	require.Equal(t, "key-1", ks.ID)
	require.NotEmpty(t, ks.Name)
	require.True(t, ks.Metadata.Shared)

	local, err := db.GetLocalKey("key-1")
	require.NoError(t, err)
	require.NotNil(t, local)
	require.Equal(t, "user-1", local.UserID)
	require.Zero(t, local.Sync)

	remote, err := db.GetKey("key-1")
	require.NoError(t, err)
	require.Nil(t, remote)

	// the record is sealed under the local key, not the root key
	_, err = st.RootCrypt().DecryptBytes(local.KeyData)
	require.Error(t, err)

	require.Same(t, ks, m.GetKeyByName(ks.Name))
	require.Same(t, ks, m.GetKeyByID("key-1"))
}

func TestLoadAllKeysSkipsBrokenRecords(t *testing.T) {
	t.Parallel()

	m, db, _ := newTestManager(t)

	good, err := m.CreateKey("key-1", store.KeyMetadata{})
	require.NoError(t, err)

	broken := &store.KeyData{
		ID:                  "key-2",
		Name:                "name-2",
		Algorithm:           crypto.DefaultSymmetricAlgorithm,
		KeyData:             "001:00:AAAA",
		AsymmetricAlgorithm: testSignatureAlgorithm,
		PublicKey:           "pub",
		PrivateKey:          "priv",
		Metadata:            "meta",
	}
	require.NoError(t, db.SetKey(broken))

	m.ClearKeys()
	require.Empty(t, m.Keys())

	require.NoError(t, m.LoadAllKeys())
	require.Len(t, m.Keys(), 1)
	require.Equal(t, good.Name, m.GetKeyByID("key-1").Name)
	require.Nil(t, m.GetKeyByID("key-2"))
}

func TestDeleteKey(t *testing.T) {
	t.Parallel()

	m, db, _ := newTestManager(t)

	_, err := m.CreateKey("key-1", store.KeyMetadata{})
	require.NoError(t, err)
	require.NoError(t, m.DeleteKey("key-1"))
	require.Nil(t, m.GetKeyByID("key-1"))

	deleted, err := db.GetAllDeletedKeys()
	require.NoError(t, err)
	require.Empty(t, deleted)

	shared := shareKeyFrom(t, m, "key-2")
	_, err = m.CreateKeyFromNoteShare("key-3", shared, store.KeyMetadata{Shared: true}, nil)
	require.NoError(t, err)
	require.NoError(t, m.DeleteKey("key-3"))

	deleted, err = db.GetAllDeletedKeys()
	require.NoError(t, err)
	require.Equal(t, []string{"key-3"}, deleted)

	require.NoError(t, m.LoadAllKeys())
	require.Nil(t, m.GetKeyByID("key-3"))
}

func shareKeyFrom(t *testing.T, m *Manager, id string) ShareKey {
	t.Helper()

	ks, err := m.CreateKey(id, store.KeyMetadata{})
	require.NoError(t, err)

	sk, err := m.ExportShareKey(ks.Name)
	require.NoError(t, err)

	return sk
}

func TestCreateKeyFromNoteShare(t *testing.T) {
	t.Parallel()

	sender, _, _ := newTestManager(t)
	share := shareKeyFrom(t, sender, "key-s")

	m, db, st := newTestManager(t)

	_, err := m.CreateKeyFromNoteShare("key-r", share, store.KeyMetadata{Shared: true}, func(store.KeyData) error {
		return errors.New("offline")
	})
	require.Error(t, err)
	require.Nil(t, m.GetKeyByName(share.KeyName))

	var published store.KeyData

	ks, err := m.CreateKeyFromNoteShare("key-r", share, store.KeyMetadata{Shared: true}, func(kd store.KeyData) error {
		published = kd

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, share.KeyName, ks.Name)
	require.Equal(t, "key-r", published.ID)

	remote, err := db.GetKey("key-r")
	require.NoError(t, err)
	require.NotNil(t, remote)

	_, err = st.RootCrypt().DecryptBytes(remote.KeyData)
	require.NoError(t, err)

	// both sides hold the same symmetric key
	ct, err := sender.KeyCrypt(share.KeyName).Encrypt("shared text", false)
	require.NoError(t, err)

	pt, err := m.KeyCrypt(share.KeyName).Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, "shared text", pt)
}

func TestExportKeyDataRewrapsUnderRoot(t *testing.T) {
	t.Parallel()

	m, db, st := newTestManager(t)

	_, err := m.CreateKey("key-1", store.KeyMetadata{Root: true})
	require.NoError(t, err)

	local, err := db.GetLocalKey("key-1")
	require.NoError(t, err)

	data, err := m.ExportKeyData(*local)
	require.NoError(t, err)
	require.Contains(t, data, `"id":"key-1"`)

	var kd store.KeyData
	require.NoError(t, json.Unmarshal([]byte(data), &kd))

	ks, err := unwrapKey(kd, st.RootCrypt())
	require.NoError(t, err)
	require.True(t, ks.Metadata.Root)
}

func TestTryDecryptFallbacks(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)

	data, err := m.EncryptLocal(`{"title":"shopping","notes":["a"]}`)
	require.NoError(t, err)

	tests := []struct {
		name     string
		itemType string
		data     string
		crypt    *crypto.Symmetric
		want     string
	}{
		{name: "valid", itemType: common.NoteItemTypeMetadata, data: data, crypt: m.LocalCrypt(), want: `{"title":"shopping","notes":["a"]}`},
		{name: "metadata without key", itemType: common.NoteItemTypeMetadata, data: data, want: missingMetadata},
		{name: "corrupt metadata", itemType: common.NoteItemTypeMetadata, data: "001:zz", crypt: m.LocalCrypt(), want: missingMetadata},
		{name: "corrupt text", itemType: common.NoteItemTypeText, data: "001:zz", crypt: m.LocalCrypt(), want: emptyObject},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.want, m.TryDecryptNoteItemText(tt.itemType, tt.data, tt.crypt))
		})
	}

	obj := m.TryDecryptNoteItemObject(common.NoteItemTypeMetadata, "broken", m.LocalCrypt())
	require.Equal(t, "[MISSING]", obj["title"])
	require.Equal(t, []interface{}{}, obj["notes"])
}

func TestReencryptBetweenKeys(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)

	ks, err := m.CreateKey("key-1", store.KeyMetadata{})
	require.NoError(t, err)

	remoteData, err := ks.Symmetric.Encrypt(`{"text":"hello"}`, false)
	require.NoError(t, err)

	item := store.NoteItemData{Type: common.NoteItemTypeText, Data: remoteData, Version: 3}

	local, err := m.TryReencryptNoteItemDataToLocal(item, ks.Name)
	require.NoError(t, err)
	require.Equal(t, int64(3), local.Version)
	require.Equal(t, `{"text":"hello"}`, m.TryDecryptNoteItemText(local.Type, local.Data, m.LocalCrypt()))

	back, err := m.TryReencryptNoteItemDataFromLocal(local, ks.Name)
	require.NoError(t, err)
	require.Equal(t, `{"text":"hello"}`, m.TryDecryptNoteItemText(back.Type, back.Data, ks.Symmetric))

	_, err = m.TryReencryptNoteItemDataFromLocal(local, "unknown")
	require.ErrorIs(t, err, ErrKeyNotFound)

	// an unknown source key degrades to the placeholder
	missing, err := m.TryReencryptNoteItemDataToLocal(item, "unknown")
	require.NoError(t, err)
	require.Equal(t, emptyObject, m.TryDecryptNoteItemText(missing.Type, missing.Data, m.LocalCrypt()))
}

func TestReencryptLocalCrypt(t *testing.T) {
	t.Parallel()

	m, db, st := newTestManager(t)

	newRoot, err := crypto.NewSymmetric(crypto.DefaultSymmetricAlgorithm)
	require.NoError(t, err)
	require.NoError(t, m.ReencryptLocalCrypt(newRoot))

	st.SetRootCrypt(newRoot)

	again := NewManager(db, st, false)
	require.NoError(t, again.EnsureLocalCrypt())
	require.Equal(t, m.LocalCrypt().Key(), again.LocalCrypt().Key())
}

func TestDeDupeByID(t *testing.T) {
	t.Parallel()

	in := []*KeySet{{ID: "a", Name: "1"}, {ID: "b"}, {ID: "a", Name: "2"}}
	out := DeDupeByID(in)
	require.Len(t, out, 2)
	require.Equal(t, "1", out[0].Name)
}
