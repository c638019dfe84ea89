package sharing

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/keys"
	"github.com/innonova/mimiri-client-sub002/multiaction"
	"github.com/innonova/mimiri-client-sub002/notes"
	"github.com/innonova/mimiri-client-sub002/session"
	"github.com/innonova/mimiri-client-sub002/store"
	"github.com/innonova/mimiri-client-sub002/testutil"
	"github.com/stretchr/testify/require"
)

type peer struct {
	client  *api.Client
	state   *session.State
	keys    *keys.Manager
	notes   *notes.Service
	sharing *Service
}

func newPeer(t *testing.T, s *testutil.Server, username string) *peer {
	t.Helper()

	client := s.NewClient()

	account, err := s.Register(context.Background(), client, username, "secret")
	require.NoError(t, err)

	db, err := store.New(filepath.Join(t.TempDir(), "db"), true, false)
	require.NoError(t, err)
	require.NoError(t, db.Open(username))

	t.Cleanup(func() {
		_ = db.Close()
	})

	st := session.NewState()
	st.SetUsername(username)
	st.SetUserID(uuid.New().String())
	st.SetRootCrypt(account.Root)
	st.SetRootSignature(account.Signature)
	st.SetLoggedIn(true)
	st.SetOnline(true)
	st.SetAccountType(session.AccountCloud)

	km := keys.NewManager(db, st, false)
	km.SignatureAlgorithm = testutil.TestSignatureAlgorithm
	require.NoError(t, km.EnsureLocalCrypt())

	lsm := session.NewLocalStateManager(db, st)
	require.NoError(t, lsm.Login())

	svc := NewService(client, km, st, false)
	svc.ProofBits = 4

	return &peer{
		client:  client,
		state:   st,
		keys:    km,
		notes:   notes.NewService(db, km, st, lsm, client, false),
		sharing: svc,
	}
}

func (p *peer) batch() *multiaction.Batch {
	return multiaction.New(p.notes, p.client, p.keys, p.state, nil, false)
}

func TestShareAndAccept(t *testing.T) {
	t.Parallel()

	s := testutil.NewServer()
	t.Cleanup(s.Close)

	ctx := context.Background()
	sender := newPeer(t, s, "ramea")
	recipient := newPeer(t, s, "sasha")

	ks, err := sender.keys.CreateKey(uuid.New().String(), store.KeyMetadata{})
	require.NoError(t, err)

	noteID := uuid.New().String()

	code, err := sender.sharing.ShareNote(ctx, "sasha", ks.Name, noteID, "Recipes")
	require.NoError(t, err)
	require.NotEmpty(t, code)
	require.Equal(t, 1, s.Count(common.PublicKeyPath))

	offer, err := recipient.sharing.GetShareOffer(ctx, code)
	require.NoError(t, err)
	require.Equal(t, "ramea", offer.Sender)
	require.Equal(t, "Recipes", offer.Name)
	require.Equal(t, noteID, offer.NoteID)
	require.Equal(t, ks.Name, offer.KeyName)
	require.Empty(t, offer.Warning)

	accepted, err := recipient.sharing.AcceptShare(ctx, offer, nil, nil)
	require.NoError(t, err)
	require.Equal(t, ks.Name, accepted.Name)
	require.True(t, accepted.Metadata.Shared)
	require.Equal(t, ks.Symmetric.Key(), accepted.Symmetric.Key())
	require.NotNil(t, s.StoredKey("sasha", accepted.ID))
	require.NotNil(t, recipient.keys.GetKeyByName(ks.Name))

	_, err = recipient.sharing.GetShareOffer(ctx, code)
	require.ErrorIs(t, err, ErrNoOffer)
}

func TestAcceptShareAddsChild(t *testing.T) {
	t.Parallel()

	s := testutil.NewServer()
	t.Cleanup(s.Close)

	ctx := context.Background()
	sender := newPeer(t, s, "ramea")
	recipient := newPeer(t, s, "sasha")

	shared, err := sender.keys.CreateKey(uuid.New().String(), store.KeyMetadata{})
	require.NoError(t, err)

	own, err := recipient.keys.CreateKey(uuid.New().String(), store.KeyMetadata{Root: true})
	require.NoError(t, err)

	parent := notes.NewNote(uuid.New().String(), own.Name)
	parent.SetTitle("Inbox")

	b := recipient.batch()
	require.NoError(t, b.CreateNote(parent))
	_, err = b.Commit(ctx)
	require.NoError(t, err)

	parent, err = recipient.notes.ReadNote(ctx, parent.ID)
	require.NoError(t, err)

	noteID := uuid.New().String()

	code, err := sender.sharing.ShareNote(ctx, "sasha", shared.Name, noteID, "Shared")
	require.NoError(t, err)

	offer, err := recipient.sharing.GetShareOffer(ctx, code)
	require.NoError(t, err)

	_, err = recipient.sharing.AcceptShare(ctx, offer, parent, recipient.batch())
	require.NoError(t, err)
	require.Equal(t, 2, s.Count(common.MultiNotePath))

	stored, err := recipient.notes.ReadNote(ctx, parent.ID)
	require.NoError(t, err)
	require.Equal(t, []string{noteID}, stored.ChildIDs())
}

func TestAcceptShareKnownKey(t *testing.T) {
	t.Parallel()

	s := testutil.NewServer()
	t.Cleanup(s.Close)

	ctx := context.Background()
	sender := newPeer(t, s, "ramea")
	recipient := newPeer(t, s, "sasha")

	ks, err := sender.keys.CreateKey(uuid.New().String(), store.KeyMetadata{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		code, err := sender.sharing.ShareNote(ctx, "sasha", ks.Name, uuid.New().String(), "Shared")
		require.NoError(t, err)

		offer, err := recipient.sharing.GetShareOffer(ctx, code)
		require.NoError(t, err)

		_, err = recipient.sharing.AcceptShare(ctx, offer, nil, nil)
		require.NoError(t, err)
	}

	require.Equal(t, 1, s.Count(common.KeyCreatePath))
	require.Len(t, recipient.keys.Keys(), 1)
}

func TestOpenFlagsSenderMismatch(t *testing.T) {
	t.Parallel()

	s := testutil.NewServer()
	t.Cleanup(s.Close)

	recipient := newPeer(t, s, "sasha")

	info := api.NoteShareInfo{
		ID:                  uuid.New().String(),
		Sender:              "ramea",
		NoteID:              uuid.New().String(),
		KeyName:             uuid.New().String(),
		Algorithm:           "AES;256",
		KeyData:             "a2V5",
		AsymmetricAlgorithm: testutil.TestSignatureAlgorithm,
		PublicKey:           "pub",
		PrivateKey:          "priv",
	}

	b, err := json.Marshal(info)
	require.NoError(t, err)

	data, err := recipient.state.RootSignature().Encrypt(string(b))
	require.NoError(t, err)

	offer, err := recipient.sharing.open(api.ShareOffer{ID: "offer-1", Sender: "eve", Data: data})
	require.NoError(t, err)
	require.Equal(t, "offer-1", offer.ID)
	require.Contains(t, offer.Warning, "eve")

	_, err = recipient.sharing.open(api.ShareOffer{ID: "offer-2", Sender: "ramea", Data: "garbage"})
	require.ErrorIs(t, err, ErrInvalidOffer)
}

func TestRequiresConnection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		account session.AccountType
		online  bool
	}{
		{"offline cloud", session.AccountCloud, false},
		{"local", session.AccountLocal, true},
		{"account-less", session.AccountNone, false},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := session.NewState()
			st.SetAccountType(tt.account)
			st.SetOnline(tt.online)

			svc := NewService(&api.Client{}, nil, st, false)

			_, err := svc.ShareNote(context.Background(), "sasha", "k", "n", "x")
			require.ErrorIs(t, err, ErrOffline)

			_, err = svc.GetShareOffer(context.Background(), "code")
			require.ErrorIs(t, err, ErrOffline)

			require.ErrorIs(t, svc.DeleteShareOffer(context.Background(), "id"), ErrOffline)
		})
	}
}
