package mimiri

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/config"
	"github.com/innonova/mimiri-client-sub002/notes"
	"github.com/innonova/mimiri-client-sub002/sharing"
	"github.com/innonova/mimiri-client-sub002/store"
	"github.com/innonova/mimiri-client-sub002/testutil"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func newClient(t *testing.T, cfg config.Config) *Client {
	t.Helper()

	cfg.DataDir = t.TempDir()
	cfg.SchemaValidation = true

	c, err := New(cfg)
	require.NoError(t, err)

	if c.API != nil {
		c.API.HTTPClient.RetryMax = 0
	}

	t.Cleanup(func() {
		_ = c.Close()
	})

	return c
}

func TestLoginSyncLogout(t *testing.T) {
	keyring.MockInit()

	s := testutil.NewServer()
	t.Cleanup(s.Close)

	ctx := context.Background()

	_, err := s.Register(ctx, s.NewClient(), "ramea", "secret")
	require.NoError(t, err)

	c := newClient(t, config.Config{
		Server:         s.URL,
		Username:       "ramea",
		Password:       "secret",
		RequestTimeout: 5 * time.Second,
		SyncMaxDelay:   20 * time.Millisecond,
	})

	require.NoError(t, c.Login(ctx))
	require.True(t, c.State.IsLoggedIn())
	require.True(t, c.State.CanSync())
	require.True(t, c.Sync.Initialized())

	c.Keys.SignatureAlgorithm = testutil.TestSignatureAlgorithm

	ks, err := c.Keys.CreateKey(uuid.New().String(), store.KeyMetadata{Root: true})
	require.NoError(t, err)

	n := notes.NewNote(uuid.New().String(), ks.Name)
	n.SetTitle("Groceries")
	require.NoError(t, c.Notes.WriteNote(n))

	require.NoError(t, c.Sync.Sync(ctx))
	require.NotNil(t, s.Note("ramea", n.ID))

	require.NoError(t, c.Logout())
	require.False(t, c.State.IsLoggedIn())
	require.False(t, c.Sync.Initialized())

	ok, err := c.Restore(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWithoutServer(t *testing.T) {
	t.Parallel()

	c := newClient(t, config.Config{})
	require.Nil(t, c.API)

	require.NoError(t, c.Auth.OpenLocal())
	require.True(t, c.State.IsLoggedIn())
	require.False(t, c.State.CanSync())

	_, err := c.Sharing.GetShareOffer(context.Background(), "code")
	require.ErrorIs(t, err, sharing.ErrOffline)
}
