// Package mimiri assembles the offline-first note client: one store per
// account, one server client and the services that share their session
// state.
package mimiri

import (
	"context"
	"fmt"
	"time"

	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/auth"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/config"
	"github.com/innonova/mimiri-client-sub002/keys"
	"github.com/innonova/mimiri-client-sub002/logging"
	"github.com/innonova/mimiri-client-sub002/multiaction"
	"github.com/innonova/mimiri-client-sub002/notes"
	"github.com/innonova/mimiri-client-sub002/session"
	"github.com/innonova/mimiri-client-sub002/sharing"
	"github.com/innonova/mimiri-client-sub002/store"
	"github.com/innonova/mimiri-client-sub002/syncer"
)

type Client struct {
	Config  config.Config
	State   *session.State
	Store   *store.Store
	API     *api.Client
	Local   *session.LocalStateManager
	Keys    *keys.Manager
	Notes   *notes.Service
	Sync    *syncer.Engine
	Auth    *auth.Manager
	Sharing *sharing.Service

	log logging.Logger
}

// New wires the components for cfg. Without a server only the account-less
// store and local accounts are usable.
func New(cfg config.Config) (*Client, error) {
	db, err := store.New(cfg.DataDir, cfg.SchemaValidation, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("New | %w", err)
	}

	var client *api.Client

	if cfg.Server != "" {
		client = api.NewClient(cfg.Server, cfg.Debug)
		if cfg.RequestTimeout > 0 {
			client.HTTPClient.HTTPClient.Timeout = cfg.RequestTimeout
		}
	}

	state := session.NewState()
	local := session.NewLocalStateManager(db, state)
	km := keys.NewManager(db, state, cfg.Debug)

	engine := syncer.NewEngine(db, client, km, state, local, cfg.Debug)
	if cfg.SyncMaxDelay > 0 {
		engine.SetRetryDelays(common.SyncBaseDelayMs*time.Millisecond, cfg.SyncMaxDelay)
	}

	am := auth.NewManager(db, client, km, state, local, cfg.Debug)
	am.OnOnline = engine.QueueSync

	return &Client{
		Config:  cfg,
		State:   state,
		Store:   db,
		API:     client,
		Local:   local,
		Keys:    km,
		Notes:   notes.NewService(db, km, state, local, client, cfg.Debug),
		Sync:    engine,
		Auth:    am,
		Sharing: sharing.NewService(client, km, state, cfg.Debug),
		log:     logging.New(cfg.Debug, "client"),
	}, nil
}

// Login signs in with the configured credentials, prompting for any that are
// missing, and runs the initial sync when the account is online.
func (c *Client) Login(ctx context.Context) error {
	username, password, err := session.GetCredentials(c.Config)
	if err != nil {
		return fmt.Errorf("Login | %w", err)
	}

	if err = c.Auth.Login(ctx, username, password); err != nil {
		return fmt.Errorf("Login | %w", err)
	}

	c.initialSync(ctx)

	return nil
}

// Restore resumes a persisted login. It reports false when there was none.
func (c *Client) Restore(ctx context.Context) (bool, error) {
	ok, err := c.Auth.RestoreLogin(ctx)
	if err != nil || !ok {
		return ok, err
	}

	c.initialSync(ctx)

	return true, nil
}

func (c *Client) initialSync(ctx context.Context) {
	if !c.State.CanSync() {
		return
	}

	if err := c.Sync.InitialSync(ctx); err != nil {
		c.log.Warnf("initialSync | %v", err)
		c.Sync.QueueSync()
	}
}

// NewBatch returns an empty multi-action batch that queues a sync after it
// commits.
func (c *Client) NewBatch() *multiaction.Batch {
	return multiaction.New(c.Notes, c.API, c.Keys, c.State, c.Sync, c.Config.Debug)
}

func (c *Client) Logout() error {
	c.Sync.Reset()

	return c.Auth.Logout()
}

// Close stops background work and closes the open store.
func (c *Client) Close() error {
	c.Sync.Close()
	c.Auth.Close()

	return c.Store.Close()
}
