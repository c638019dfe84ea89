// Package auth turns a password or a persisted session into the root key and
// signing key of an account, and manages the account-less, local and cloud
// account lifecycle.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/keys"
	"github.com/innonova/mimiri-client-sub002/logging"
	"github.com/innonova/mimiri-client-sub002/session"
	"github.com/innonova/mimiri-client-sub002/store"
	"github.com/zalando/go-keyring"
)

var (
	ErrCredentialsRejected = errors.New("credentials rejected")
	ErrIncorrectPassword   = errors.New("incorrect password")
	ErrNoClient            = errors.New("no server connection configured")
	ErrWrongAccountType    = errors.New("operation not valid for this account type")
	ErrProofRejected       = errors.New("proof of work rejected")
	ErrNoAccountData       = errors.New("no account data stored")
)

// Manager owns login and account changes for one store. Components that hold
// the same State observe the result.
type Manager struct {
	// Keyring holds persisted logins. Nil uses the OS keyring.
	Keyring keyring.Keyring
	// Iterations is used for newly derived password keys.
	Iterations int
	// SignatureAlgorithm is used for newly created root signing keys.
	SignatureAlgorithm string
	// OnOnline is called when a background GoOnline retry succeeds.
	OnOnline func()

	db     *store.Store
	client *api.Client
	keys   *keys.Manager
	state  *session.State
	local  *session.LocalStateManager
	log    logging.Logger
	online onlineRetry

	mu                 sync.Mutex
	proofBits          int
	userCryptAlgorithm string
}

// NewManager returns a Manager. client may be nil, in which case only the
// account-less store and local accounts can be used.
func NewManager(db *store.Store, client *api.Client, km *keys.Manager, state *session.State, local *session.LocalStateManager, debug bool) *Manager {
	m := &Manager{
		Iterations:         crypto.DefaultIterations,
		SignatureAlgorithm: crypto.DefaultAsymmetricAlgorithm,
		db:                 db,
		client:             client,
		keys:               km,
		state:              state,
		local:              local,
		log:                logging.New(debug, "auth"),
		proofBits:          crypto.DefaultProofBits,
		userCryptAlgorithm: crypto.DefaultSymmetricAlgorithm,
	}
	m.online.setup()

	return m
}

// Close stops a pending background GoOnline retry and waits for it.
func (m *Manager) Close() {
	m.online.close()
}

func unseal(d store.InitializationData, password string) (*crypto.Symmetric, *crypto.Signature, error) {
	userCrypt, err := crypto.SymmetricFromPassword(d.UserCrypt.Algorithm, password, d.UserCrypt.Salt, d.UserCrypt.Iterations)
	if err != nil {
		return nil, nil, err
	}

	rootKey, err := userCrypt.DecryptBytes(d.RootCrypt.Key)
	if err != nil {
		return nil, nil, err
	}

	root, err := crypto.SymmetricFromKey(d.RootCrypt.Algorithm, rootKey)
	if err != nil {
		return nil, nil, err
	}

	priv, err := userCrypt.Decrypt(d.RootSignature.PrivateKey)
	if err != nil {
		return nil, nil, err
	}

	sig, err := crypto.SignatureFromPem(d.RootSignature.Algorithm, d.RootSignature.PublicKey, priv)
	if err != nil {
		return nil, nil, err
	}

	return root, sig, nil
}

func decryptUserData(root *crypto.Symmetric, data string) (store.UserData, error) {
	var ud store.UserData

	if data == "" {
		return ud, nil
	}

	plain, err := root.Decrypt(data)
	if err != nil {
		return ud, err
	}

	err = json.Unmarshal([]byte(plain), &ud)

	return ud, err
}

func encryptUserData(root *crypto.Symmetric, ud store.UserData) (string, error) {
	b, err := json.Marshal(ud)
	if err != nil {
		return "", err
	}

	return root.Encrypt(string(b), false)
}

func rejected(err error) bool {
	return api.IsStatus(err, http.StatusUnauthorized) || api.IsStatus(err, http.StatusForbidden)
}

// applyServerData records the client config and usage the server returned.
func (m *Manager) applyServerData(config string, usage api.Usage) {
	if config != "" {
		var cc session.ClientConfig
		if err := json.Unmarshal([]byte(config), &cc); err != nil {
			m.log.Warnf("applyServerData | invalid client config: %v", err)
		} else {
			m.state.SetClientConfig(cc)
		}
	}

	m.state.SetServerStats(usage.Stats())

	if err := m.db.SetUserStats(usage.Stats()); err != nil {
		m.log.Warnf("applyServerData | %v", err)
	}
}

// authenticate runs the pre-login challenge and returns the bootstrap record
// held by the server.
func (m *Manager) authenticate(ctx context.Context, username, password string) (*store.InitializationData, error) {
	if m.client == nil {
		return nil, ErrNoClient
	}

	resp, err := m.client.Authenticate(ctx, username, password)
	if err != nil {
		if rejected(err) {
			return nil, ErrCredentialsRejected
		}

		return nil, err
	}

	m.applyServerData(resp.Config, resp.Usage)

	d := resp.InitializationData()

	return &d, nil
}

// Login opens the store of username. A local account logs in without the
// server. Otherwise the bootstrap record is fetched from the server. If the
// local record does not open with password the server is tried once.
// A store created by a failed login is removed again.
func (m *Manager) Login(ctx context.Context, username, password string) (err error) {
	existed, err := m.db.Exists(username)
	if err != nil {
		return fmt.Errorf("Login | %w", err)
	}

	if err = m.db.Open(username); err != nil {
		return fmt.Errorf("Login | %w", err)
	}

	defer func() {
		if err != nil && !existed {
			if dErr := m.db.DeleteDatabase(); dErr != nil {
				m.log.Warnf("Login | %v", dErr)
			}
		}
	}()

	boot, err := m.db.GetInitializationData()
	if err != nil {
		return fmt.Errorf("Login | %w", err)
	}

	fromLocal := boot != nil && boot.Local
	if !fromLocal {
		if boot, err = m.authenticate(ctx, username, password); err != nil {
			return fmt.Errorf("Login | %w", err)
		}
	}

	var (
		root *crypto.Symmetric
		sig  *crypto.Signature
		ud   store.UserData
	)

	for {
		root, sig, err = unseal(*boot, password)
		if err == nil {
			ud, err = decryptUserData(root, boot.UserData)
		}

		if err == nil {
			break
		}

		if !fromLocal || m.client == nil {
			m.log.Debugf("Login | unable to open account data: %v", err)
			return fmt.Errorf("Login | %w", ErrCredentialsRejected)
		}

		m.log.Warnf("Login | failed to log in locally, trying online: %v", err)

		fromLocal = false

		if boot, err = m.authenticate(ctx, username, password); err != nil {
			return fmt.Errorf("Login | %w", err)
		}
	}

	m.mu.Lock()
	m.userCryptAlgorithm = boot.UserCrypt.Algorithm
	m.mu.Unlock()

	m.state.SetUsername(username)
	m.state.SetUserID(boot.UserID)
	m.state.SetRootCrypt(root)
	m.state.SetRootSignature(sig)
	m.state.SetUserData(ud)
	m.state.SetLoggedIn(true)

	if boot.Local {
		m.state.SetAccountType(session.AccountLocal)
		m.state.SetWorkOffline(true)
	} else {
		m.state.SetAccountType(session.AccountCloud)
		m.state.SetOnline(true)
		m.client.SetIdentity(username, sig)
	}

	if err = m.db.SetInitializationData(*boot); err != nil {
		return fmt.Errorf("Login | %w", err)
	}

	if err = m.startSession(); err != nil {
		return fmt.Errorf("Login | %w", err)
	}

	if err = m.PersistLogin(); err != nil {
		m.log.Warnf("Login | unable to persist login: %v", err)
	}

	m.log.Debugf("Login | logged in as %s (%s)", username, m.state.AccountType())

	return nil
}

// startSession loads the device local key and the local state of the open store.
func (m *Manager) startSession() error {
	if err := m.keys.EnsureLocalCrypt(); err != nil {
		return err
	}

	return m.local.Login()
}

// OpenLocal opens the account-less store. Its root key has no password to be
// wrapped with and is stored obfuscated.
func (m *Manager) OpenLocal() error {
	if err := m.db.Open(common.LocalAccountName); err != nil {
		return fmt.Errorf("OpenLocal | %w", err)
	}

	lud, err := m.db.GetLocalUserData()
	if err != nil {
		return fmt.Errorf("OpenLocal | %w", err)
	}

	var root *crypto.Symmetric

	if lud == nil {
		if root, err = crypto.NewSymmetric(crypto.DefaultSymmetricAlgorithm); err != nil {
			return fmt.Errorf("OpenLocal | %w", err)
		}

		key, oErr := crypto.Obfuscate(root.KeyString())
		if oErr != nil {
			return fmt.Errorf("OpenLocal | %w", oErr)
		}

		if err = m.db.SetLocalUserData(store.LocalUserData{RootCrypt: store.CryptData{
			Algorithm: root.Algorithm(),
			Key:       key,
		}}); err != nil {
			return fmt.Errorf("OpenLocal | %w", err)
		}
	} else {
		key, dErr := crypto.Deobfuscate(lud.RootCrypt.Key)
		if dErr != nil {
			return fmt.Errorf("OpenLocal | %w", dErr)
		}

		if root, err = crypto.SymmetricFromKeyString(lud.RootCrypt.Algorithm, key); err != nil {
			return fmt.Errorf("OpenLocal | %w", err)
		}
	}

	ud, err := m.db.GetUserData()
	if err != nil {
		return fmt.Errorf("OpenLocal | %w", err)
	}

	if ud == nil {
		ud = &store.UserData{
			RootNote: uuid.New().String(),
			RootKey:  uuid.New().String(),
		}

		if err = m.db.SetUserData(*ud); err != nil {
			return fmt.Errorf("OpenLocal | %w", err)
		}
	}

	m.state.SetAccountType(session.AccountNone)
	m.state.SetUsername(common.LocalAccountName)
	m.state.SetUserID(uuid.Nil.String())
	m.state.SetRootCrypt(root)
	m.state.SetUserData(*ud)
	m.state.SetLoggedIn(true)

	if err = m.startSession(); err != nil {
		return fmt.Errorf("OpenLocal | %w", err)
	}

	return nil
}

// verifyCredentials checks the cached identity against the server and
// refreshes user data, config and usage.
func (m *Manager) verifyCredentials(ctx context.Context) error {
	resp, err := m.client.GetUserData(ctx)
	if err != nil {
		if rejected(err) {
			return ErrCredentialsRejected
		}

		return err
	}

	ud, err := decryptUserData(m.state.RootCrypt(), resp.Data)
	if err != nil {
		return fmt.Errorf("verifyCredentials | %w", err)
	}

	m.state.SetUserData(ud)
	m.applyServerData(resp.Config, resp.Usage)
	m.state.SetOnline(true)

	return nil
}

// GoOnline verifies that the server still accepts the cached credentials.
// Transient failures report false and keep retrying in the background.
// ErrCredentialsRejected is returned when the server refuses the identity.
func (m *Manager) GoOnline(ctx context.Context) (bool, error) {
	if m.client == nil || m.state.AccountType() != session.AccountCloud {
		return false, nil
	}

	err := m.verifyCredentials(ctx)
	if err == nil {
		return true, nil
	}

	m.state.SetOnline(false)

	if errors.Is(err, ErrCredentialsRejected) {
		m.log.Warnf("GoOnline | credentials rejected")
		return false, err
	}

	m.log.Debugf("GoOnline | %v, retrying in background", err)
	m.online.start(m.verifyCredentials, m.OnOnline, m.log)

	return false, nil
}

// Logout clears the persisted login, the shared state and the key working
// set, and closes the store.
func (m *Manager) Logout() error {
	m.online.stop()

	if err := session.ClearLoginData(m.Keyring); err != nil {
		m.log.Warnf("Logout | %v", err)
	}

	m.keys.Reset()
	m.local.Logout()
	m.state.Reset()

	if m.client != nil {
		m.client.SetIdentity("", nil)
	}

	m.mu.Lock()
	m.userCryptAlgorithm = crypto.DefaultSymmetricAlgorithm
	m.mu.Unlock()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("Logout | %w", err)
	}

	return nil
}
