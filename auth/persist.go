package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/session"
	"github.com/innonova/mimiri-client-sub002/store"
)

// PersistLogin stores the key material of the current login in the keyring,
// together with the client config, usage and user data encrypted under the
// root key. The account-less store is never persisted.
func (m *Manager) PersistLogin() error {
	root, sig := m.state.RootCrypt(), m.state.RootSignature()
	if root == nil || sig == nil {
		return nil
	}

	pub, err := sig.PublicKeyPem()
	if err != nil {
		return fmt.Errorf("PersistLogin | %w", err)
	}

	priv, err := sig.PrivateKeyPem()
	if err != nil {
		return fmt.Errorf("PersistLogin | %w", err)
	}

	b, err := json.Marshal(session.CachedData{
		ClientConfig: m.state.ClientConfig(),
		UserStats:    m.state.Stats().UserStats,
		UserData:     m.state.UserData(),
	})
	if err != nil {
		return fmt.Errorf("PersistLogin | %w", err)
	}

	data, err := root.Encrypt(string(b), true)
	if err != nil {
		return fmt.Errorf("PersistLogin | %w", err)
	}

	m.mu.Lock()
	userCryptAlgorithm := m.userCryptAlgorithm
	m.mu.Unlock()

	return session.SaveLoginData(m.Keyring, session.LoginData{
		Username:           m.state.Username(),
		UserID:             m.state.UserID(),
		UserCryptAlgorithm: userCryptAlgorithm,
		RootCrypt: store.CryptData{
			Algorithm: root.Algorithm(),
			Key:       root.KeyString(),
		},
		RootSignature: store.SignatureData{
			Algorithm:  sig.Algorithm(),
			PublicKey:  pub,
			PrivateKey: priv,
		},
		Data: data,
	})
}

// RestoreLogin logs in from a persisted login without a password. It reports
// false when nothing usable was persisted. A cloud account that cannot reach
// the server falls back to the cached user data.
func (m *Manager) RestoreLogin(ctx context.Context) (bool, error) {
	ld, err := session.LoadLoginData(m.Keyring)
	if err != nil || ld == nil {
		return false, err
	}

	root, err := crypto.SymmetricFromKeyString(ld.RootCrypt.Algorithm, ld.RootCrypt.Key)
	if err != nil {
		return false, fmt.Errorf("RestoreLogin | %w", err)
	}

	sigAlgorithm := ld.RootSignature.Algorithm
	if sigAlgorithm == "" {
		sigAlgorithm = crypto.DefaultAsymmetricAlgorithm
	}

	sig, err := crypto.SignatureFromPem(sigAlgorithm, ld.RootSignature.PublicKey, ld.RootSignature.PrivateKey)
	if err != nil {
		return false, fmt.Errorf("RestoreLogin | %w", err)
	}

	exists, err := m.db.Exists(ld.Username)
	if err != nil || !exists {
		return false, err
	}

	if err = m.db.Open(ld.Username); err != nil {
		return false, fmt.Errorf("RestoreLogin | %w", err)
	}

	boot, err := m.db.GetInitializationData()
	if err != nil {
		return false, fmt.Errorf("RestoreLogin | %w", err)
	}

	if boot == nil {
		return false, nil
	}

	m.mu.Lock()
	m.userCryptAlgorithm = ld.UserCryptAlgorithm
	m.mu.Unlock()

	m.state.SetUsername(ld.Username)
	m.state.SetUserID(ld.UserID)
	m.state.SetRootCrypt(root)
	m.state.SetRootSignature(sig)
	m.state.SetLoggedIn(true)

	if boot.Local {
		m.state.SetAccountType(session.AccountLocal)
		m.state.SetWorkOffline(true)
	} else {
		m.state.SetAccountType(session.AccountCloud)
		m.state.SetWorkOffline(false)

		if m.client != nil {
			m.client.SetIdentity(ld.Username, sig)
		}
	}

	if err = m.startSession(); err != nil {
		return false, fmt.Errorf("RestoreLogin | %w", err)
	}

	if boot.Local || m.state.WorkOffline() {
		ud, dErr := decryptUserData(root, boot.UserData)
		if dErr != nil {
			return false, fmt.Errorf("RestoreLogin | %w", dErr)
		}

		m.state.SetUserData(ud)

		return true, nil
	}

	online, err := m.GoOnline(ctx)
	if errors.Is(err, ErrCredentialsRejected) {
		m.log.Warnf("RestoreLogin | persisted credentials no longer accepted")
	}

	if !online {
		if err = m.restoreCached(root, ld.Data); err != nil {
			return false, fmt.Errorf("RestoreLogin | %w", err)
		}
	}

	return true, nil
}

func (m *Manager) restoreCached(root *crypto.Symmetric, data string) error {
	plain, err := root.Decrypt(data)
	if err != nil {
		return err
	}

	var cached session.CachedData
	if err = json.Unmarshal([]byte(plain), &cached); err != nil {
		return err
	}

	m.state.SetClientConfig(cached.ClientConfig)
	m.state.SetServerStats(cached.UserStats)
	m.state.SetUserData(cached.UserData)

	return nil
}
