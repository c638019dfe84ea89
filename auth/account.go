package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/session"
	"github.com/innonova/mimiri-client-sub002/store"
)

const maxProofAttempts = 3

func (m *Manager) iterations(n int) int {
	if n > 0 {
		return n
	}

	if m.Iterations > 0 {
		return m.Iterations
	}

	return crypto.DefaultIterations
}

func (m *Manager) proof(username string) string {
	m.mu.Lock()
	bits := m.proofBits
	m.mu.Unlock()

	return crypto.ComputeProofOfWork(username, bits)
}

// seal wraps root and sig under password and returns the account data for
// the server with its user data encrypted under root.
func (m *Manager) seal(password string, iterations int, root *crypto.Symmetric, sig *crypto.Signature) (api.AccountData, error) {
	ud, err := encryptUserData(root, m.state.UserData())
	if err != nil {
		return api.AccountData{}, err
	}

	pw, err := api.NewPasswordInfo(password, iterations)
	if err != nil {
		return api.AccountData{}, err
	}

	return api.SealAccount(password, iterations, pw, root, sig, ud)
}

// CheckUsername reports whether username is free on the server.
func (m *Manager) CheckUsername(ctx context.Context, username string) (bool, error) {
	if m.client == nil {
		return false, ErrNoClient
	}

	for attempt := 0; attempt < maxProofAttempts; attempt++ {
		res, err := m.client.UsernameAvailable(ctx, username, m.proof(username))
		if err != nil {
			return false, fmt.Errorf("CheckUsername | %w", err)
		}

		if res.BitsExpected > 0 {
			m.mu.Lock()
			m.proofBits = res.BitsExpected
			m.mu.Unlock()
		}

		if res.ProofAccepted {
			return res.Available, nil
		}
	}

	return false, fmt.Errorf("CheckUsername | %w", ErrProofRejected)
}

// PromoteToCloud creates a server account for the open store and renames the
// store to username. A local account keeps its keys and must confirm
// oldPassword. The account-less store gets a new root key and signing key.
func (m *Manager) PromoteToCloud(ctx context.Context, username, oldPassword, newPassword string, iterations int) error {
	if m.client == nil {
		return fmt.Errorf("PromoteToCloud | %w", ErrNoClient)
	}

	accountType := m.state.AccountType()
	if accountType == session.AccountCloud {
		return fmt.Errorf("PromoteToCloud | %w", ErrWrongAccountType)
	}

	if accountType == session.AccountLocal {
		ok, err := m.VerifyPassword(ctx, oldPassword)
		if err != nil {
			return fmt.Errorf("PromoteToCloud | %w", err)
		}

		if !ok {
			return fmt.Errorf("PromoteToCloud | %w", ErrIncorrectPassword)
		}
	}

	root, sig := m.state.RootCrypt(), m.state.RootSignature()

	if accountType == session.AccountNone || sig == nil {
		var err error
		if root, err = crypto.NewSymmetric(crypto.DefaultSymmetricAlgorithm); err != nil {
			return fmt.Errorf("PromoteToCloud | %w", err)
		}

		if sig, err = crypto.NewSignature(m.SignatureAlgorithm); err != nil {
			return fmt.Errorf("PromoteToCloud | %w", err)
		}
	}

	account, err := m.seal(newPassword, m.iterations(iterations), root, sig)
	if err != nil {
		return fmt.Errorf("PromoteToCloud | %w", err)
	}

	oldUsername, oldSig := m.client.Username(), m.state.RootSignature()

	m.client.SetIdentity(username, sig)

	if err = m.client.CreateAccount(ctx, account, m.proof(username)); err != nil {
		m.client.SetIdentity(oldUsername, oldSig)
		return fmt.Errorf("PromoteToCloud | %w", err)
	}

	if err = m.keys.ReencryptLocalCrypt(root); err != nil {
		return fmt.Errorf("PromoteToCloud | %w", err)
	}

	if err = m.db.RenameDatabase(username); err != nil {
		return fmt.Errorf("PromoteToCloud | %w", err)
	}

	if err = m.db.DeleteInitializationData(); err != nil {
		return fmt.Errorf("PromoteToCloud | %w", err)
	}

	if accountType == session.AccountNone {
		if err = m.db.DeleteLocalUserData(); err != nil {
			return fmt.Errorf("PromoteToCloud | %w", err)
		}
	}

	m.mu.Lock()
	m.userCryptAlgorithm = account.Algorithm
	m.mu.Unlock()

	m.state.SetUsername(username)
	m.state.SetRootCrypt(root)
	m.state.SetRootSignature(sig)
	m.state.SetAccountType(session.AccountCloud)
	m.state.SetOnline(true)

	if err = m.local.WorkOnline(); err != nil {
		return fmt.Errorf("PromoteToCloud | %w", err)
	}

	if err = m.PersistLogin(); err != nil {
		m.log.Warnf("PromoteToCloud | unable to persist login: %v", err)
	}

	return nil
}

// PromoteToLocal protects the account-less store with a password and renames
// it to username. Nothing is sent to the server.
func (m *Manager) PromoteToLocal(username, password string, iterations int) error {
	if m.state.AccountType() != session.AccountNone {
		return fmt.Errorf("PromoteToLocal | %w", ErrWrongAccountType)
	}

	root, err := crypto.NewSymmetric(crypto.DefaultSymmetricAlgorithm)
	if err != nil {
		return fmt.Errorf("PromoteToLocal | %w", err)
	}

	sig, err := crypto.NewSignature(m.SignatureAlgorithm)
	if err != nil {
		return fmt.Errorf("PromoteToLocal | %w", err)
	}

	account, err := m.seal(password, m.iterations(iterations), root, sig)
	if err != nil {
		return fmt.Errorf("PromoteToLocal | %w", err)
	}

	if err = m.db.SetInitializationData(account.InitializationData(uuid.Nil.String(), true)); err != nil {
		return fmt.Errorf("PromoteToLocal | %w", err)
	}

	if err = m.keys.ReencryptLocalCrypt(root); err != nil {
		return fmt.Errorf("PromoteToLocal | %w", err)
	}

	if err = m.db.RenameDatabase(username); err != nil {
		return fmt.Errorf("PromoteToLocal | %w", err)
	}

	if err = m.db.DeleteLocalUserData(); err != nil {
		return fmt.Errorf("PromoteToLocal | %w", err)
	}

	m.mu.Lock()
	m.userCryptAlgorithm = account.Algorithm
	m.mu.Unlock()

	m.state.SetUsername(username)
	m.state.SetRootCrypt(root)
	m.state.SetRootSignature(sig)
	m.state.SetAccountType(session.AccountLocal)
	m.state.SetWorkOffline(true)

	if err = m.PersistLogin(); err != nil {
		m.log.Warnf("PromoteToLocal | unable to persist login: %v", err)
	}

	return nil
}

// localBoot returns the bootstrap record of a local account opened with password.
func (m *Manager) localBoot(password string) (*store.InitializationData, *crypto.Symmetric, *crypto.Signature, error) {
	boot, err := m.db.GetInitializationData()
	if err != nil {
		return nil, nil, nil, err
	}

	if boot == nil {
		return nil, nil, nil, ErrNoAccountData
	}

	root, sig, err := unseal(*boot, password)
	if err != nil {
		m.log.Debugf("localBoot | %v", err)
		return nil, nil, nil, ErrIncorrectPassword
	}

	return boot, root, sig, nil
}

// ChangeUserNameAndPassword renames the account and, when newPassword is not
// empty, wraps its keys under the new password. A cloud account is changed on
// the server and logged in again.
func (m *Manager) ChangeUserNameAndPassword(ctx context.Context, username, oldPassword, newPassword string, iterations int) error {
	switch m.state.AccountType() {
	case session.AccountLocal:
		boot, root, sig, err := m.localBoot(oldPassword)
		if err != nil {
			return fmt.Errorf("ChangeUserNameAndPassword | %w", err)
		}

		if username != m.state.Username() {
			if err = m.db.RenameDatabase(username); err != nil {
				return fmt.Errorf("ChangeUserNameAndPassword | %w", err)
			}

			m.state.SetUsername(username)
		}

		if newPassword != "" {
			account, sErr := m.seal(newPassword, m.iterations(iterations), root, sig)
			if sErr != nil {
				return fmt.Errorf("ChangeUserNameAndPassword | %w", sErr)
			}

			if err = m.db.SetInitializationData(account.InitializationData(boot.UserID, true)); err != nil {
				return fmt.Errorf("ChangeUserNameAndPassword | %w", err)
			}
		}

		if err = m.PersistLogin(); err != nil {
			m.log.Warnf("ChangeUserNameAndPassword | unable to persist login: %v", err)
		}

		return nil
	case session.AccountCloud:
		if m.client == nil {
			return fmt.Errorf("ChangeUserNameAndPassword | %w", ErrNoClient)
		}

		response, hashLength, _, err := m.client.PasswordResponse(ctx, m.state.Username(), oldPassword)
		if err != nil {
			return fmt.Errorf("ChangeUserNameAndPassword | %w", err)
		}

		password := newPassword
		if password == "" {
			password = oldPassword
		}

		account, err := m.seal(password, m.iterations(iterations), m.state.RootCrypt(), m.state.RootSignature())
		if err != nil {
			return fmt.Errorf("ChangeUserNameAndPassword | %w", err)
		}

		if err = m.client.UpdateAccount(ctx, username, response, hashLength, account); err != nil {
			if rejected(err) {
				return fmt.Errorf("ChangeUserNameAndPassword | %w", ErrIncorrectPassword)
			}

			return fmt.Errorf("ChangeUserNameAndPassword | %w", err)
		}

		if username != m.state.Username() {
			if err = m.db.RenameDatabase(username); err != nil {
				return fmt.Errorf("ChangeUserNameAndPassword | %w", err)
			}
		}

		if err = m.db.DeleteInitializationData(); err != nil {
			return fmt.Errorf("ChangeUserNameAndPassword | %w", err)
		}

		if err = m.Logout(); err != nil {
			return fmt.Errorf("ChangeUserNameAndPassword | %w", err)
		}

		return m.Login(ctx, username, password)
	default:
		return fmt.Errorf("ChangeUserNameAndPassword | %w", ErrWrongAccountType)
	}
}

// DeleteAccount removes the account. A local account loses its store. A
// cloud account is deleted on the server and, unless deleteLocal is set,
// logged in again as a local account holding the same data.
func (m *Manager) DeleteAccount(ctx context.Context, password string, deleteLocal bool) error {
	switch m.state.AccountType() {
	case session.AccountLocal:
		if _, _, _, err := m.localBoot(password); err != nil {
			return fmt.Errorf("DeleteAccount | %w", err)
		}

		if err := m.db.DeleteDatabase(); err != nil {
			return fmt.Errorf("DeleteAccount | %w", err)
		}

		return m.Logout()
	case session.AccountCloud:
		if m.client == nil {
			return fmt.Errorf("DeleteAccount | %w", ErrNoClient)
		}

		username := m.state.Username()

		if err := m.client.DeleteAccount(ctx, password); err != nil {
			if rejected(err) {
				return fmt.Errorf("DeleteAccount | %w", ErrIncorrectPassword)
			}

			return fmt.Errorf("DeleteAccount | %w", err)
		}

		if deleteLocal {
			if err := m.db.DeleteDatabase(); err != nil {
				return fmt.Errorf("DeleteAccount | %w", err)
			}

			return m.Logout()
		}

		boot, err := m.db.GetInitializationData()
		if err != nil {
			return fmt.Errorf("DeleteAccount | %w", err)
		}

		if boot == nil {
			return fmt.Errorf("DeleteAccount | %w", ErrNoAccountData)
		}

		boot.Local = true
		boot.UserID = uuid.Nil.String()

		if err = m.db.SetInitializationData(*boot); err != nil {
			return fmt.Errorf("DeleteAccount | %w", err)
		}

		if err = m.Logout(); err != nil {
			return fmt.Errorf("DeleteAccount | %w", err)
		}

		return m.Login(ctx, username, password)
	default:
		return fmt.Errorf("DeleteAccount | %w", ErrWrongAccountType)
	}
}

// VerifyPassword reports whether password opens the current account. Local
// accounts are checked against the stored record, cloud accounts by the server.
func (m *Manager) VerifyPassword(ctx context.Context, password string) (bool, error) {
	switch m.state.AccountType() {
	case session.AccountLocal:
		_, _, _, err := m.localBoot(password)
		if errors.Is(err, ErrIncorrectPassword) {
			return false, nil
		}

		return err == nil, err
	case session.AccountCloud:
		if m.client == nil {
			return false, ErrNoClient
		}

		resp, err := m.client.Authenticate(ctx, m.state.Username(), password)
		if rejected(err) {
			return false, nil
		}

		if err != nil {
			return false, fmt.Errorf("VerifyPassword | %w", err)
		}

		return resp.UserID != "", nil
	default:
		return false, ErrWrongAccountType
	}
}

// HasOneOrMoreAccounts reports whether any store other than the account-less
// one exists.
func (m *Manager) HasOneOrMoreAccounts() (bool, error) {
	return m.db.HasOneOrMoreAccounts(common.LocalAccountName)
}

// UpdateUserData replaces the user data of the current account and stores it
// where the account type keeps it.
func (m *Manager) UpdateUserData(ctx context.Context, ud store.UserData) error {
	m.state.SetUserData(ud)

	if m.state.AccountType() == session.AccountNone {
		return m.db.SetUserData(ud)
	}

	root := m.state.RootCrypt()
	if root == nil {
		return fmt.Errorf("UpdateUserData | %w", ErrWrongAccountType)
	}

	data, err := encryptUserData(root, ud)
	if err != nil {
		return fmt.Errorf("UpdateUserData | %w", err)
	}

	boot, err := m.db.GetInitializationData()
	if err != nil {
		return fmt.Errorf("UpdateUserData | %w", err)
	}

	if boot != nil {
		boot.UserData = data

		if err = m.db.SetInitializationData(*boot); err != nil {
			return fmt.Errorf("UpdateUserData | %w", err)
		}
	}

	if m.state.AccountType() == session.AccountCloud && m.client != nil && m.state.IsOnline() {
		if err = m.client.UpdateUserData(ctx, data); err != nil {
			return fmt.Errorf("UpdateUserData | %w", err)
		}
	}

	return nil
}
