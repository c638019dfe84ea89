package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/logging"
	"github.com/innonova/mimiri-client-sub002/session"
	"github.com/innonova/mimiri-client-sub002/store"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrNoRootKey   = errors.New("root key not available")
	ErrNoLocalKey  = errors.New("local key not available")
)

// KeySet is a decrypted key usable for note items and request signing.
type KeySet struct {
	ID        string
	Name      string
	Symmetric *crypto.Symmetric
	Signature *crypto.Signature
	Metadata  store.KeyMetadata
}

func (k *KeySet) GetID() string {
	return k.ID
}

// Manager owns the device local key and the working set of note keys of the
// logged in account.
type Manager struct {
	// SignatureAlgorithm is used for newly created keys.
	SignatureAlgorithm string

	db    *store.Store
	state *session.State
	log   logging.Logger

	mu         sync.RWMutex
	localCrypt *crypto.Symmetric
	keys       []*KeySet
}

func NewManager(db *store.Store, state *session.State, debug bool) *Manager {
	return &Manager{
		SignatureAlgorithm: crypto.DefaultAsymmetricAlgorithm,
		db:                 db,
		state:              state,
		log:                logging.New(debug, "keys"),
	}
}

func (m *Manager) rootCrypt() (*crypto.Symmetric, error) {
	root := m.state.RootCrypt()
	if root == nil {
		return nil, ErrNoRootKey
	}

	return root, nil
}

// EnsureLocalCrypt loads the device local key, creating and persisting it
// wrapped under the root key on first use.
func (m *Manager) EnsureLocalCrypt() error {
	root, err := m.rootCrypt()
	if err != nil {
		return fmt.Errorf("EnsureLocalCrypt | %w", err)
	}

	ld, err := m.db.GetLocalData()
	if err != nil {
		return fmt.Errorf("EnsureLocalCrypt | %w", err)
	}

	var local *crypto.Symmetric

	if ld == nil {
		if local, err = crypto.NewSymmetric(crypto.DefaultSymmetricAlgorithm); err != nil {
			return fmt.Errorf("EnsureLocalCrypt | %w", err)
		}

		var wrapped string

		if wrapped, err = root.EncryptBytes(local.Key()); err != nil {
			return fmt.Errorf("EnsureLocalCrypt | %w", err)
		}

		if err = m.db.SetLocalData(store.LocalData{LocalCrypt: store.CryptData{
			Algorithm: local.Algorithm(),
			Key:       wrapped,
		}}); err != nil {
			return fmt.Errorf("EnsureLocalCrypt | %w", err)
		}

		m.log.Debugf("EnsureLocalCrypt | created local key")
	} else {
		var key []byte

		if key, err = root.DecryptBytes(ld.LocalCrypt.Key); err != nil {
			return fmt.Errorf("EnsureLocalCrypt | %w", err)
		}

		if local, err = crypto.SymmetricFromKey(ld.LocalCrypt.Algorithm, key); err != nil {
			return fmt.Errorf("EnsureLocalCrypt | %w", err)
		}
	}

	m.mu.Lock()
	m.localCrypt = local
	m.mu.Unlock()

	return nil
}

// ReencryptLocalCrypt wraps the local key under a new root key.
func (m *Manager) ReencryptLocalCrypt(newRoot *crypto.Symmetric) error {
	local := m.LocalCrypt()
	if local == nil {
		return fmt.Errorf("ReencryptLocalCrypt | %w", ErrNoLocalKey)
	}

	wrapped, err := newRoot.EncryptBytes(local.Key())
	if err != nil {
		return fmt.Errorf("ReencryptLocalCrypt | %w", err)
	}

	return m.db.SetLocalData(store.LocalData{LocalCrypt: store.CryptData{
		Algorithm: local.Algorithm(),
		Key:       wrapped,
	}})
}

func (m *Manager) LocalCrypt() *crypto.Symmetric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.localCrypt
}

// wrapKey produces the at-rest record of a key pair, sealed under wrap.
func wrapKey(ks *KeySet, userID string, wrap *crypto.Symmetric) (*store.KeyData, error) {
	keyData, err := wrap.EncryptBytes(ks.Symmetric.Key())
	if err != nil {
		return nil, err
	}

	pub, err := ks.Signature.PublicKeyPem()
	if err != nil {
		return nil, err
	}

	privPem, err := ks.Signature.PrivateKeyPem()
	if err != nil {
		return nil, err
	}

	priv, err := wrap.Encrypt(privPem, false)
	if err != nil {
		return nil, err
	}

	mb, err := json.Marshal(ks.Metadata)
	if err != nil {
		return nil, err
	}

	md, err := wrap.Encrypt(string(mb), false)
	if err != nil {
		return nil, err
	}

	now := common.Now()

	return &store.KeyData{
		ID:                  ks.ID,
		UserID:              userID,
		Name:                ks.Name,
		Algorithm:           ks.Symmetric.Algorithm(),
		KeyData:             keyData,
		AsymmetricAlgorithm: ks.Signature.Algorithm(),
		PublicKey:           pub,
		PrivateKey:          priv,
		Metadata:            md,
		Modified:            now,
		Created:             now,
	}, nil
}

func unwrapKey(kd store.KeyData, wrap *crypto.Symmetric) (*KeySet, error) {
	key, err := wrap.DecryptBytes(kd.KeyData)
	if err != nil {
		return nil, err
	}

	sym, err := crypto.SymmetricFromKey(kd.Algorithm, key)
	if err != nil {
		return nil, err
	}

	priv, err := wrap.Decrypt(kd.PrivateKey)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.SignatureFromPem(kd.AsymmetricAlgorithm, kd.PublicKey, priv)
	if err != nil {
		return nil, err
	}

	ks := &KeySet{
		ID:        kd.ID,
		Name:      kd.Name,
		Symmetric: sym,
		Signature: sig,
	}

	md, err := wrap.Decrypt(kd.Metadata)
	if err != nil {
		return nil, err
	}

	if err = json.Unmarshal([]byte(md), &ks.Metadata); err != nil {
		return nil, err
	}

	return ks, nil
}

// LoadAllKeys replaces the working set with every local and mirrored key.
func (m *Manager) LoadAllKeys() error {
	return m.db.Lock().WithLock("loadAllKeys", store.Exclusive, m.LoadAllKeysNoLock)
}

// LoadAllKeysNoLock is LoadAllKeys for callers already holding the store lock.
// Keys that fail to decrypt are logged and skipped.
func (m *Manager) LoadAllKeysNoLock() error {
	root, err := m.rootCrypt()
	if err != nil {
		return fmt.Errorf("LoadAllKeys | %w", err)
	}

	local := m.LocalCrypt()

	localKeys, err := m.db.GetAllLocalKeys()
	if err != nil {
		return fmt.Errorf("LoadAllKeys | %w", err)
	}

	remoteKeys, err := m.db.GetAllKeys()
	if err != nil {
		return fmt.Errorf("LoadAllKeys | %w", err)
	}

	deleted, err := m.db.GetAllDeletedKeys()
	if err != nil {
		return fmt.Errorf("LoadAllKeys | %w", err)
	}

	tombstones := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		tombstones[id] = struct{}{}
	}

	loaded := make([]*KeySet, 0, len(localKeys)+len(remoteKeys))

	load := func(records []store.KeyData, wrap *crypto.Symmetric, partition string) {
		for _, kd := range records {
			if _, ok := tombstones[kd.ID]; ok {
				continue
			}

			if wrap == nil {
				m.log.Errorf("LoadAllKeys | no local key to unwrap %s key %s", partition, kd.ID)

				continue
			}

			ks, uerr := unwrapKey(kd, wrap)
			if uerr != nil {
				m.log.Errorf("LoadAllKeys | failed to load %s key %s: %s", partition, kd.ID, uerr)

				continue
			}

			loaded = append(loaded, ks)
		}
	}

	load(localKeys, local, "local")
	load(remoteKeys, root, "remote")

	loaded = DeDupeByID(loaded)

	m.mu.Lock()
	m.keys = loaded
	m.mu.Unlock()

	m.log.Debugf("LoadAllKeys | loaded %d keys", len(loaded))

	return nil
}

// LoadKeyByID loads one key, preferring the local copy, into the working set.
// A key that exists in neither partition yields ErrKeyNotFound.
func (m *Manager) LoadKeyByID(id string) (*KeySet, error) {
	root, err := m.rootCrypt()
	if err != nil {
		return nil, fmt.Errorf("LoadKeyByID | %w", err)
	}

	wrap := m.LocalCrypt()

	kd, err := m.db.GetLocalKey(id)
	if err != nil {
		return nil, fmt.Errorf("LoadKeyByID | %w", err)
	}

	if kd == nil {
		if kd, err = m.db.GetKey(id); err != nil {
			return nil, fmt.Errorf("LoadKeyByID | %w", err)
		}

		wrap = root
	}

	if kd == nil {
		return nil, fmt.Errorf("LoadKeyByID | %w: %s", ErrKeyNotFound, id)
	}

	if wrap == nil {
		return nil, fmt.Errorf("LoadKeyByID | %w", ErrNoLocalKey)
	}

	ks, err := unwrapKey(*kd, wrap)
	if err != nil {
		return nil, fmt.Errorf("LoadKeyByID | %w", err)
	}

	m.setKey(ks)

	return ks, nil
}

// setKey adds ks to the working set, replacing any key with the same id or name.
func (m *Manager) setKey(ks *KeySet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.keys[:0]
	for _, k := range m.keys {
		if k.ID != ks.ID && k.Name != ks.Name {
			kept = append(kept, k)
		}
	}

	m.keys = append(kept, ks)
}

// CreateKey generates a new key pair under a fresh name. The record is kept
// in the local partition, wrapped under the local key, until it is pushed.
func (m *Manager) CreateKey(id string, metadata store.KeyMetadata) (*KeySet, error) {
	local := m.LocalCrypt()
	if local == nil {
		return nil, fmt.Errorf("CreateKey | %w", ErrNoLocalKey)
	}

	sym, err := crypto.NewSymmetric(crypto.DefaultSymmetricAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("CreateKey | %w", err)
	}

	sig, err := crypto.NewSignature(m.SignatureAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("CreateKey | %w", err)
	}

	ks := &KeySet{
		ID:        id,
		Name:      uuid.New().String(),
		Symmetric: sym,
		Signature: sig,
		Metadata:  metadata,
	}

	var created *KeySet

	err = m.db.Lock().WithLock("createKey", store.Exclusive, func() error {
		kd, werr := wrapKey(ks, m.state.UserID(), local)
		if werr != nil {
			return werr
		}

		if werr = m.db.SetLocalKey(kd); werr != nil {
			return werr
		}

		created, werr = m.LoadKeyByID(id)

		return werr
	})
	if err != nil {
		return nil, fmt.Errorf("CreateKey | %w", err)
	}

	m.log.Debugf("CreateKey | created key %s named %s", id, ks.Name)

	return created, nil
}

// DeleteKey removes the local copy of a key and records a tombstone if the
// server has it.
func (m *Manager) DeleteKey(id string) error {
	err := m.db.Lock().WithLock("deleteKey", store.Exclusive, func() error {
		if err := m.db.DeleteLocalKey(id); err != nil {
			return err
		}

		remote, err := m.db.GetKey(id)
		if err != nil {
			return err
		}

		if remote != nil {
			return m.db.DeleteRemoteKey(id)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("DeleteKey | %w", err)
	}

	m.mu.Lock()
	kept := m.keys[:0]

	for _, k := range m.keys {
		if k.ID != id {
			kept = append(kept, k)
		}
	}

	m.keys = kept
	m.mu.Unlock()

	return nil
}

func (m *Manager) GetKeyByName(name string) *KeySet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, k := range m.keys {
		if k.Name == name {
			return k
		}
	}

	return nil
}

func (m *Manager) GetKeyByID(id string) *KeySet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, k := range m.keys {
		if k.ID == id {
			return k
		}
	}

	return nil
}

// KeySignature returns the signing key of the named key, or nil.
func (m *Manager) KeySignature(name string) *crypto.Signature {
	if k := m.GetKeyByName(name); k != nil {
		return k.Signature
	}

	return nil
}

// Keys returns a snapshot of the working set.
func (m *Manager) Keys() []*KeySet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*KeySet(nil), m.keys...)
}

func (m *Manager) ClearKeys() {
	m.mu.Lock()
	m.keys = nil
	m.mu.Unlock()
}

// Reset forgets the working set and the local key on logout.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.keys = nil
	m.localCrypt = nil
	m.mu.Unlock()
}
