package keys

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/store"
)

// ShareKey is the key material carried by a share offer.
type ShareKey struct {
	KeyName             string
	Algorithm           string
	KeyData             string // base64 raw key
	AsymmetricAlgorithm string
	PublicKey           string
	PrivateKey          string
}

// ExportShareKey returns the plaintext key material of a loaded key for sharing.
func (m *Manager) ExportShareKey(keyName string) (ShareKey, error) {
	ks := m.GetKeyByName(keyName)
	if ks == nil {
		return ShareKey{}, fmt.Errorf("ExportShareKey | %w: %s", ErrKeyNotFound, keyName)
	}

	pub, err := ks.Signature.PublicKeyPem()
	if err != nil {
		return ShareKey{}, fmt.Errorf("ExportShareKey | %w", err)
	}

	priv, err := ks.Signature.PrivateKeyPem()
	if err != nil {
		return ShareKey{}, fmt.Errorf("ExportShareKey | %w", err)
	}

	return ShareKey{
		KeyName:             ks.Name,
		Algorithm:           ks.Symmetric.Algorithm(),
		KeyData:             base64.StdEncoding.EncodeToString(ks.Symmetric.Key()),
		AsymmetricAlgorithm: ks.Signature.Algorithm(),
		PublicKey:           pub,
		PrivateKey:          priv,
	}, nil
}

// CreateKeyFromNoteShare registers a key received through a share offer.
// The record is wrapped under the root key and handed to publish, normally
// the server's key creation call, before it is written to the mirror.
func (m *Manager) CreateKeyFromNoteShare(id string, share ShareKey, metadata store.KeyMetadata, publish func(store.KeyData) error) (*KeySet, error) {
	root, err := m.rootCrypt()
	if err != nil {
		return nil, fmt.Errorf("CreateKeyFromNoteShare | %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(share.KeyData)
	if err != nil {
		return nil, fmt.Errorf("CreateKeyFromNoteShare | %w", err)
	}

	sym, err := crypto.SymmetricFromKey(share.Algorithm, raw)
	if err != nil {
		return nil, fmt.Errorf("CreateKeyFromNoteShare | %w", err)
	}

	sig, err := crypto.SignatureFromPem(share.AsymmetricAlgorithm, share.PublicKey, share.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("CreateKeyFromNoteShare | %w", err)
	}

	ks := &KeySet{
		ID:        id,
		Name:      share.KeyName,
		Symmetric: sym,
		Signature: sig,
		Metadata:  metadata,
	}

	kd, err := wrapKey(ks, m.state.UserID(), root)
	if err != nil {
		return nil, fmt.Errorf("CreateKeyFromNoteShare | %w", err)
	}

	if publish != nil {
		if err = publish(*kd); err != nil {
			return nil, fmt.Errorf("CreateKeyFromNoteShare | %w", err)
		}
	}

	err = m.db.Lock().WithLock("createKey", store.Exclusive, func() error {
		return m.db.SetKey(kd)
	})
	if err != nil {
		return nil, fmt.Errorf("CreateKeyFromNoteShare | %w", err)
	}

	m.setKey(ks)

	return ks, nil
}

// ExportKeyData rewraps a local key record under the root key and encodes it
// for the server.
func (m *Manager) ExportKeyData(kd store.KeyData) (string, error) {
	root, err := m.rootCrypt()
	if err != nil {
		return "", fmt.Errorf("ExportKeyData | %w", err)
	}

	local := m.LocalCrypt()
	if local == nil {
		return "", fmt.Errorf("ExportKeyData | %w", ErrNoLocalKey)
	}

	ks, err := unwrapKey(kd, local)
	if err != nil {
		return "", fmt.Errorf("ExportKeyData | %w", err)
	}

	wrapped, err := wrapKey(ks, kd.UserID, root)
	if err != nil {
		return "", fmt.Errorf("ExportKeyData | %w", err)
	}

	wrapped.Modified = kd.Modified
	wrapped.Created = kd.Created
	wrapped.Sync = kd.Sync

	b, err := json.Marshal(wrapped)
	if err != nil {
		return "", fmt.Errorf("ExportKeyData | %w", err)
	}

	return string(b), nil
}
