package keys

import (
	"encoding/json"
	"fmt"

	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/store"
)

const (
	missingMetadata = `{"title":"[MISSING]","notes":[]}`
	emptyObject     = `{}`
)

// fallbackText is the plaintext substituted for an item that cannot be decrypted.
func fallbackText(itemType string) string {
	if itemType == common.NoteItemTypeMetadata {
		return missingMetadata
	}

	return emptyObject
}

// TryDecryptNoteItemText decrypts item data, substituting a placeholder when
// the key is missing or the data is corrupt.
func (m *Manager) TryDecryptNoteItemText(itemType, data string, crypt *crypto.Symmetric) string {
	if crypt == nil {
		m.log.Errorf("TryDecryptNoteItemText | no key for %s item", itemType)

		return fallbackText(itemType)
	}

	text, err := crypt.Decrypt(data)
	if err != nil {
		m.log.Errorf("TryDecryptNoteItemText | decryption failed for %s item: %s", itemType, err)

		return fallbackText(itemType)
	}

	return text
}

// TryDecryptNoteItemObject is TryDecryptNoteItemText followed by JSON decoding.
func (m *Manager) TryDecryptNoteItemObject(itemType, data string, crypt *crypto.Symmetric) map[string]interface{} {
	obj := map[string]interface{}{}

	if err := json.Unmarshal([]byte(m.TryDecryptNoteItemText(itemType, data, crypt)), &obj); err != nil {
		m.log.Errorf("TryDecryptNoteItemObject | %s item is not an object: %s", itemType, err)

		obj = map[string]interface{}{}
		_ = json.Unmarshal([]byte(fallbackText(itemType)), &obj)
	}

	return obj
}

// KeyCrypt returns the symmetric key for a key name, or nil if it is not loaded.
func (m *Manager) KeyCrypt(keyName string) *crypto.Symmetric {
	if ks := m.GetKeyByName(keyName); ks != nil {
		return ks.Symmetric
	}

	return nil
}

// TryReencryptNoteItemDataToLocal moves an item sealed under oldKeyName to
// the local key.
func (m *Manager) TryReencryptNoteItemDataToLocal(item store.NoteItemData, oldKeyName string) (store.NoteItemData, error) {
	local := m.LocalCrypt()
	if local == nil {
		return item, fmt.Errorf("TryReencryptNoteItemDataToLocal | %w", ErrNoLocalKey)
	}

	data, err := local.Encrypt(m.TryDecryptNoteItemText(item.Type, item.Data, m.KeyCrypt(oldKeyName)), false)
	if err != nil {
		return item, fmt.Errorf("TryReencryptNoteItemDataToLocal | %w", err)
	}

	item.Data = data

	return item, nil
}

// TryReencryptNoteItemDataFromLocal moves an item sealed under the local key
// to newKeyName, which must be loaded.
func (m *Manager) TryReencryptNoteItemDataFromLocal(item store.NoteItemData, newKeyName string) (store.NoteItemData, error) {
	target := m.KeyCrypt(newKeyName)
	if target == nil {
		return item, fmt.Errorf("TryReencryptNoteItemDataFromLocal | %w: %s", ErrKeyNotFound, newKeyName)
	}

	data, err := target.Encrypt(m.TryDecryptNoteItemText(item.Type, item.Data, m.LocalCrypt()), false)
	if err != nil {
		return item, fmt.Errorf("TryReencryptNoteItemDataFromLocal | %w", err)
	}

	item.Data = data

	return item, nil
}

// EncryptLocal seals plaintext under the local key.
func (m *Manager) EncryptLocal(text string) (string, error) {
	local := m.LocalCrypt()
	if local == nil {
		return "", ErrNoLocalKey
	}

	return local.Encrypt(text, false)
}
