package store

// NoteItemData is one encrypted facet of a note.
type NoteItemData struct {
	Version  int64  `json:"version"`
	Type     string `json:"type"`
	Data     string `json:"data"`
	Modified string `json:"modified"`
	Created  string `json:"created"`
}

// NoteData is a note as persisted: every item is ciphertext. Local-dirty copies
// carry Base, the remote mirror as it was when the first local edit was made.
type NoteData struct {
	ID       string         `json:"id"`
	KeyName  string         `json:"keyName"`
	Items    []NoteItemData `json:"items"`
	Modified string         `json:"modified"`
	Created  string         `json:"created"`
	Sync     int64          `json:"sync"`
	Base     *NoteData      `json:"base,omitempty"`
}

// Size is the number of ciphertext bytes held by the note's items.
func (n *NoteData) Size() int64 {
	if n == nil {
		return 0
	}

	var total int64
	for _, item := range n.Items {
		total += int64(len(item.Data))
	}

	return total
}

// Item returns the item of the given type or nil.
func (n *NoteData) Item(itemType string) *NoteItemData {
	for i := range n.Items {
		if n.Items[i].Type == itemType {
			return &n.Items[i]
		}
	}

	return nil
}

// Clone returns a deep copy, including the base snapshot.
func (n *NoteData) Clone() *NoteData {
	if n == nil {
		return nil
	}

	c := *n
	c.Items = append([]NoteItemData(nil), n.Items...)
	c.Base = n.Base.Clone()

	return &c
}

func (n NoteData) GetID() string {
	return n.ID
}

// KeyData is a wrapped key record. KeyData, PrivateKey and Metadata are
// encrypted under the root key for mirror records and under the local key for
// dirty records.
type KeyData struct {
	ID                  string `json:"id"`
	UserID              string `json:"userId"`
	Name                string `json:"name"`
	Algorithm           string `json:"algorithm"`
	KeyData             string `json:"keyData"`
	AsymmetricAlgorithm string `json:"asymmetricAlgorithm"`
	PublicKey           string `json:"publicKey"`
	PrivateKey          string `json:"privateKey"`
	Metadata            string `json:"metadata"`
	Modified            string `json:"modified"`
	Created             string `json:"created"`
	Sync                int64  `json:"sync"`
}

func (k KeyData) GetID() string {
	return k.ID
}

type KeyMetadata struct {
	Shared bool `json:"shared"`
	Root   bool `json:"root"`
}

type KDFParams struct {
	Algorithm  string `json:"algorithm"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
}

type CryptData struct {
	Algorithm string `json:"algorithm"`
	Key       string `json:"key"`
}

type SignatureData struct {
	Algorithm  string `json:"algorithm"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// InitializationData is the bootstrap record of a password protected account.
// RootCrypt.Key and RootSignature.PrivateKey are wrapped by the key derived
// from the password with UserCrypt; UserData is encrypted under the root key.
type InitializationData struct {
	Password      KDFParams     `json:"password"`
	UserCrypt     KDFParams     `json:"userCrypt"`
	RootCrypt     CryptData     `json:"rootCrypt"`
	RootSignature SignatureData `json:"rootSignature"`
	UserID        string        `json:"userId"`
	UserData      string        `json:"userData"`
	Local         bool          `json:"local,omitempty"`
}

// LocalUserData holds the obfuscated root key of an account-less store.
type LocalUserData struct {
	RootCrypt CryptData `json:"rootCrypt"`
}

// LocalData holds the device-local key wrapped under the root key.
type LocalData struct {
	LocalCrypt CryptData `json:"localCrypt"`
}

type LocalState struct {
	FirstLogin     bool  `json:"firstLogin"`
	WorkOffline    bool  `json:"workOffline"`
	SizeDelta      int64 `json:"sizeDelta"`
	NoteCountDelta int64 `json:"noteCountDelta"`
	Size           int64 `json:"size"`
	NoteCount      int64 `json:"noteCount"`
}

type UserStats struct {
	Size          int64 `json:"size"`
	NoteCount     int64 `json:"noteCount"`
	MaxTotalBytes int64 `json:"maxTotalBytes"`
	MaxNoteBytes  int64 `json:"maxNoteBytes"`
	MaxNoteCount  int64 `json:"maxNoteCount"`
}

// UserData is the opaque per-user blob, typed.
type UserData struct {
	RootNote       string `json:"rootNote"`
	RootKey        string `json:"rootKey"`
	CreateComplete bool   `json:"createComplete"`
}

type LastSync struct {
	NoteSync int64 `json:"lastNoteSync"`
	KeySync  int64 `json:"lastKeySync"`
}

// NameMapping maps a logical account name to its database file.
type NameMapping struct {
	LogicalName string `storm:"id"`
	ActualName  string
}
