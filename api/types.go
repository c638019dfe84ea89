package api

import (
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/store"
)

// BasicRequest is embedded by every signed request.
type BasicRequest struct {
	Username   string                  `json:"username"`
	Timestamp  string                  `json:"timestamp"`
	RequestID  string                  `json:"requestId"`
	Signatures []crypto.SignatureEntry `json:"signatures"`
}

func (r *BasicRequest) SignatureEntries() *[]crypto.SignatureEntry {
	return &r.Signatures
}

type PreLoginResponse struct {
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
	Algorithm  string `json:"algorithm"`
	Challenge  string `json:"challenge"`
}

type LoginRequest struct {
	Username   string `json:"username"`
	Response   string `json:"response"`
	HashLength int    `json:"hashLength"`
}

type Usage struct {
	Size          int64 `json:"size"`
	NoteCount     int64 `json:"noteCount"`
	MaxTotalBytes int64 `json:"maxTotalBytes"`
	MaxNoteBytes  int64 `json:"maxNoteBytes"`
	MaxNoteCount  int64 `json:"maxNoteCount"`
}

func (u Usage) Stats() store.UserStats {
	return store.UserStats(u)
}

type LoginResponse struct {
	UserID              string `json:"userId"`
	PublicKey           string `json:"publicKey"`
	PrivateKey          string `json:"privateKey"`
	AsymmetricAlgorithm string `json:"asymmetricAlgorithm"`
	Salt                string `json:"salt"`
	Iterations          int    `json:"iterations"`
	Algorithm           string `json:"algorithm"`
	SymmetricAlgorithm  string `json:"symmetricAlgorithm"`
	SymmetricKey        string `json:"symmetricKey"`
	Data                string `json:"data"`
	Config              string `json:"config"`
	Usage

	// PreLogin holds the parameters the response was computed from.
	PreLogin *PreLoginResponse `json:"-"`
}

// InitializationData is the bootstrap record described by a login.
func (r *LoginResponse) InitializationData() store.InitializationData {
	var pw store.KDFParams
	if r.PreLogin != nil {
		pw = store.KDFParams{
			Algorithm:  r.PreLogin.Algorithm,
			Salt:       r.PreLogin.Salt,
			Iterations: r.PreLogin.Iterations,
		}
	}

	return store.InitializationData{
		Password: pw,
		UserCrypt: store.KDFParams{
			Algorithm:  r.Algorithm,
			Salt:       r.Salt,
			Iterations: r.Iterations,
		},
		RootCrypt: store.CryptData{
			Algorithm: r.SymmetricAlgorithm,
			Key:       r.SymmetricKey,
		},
		RootSignature: store.SignatureData{
			Algorithm:  r.AsymmetricAlgorithm,
			PublicKey:  r.PublicKey,
			PrivateKey: r.PrivateKey,
		},
		UserID:   r.UserID,
		UserData: r.Data,
	}
}

// InitializationData is the bootstrap record sealed in the account data.
func (a AccountData) InitializationData(userID string, local bool) store.InitializationData {
	return store.InitializationData{
		Password: store.KDFParams{
			Algorithm:  a.Password.Algorithm,
			Salt:       a.Password.Salt,
			Iterations: a.Password.Iterations,
		},
		UserCrypt: store.KDFParams{
			Algorithm:  a.Algorithm,
			Salt:       a.Salt,
			Iterations: a.Iterations,
		},
		RootCrypt: store.CryptData{
			Algorithm: a.SymmetricAlgorithm,
			Key:       a.SymmetricKey,
		},
		RootSignature: store.SignatureData{
			Algorithm:  a.AsymmetricAlgorithm,
			PublicKey:  a.PublicKey,
			PrivateKey: a.PrivateKey,
		},
		UserID:   userID,
		UserData: a.Data,
		Local:    local,
	}
}

type UserDataResponse struct {
	Data   string `json:"data"`
	Config string `json:"config"`
	Usage
}

type PasswordInfo struct {
	Algorithm  string `json:"algorithm"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
	Hash       string `json:"hash"`
}

// AccountData is the key material sent when an account is created or changed.
type AccountData struct {
	PublicKey           string       `json:"publicKey"`
	PrivateKey          string       `json:"privateKey"`
	AsymmetricAlgorithm string       `json:"asymmetricAlgorithm"`
	Salt                string       `json:"salt"`
	Iterations          int          `json:"iterations"`
	Algorithm           string       `json:"algorithm"`
	Password            PasswordInfo `json:"password"`
	SymmetricAlgorithm  string       `json:"symmetricAlgorithm"`
	SymmetricKey        string       `json:"symmetricKey"`
	Data                string       `json:"data"`
}

type CreateUserRequest struct {
	BasicRequest
	AccountData
	Pow string `json:"pow"`
}

type UpdateUserRequest struct {
	BasicRequest
	AccountData
	OldUsername string `json:"oldUsername"`
	Response    string `json:"response"`
	HashLength  int    `json:"hashLength"`
}

type UpdateUserDataRequest struct {
	BasicRequest
	Data string `json:"data"`
}

type DeleteAccountRequest struct {
	BasicRequest
	Response   string `json:"response"`
	HashLength int    `json:"hashLength"`
}

type SyncRequest struct {
	BasicRequest
	NoteSince int64 `json:"noteSince"`
	KeySince  int64 `json:"keySince"`
}

type NoteInfoItem struct {
	NoteID   string `json:"noteId"`
	ItemType string `json:"itemType"`
	Version  int64  `json:"version"`
	Data     string `json:"data"`
	Modified string `json:"modified"`
	Created  string `json:"created"`
}

type NoteInfo struct {
	ID       string         `json:"id"`
	KeyName  string         `json:"keyName"`
	Modified string         `json:"modified"`
	Created  string         `json:"created"`
	Sync     int64          `json:"sync"`
	Items    []NoteInfoItem `json:"items"`
}

// NoteData converts the wire form to the stored mirror record.
func (n NoteInfo) NoteData() *store.NoteData {
	nd := &store.NoteData{
		ID:       n.ID,
		KeyName:  n.KeyName,
		Modified: n.Modified,
		Created:  n.Created,
		Sync:     n.Sync,
		Items:    make([]store.NoteItemData, 0, len(n.Items)),
	}

	for _, item := range n.Items {
		nd.Items = append(nd.Items, store.NoteItemData{
			Version:  item.Version,
			Type:     item.ItemType,
			Data:     item.Data,
			Modified: item.Modified,
			Created:  item.Created,
		})
	}

	return nd
}

// KeyInfo carries a key record; Data is the JSON encoded store.KeyData.
type KeyInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Data     string `json:"data"`
	Modified string `json:"modified"`
	Created  string `json:"created"`
	Sync     int64  `json:"sync"`
}

type SyncResponse struct {
	Notes        []NoteInfo `json:"notes"`
	Keys         []KeyInfo  `json:"keys"`
	DeletedNotes []string   `json:"deletedNotes"`
	Usage
}

type NoteActionType string

const (
	ActionCreate NoteActionType = "create"
	ActionUpdate NoteActionType = "update"
	ActionDelete NoteActionType = "delete"
)

type NoteActionItem struct {
	Version int64  `json:"version"`
	Type    string `json:"type"`
	Data    string `json:"data"`
}

// NoteAction is one mutation of a Multi-Action batch. Item data is sealed
// under the key named by KeyName.
type NoteAction struct {
	Type       NoteActionType   `json:"type"`
	ID         string           `json:"id"`
	KeyName    string           `json:"keyName"`
	OldKeyName string           `json:"oldKeyName,omitempty"`
	Items      []NoteActionItem `json:"items"`
}

type MultiNoteRequest struct {
	BasicRequest
	Actions []NoteAction `json:"actions"`
}

type VersionConflict struct {
	Type     string `json:"type"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

type UpdateNoteResponse struct {
	Success   bool              `json:"success"`
	Conflicts []VersionConflict `json:"conflicts"`
	Size      int64             `json:"size"`
	NoteCount int64             `json:"noteCount"`
}

type NoteSyncAction struct {
	ID      string           `json:"id"`
	KeyName string           `json:"keyName"`
	Type    NoteActionType   `json:"type"`
	Items   []NoteActionItem `json:"items"`
}

type KeySyncAction struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Type NoteActionType `json:"type"`
	Data string         `json:"data"`
}

type SyncPushRequest struct {
	BasicRequest
	Notes  []NoteSyncAction `json:"notes"`
	Keys   []KeySyncAction  `json:"keys"`
	SyncID string           `json:"syncId"`
}

const (
	StatusSuccess = "success"

	KindNote = "note"
	KindKey  = "key"
)

// SyncResult reports the outcome of one pushed note or key action.
type SyncResult struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Action    NoteActionType    `json:"action"`
	Success   bool              `json:"success"`
	Conflicts []VersionConflict `json:"conflicts"`
}

type SyncPushResponse struct {
	Status  string       `json:"status"`
	Results []SyncResult `json:"results"`
}

type ReadNoteRequest struct {
	BasicRequest
	ID      string `json:"id"`
	Include string `json:"include"`
}

type ReadNoteResponse struct {
	ID       string               `json:"id"`
	KeyName  string               `json:"keyName"`
	Modified string               `json:"modified"`
	Created  string               `json:"created"`
	Sync     int64                `json:"sync"`
	Items    []store.NoteItemData `json:"items"`
}

type CreateKeyRequest struct {
	BasicRequest
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Algorithm           string `json:"algorithm"`
	KeyData             string `json:"keyData"`
	AsymmetricAlgorithm string `json:"asymmetricAlgorithm"`
	PublicKey           string `json:"publicKey"`
	PrivateKey          string `json:"privateKey"`
	Metadata            string `json:"metadata"`
}

type PublicKeyRequest struct {
	BasicRequest
	Pow          string `json:"pow"`
	KeyOwnerName string `json:"keyOwnerName"`
}

type PublicKeyResponse struct {
	AsymmetricAlgorithm string `json:"asymmetricAlgorithm"`
	PublicKey           string `json:"publicKey"`
}

// NoteShareInfo is the plaintext of a share offer, encrypted to the recipient.
type NoteShareInfo struct {
	ID                  string `json:"id"`
	Sender              string `json:"sender"`
	Created             string `json:"created"`
	Name                string `json:"name"`
	NoteID              string `json:"noteId"`
	KeyName             string `json:"keyName"`
	Algorithm           string `json:"algorithm"`
	KeyData             string `json:"keyData"`
	AsymmetricAlgorithm string `json:"asymmetricAlgorithm"`
	PublicKey           string `json:"publicKey"`
	PrivateKey          string `json:"privateKey"`
}

type ShareNoteRequest struct {
	BasicRequest
	Recipient string `json:"recipient"`
	KeyName   string `json:"keyName"`
	Data      string `json:"data"`
}

type ShareResponse struct {
	Code string `json:"code"`
}

type ShareOfferRequest struct {
	BasicRequest
	Code string `json:"code"`
}

type ShareOffer struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	Data   string `json:"data"`
}

type ShareOffersResponse struct {
	Offers []ShareOffer `json:"offers"`
}

type DeleteShareRequest struct {
	BasicRequest
	ID string `json:"id"`
}

type NotificationURLResponse struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// EncryptedRequest wraps a body sealed to the server's public key.
type EncryptedRequest struct {
	KeyID string `json:"keyId"`
	Data  string `json:"data"`
}

type CheckUsernameRequest struct {
	Username  string `json:"username"`
	Pow       string `json:"pow"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
}

type CheckUsernameResponse struct {
	Username      string `json:"username"`
	Available     bool   `json:"available"`
	ProofAccepted bool   `json:"proofAccepted"`
	BitsExpected  int    `json:"bitsExpected"`
}
