package session

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/innonova/mimiri-client-sub002/store"
	"github.com/zalando/go-keyring"
)

const (
	KeyringService   = "mimiri"
	KeyringLoginData = "mimiri-login-data"
)

// LoginData is the snapshot persisted by PersistLogin. Data is the cached
// client config, stats and user data encrypted under the root key.
type LoginData struct {
	Username           string              `json:"username"`
	UserID             string              `json:"userId"`
	UserCryptAlgorithm string              `json:"userCryptAlgorithm"`
	RootCrypt          store.CryptData     `json:"rootCrypt"`
	RootSignature      store.SignatureData `json:"rootSignature"`
	Data               string              `json:"data"`
}

// CachedData is the plaintext of LoginData.Data.
type CachedData struct {
	ClientConfig ClientConfig    `json:"clientConfig"`
	UserStats    store.UserStats `json:"userStats"`
	UserData     store.UserData  `json:"userData"`
}

// EncodeLoginData serializes, compresses and base64 encodes the snapshot.
func EncodeLoginData(d LoginData) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("EncodeLoginData | %w", err)
	}

	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	if _, err = zw.Write(b); err != nil {
		return "", fmt.Errorf("EncodeLoginData | %w", err)
	}

	if err = zw.Close(); err != nil {
		return "", fmt.Errorf("EncodeLoginData | %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func DecodeLoginData(s string) (LoginData, error) {
	var d LoginData

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("DecodeLoginData | %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return d, fmt.Errorf("DecodeLoginData | %w", err)
	}
	defer zr.Close()

	b, err := io.ReadAll(zr)
	if err != nil {
		return d, fmt.Errorf("DecodeLoginData | %w", err)
	}

	if err = json.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("DecodeLoginData | %w", err)
	}

	return d, nil
}

// SaveLoginData writes the snapshot to the keyring. A nil k uses the OS keyring.
func SaveLoginData(k keyring.Keyring, d LoginData) error {
	s, err := EncodeLoginData(d)
	if err != nil {
		return err
	}

	if k == nil {
		err = keyring.Set(KeyringService, KeyringLoginData, s)
	} else {
		err = k.Set(KeyringService, KeyringLoginData, s)
	}

	if err != nil {
		return fmt.Errorf("SaveLoginData | %w", err)
	}

	return nil
}

// LoadLoginData returns nil without error if no snapshot has been persisted.
func LoadLoginData(k keyring.Keyring) (*LoginData, error) {
	var (
		s   string
		err error
	)

	if k == nil {
		s, err = keyring.Get(KeyringService, KeyringLoginData)
	} else {
		s, err = k.Get(KeyringService, KeyringLoginData)
	}

	if errors.Is(err, keyring.ErrNotFound) || (err == nil && s == "") {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("LoadLoginData | %w", err)
	}

	d, err := DecodeLoginData(s)
	if err != nil {
		return nil, err
	}

	return &d, nil
}

// ClearLoginData removes the snapshot. Removing a missing snapshot is not an error.
func ClearLoginData(k keyring.Keyring) error {
	var err error

	if k == nil {
		err = keyring.Delete(KeyringService, KeyringLoginData)
	} else {
		err = k.Delete(KeyringService, KeyringLoginData)
	}

	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("ClearLoginData | %w", err)
	}

	return nil
}
