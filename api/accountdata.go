package api

import (
	"fmt"

	"github.com/innonova/mimiri-client-sub002/crypto"
)

// NewPasswordInfo derives a fresh password verifier with the default algorithm.
func NewPasswordInfo(password string, iterations int) (PasswordInfo, error) {
	salt, err := crypto.NewSalt(crypto.DefaultSaltSize)
	if err != nil {
		return PasswordInfo{}, err
	}

	hash, err := crypto.HashPassword(password, salt, crypto.DefaultPasswordAlgorithm, iterations)
	if err != nil {
		return PasswordInfo{}, fmt.Errorf("NewPasswordInfo | %w", err)
	}

	return PasswordInfo{
		Algorithm:  crypto.DefaultPasswordAlgorithm,
		Salt:       salt,
		Iterations: iterations,
		Hash:       hash,
	}, nil
}

// SealAccount wraps the root key and the private signing key under a key
// derived from password. userData must already be encrypted under root.
func SealAccount(password string, iterations int, pw PasswordInfo, root *crypto.Symmetric, sig *crypto.Signature, userData string) (AccountData, error) {
	salt, err := crypto.NewSalt(crypto.DefaultSaltSize)
	if err != nil {
		return AccountData{}, err
	}

	userCrypt, err := crypto.SymmetricFromPassword(crypto.DefaultSymmetricAlgorithm, password, salt, iterations)
	if err != nil {
		return AccountData{}, fmt.Errorf("SealAccount | %w", err)
	}

	pub, err := sig.PublicKeyPem()
	if err != nil {
		return AccountData{}, fmt.Errorf("SealAccount | %w", err)
	}

	priv, err := sig.PrivateKeyPem()
	if err != nil {
		return AccountData{}, fmt.Errorf("SealAccount | %w", err)
	}

	wrappedPriv, err := userCrypt.Encrypt(priv, false)
	if err != nil {
		return AccountData{}, fmt.Errorf("SealAccount | %w", err)
	}

	wrappedRoot, err := userCrypt.EncryptBytes(root.Key())
	if err != nil {
		return AccountData{}, fmt.Errorf("SealAccount | %w", err)
	}

	return AccountData{
		PublicKey:           pub,
		PrivateKey:          wrappedPriv,
		AsymmetricAlgorithm: sig.Algorithm(),
		Salt:                salt,
		Iterations:          iterations,
		Algorithm:           userCrypt.Algorithm(),
		Password:            pw,
		SymmetricAlgorithm:  root.Algorithm(),
		SymmetricKey:        wrappedRoot,
		Data:                userData,
	}, nil
}
