package crypto

import (
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultPasswordAlgorithm = "PBKDF2;SHA512;256"
	Argon2PasswordAlgorithm  = "ARGON2ID;64M;1"
	DefaultIterations        = 1000000
	DefaultSaltSize          = 32
	passwordHashLength       = 32

	argon2Memory   = 64 * 1024
	argon2Parallel = 1
)

// NewSalt returns size random bytes, hex encoded.
func NewSalt(size int) (string, error) {
	b := make([]byte, size)

	if _, err := crand.Read(b); err != nil {
		return "", fmt.Errorf("NewSalt | %w", err)
	}

	return hex.EncodeToString(b), nil
}

// DeriveKey stretches the password with the named algorithm. For Argon2id the
// iterations are the time cost.
func DeriveKey(algorithm, password, salt string, iterations, keyLen int) ([]byte, error) {
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("DeriveKey | invalid salt: %w", err)
	}

	if iterations < 1 {
		return nil, fmt.Errorf("DeriveKey | invalid iterations: %d", iterations)
	}

	switch algorithm {
	case DefaultPasswordAlgorithm:
		return pbkdf2.Key([]byte(password), saltBytes, iterations, keyLen, sha512.New), nil
	case Argon2PasswordAlgorithm:
		return argon2.IDKey([]byte(password), saltBytes, uint32(iterations), argon2Memory, argon2Parallel, uint32(keyLen)), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// HashPassword returns the hex encoded password hash the server stores.
func HashPassword(password, salt, algorithm string, iterations int) (string, error) {
	dk, err := DeriveKey(algorithm, password, salt, iterations, passwordHashLength)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(dk), nil
}

// ComputeResponse answers a login challenge with HMAC-SHA256 keyed by the
// password hash. Both inputs and the output are hex encoded.
func ComputeResponse(passwordHash, challenge string) (string, error) {
	key, err := hex.DecodeString(passwordHash)
	if err != nil {
		return "", fmt.Errorf("ComputeResponse | invalid hash: %w", err)
	}

	c, err := hex.DecodeString(challenge)
	if err != nil {
		return "", fmt.Errorf("ComputeResponse | invalid challenge: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(c)

	return hex.EncodeToString(mac.Sum(nil)), nil
}
