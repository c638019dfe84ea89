package crypto

import (
	"bytes"
	"compress/gzip"
	"crypto/cipher"
	crand "crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// Encryption - Specifics
//
// An encrypted payload is a protocol string joined by colons : of the following components:
// - protocol version (also used as authenticated data)
// - hex encoded encryption nonce
// - base64 encoded ciphertext
//
// The plaintext sealed into the ciphertext starts with a four byte header. A
// header of 00 00 00 01 marks a gzip compressed payload, 00 00 00 00 a raw one.

const (
	DefaultSymmetricAlgorithm = "XCHACHA20;POLY1305;32"

	// KeySize is the size of the key used by this AEAD, in bytes.
	KeySize = 32

	// NonceSizeX is the size of the nonce used with the XChaCha20-Poly1305
	// variant of this AEAD, in bytes.
	NonceSizeX = 24

	MaxPlaintextSize = 10000000

	protocolVersion = "001"
	headerSize      = 4
)

var (
	headerRaw  = []byte{0, 0, 0, 0}
	headerGzip = []byte{0, 0, 0, 1}

	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidCipherText    = errors.New("invalid cipher text")
)

func SplitContent(in string) (version, nonce, cipherText string, err error) {
	components := strings.Split(in, ":")
	if len(components) != 3 {
		return "", "", "", fmt.Errorf("%w: expected 3 components but found %d", ErrInvalidCipherText, len(components))
	}

	version = components[0]    // protocol version
	nonce = components[1]      // encryption nonce
	cipherText = components[2] // ciphertext

	return
}

func hexDecodeStrings(in string, noBytes int) (dn []byte, err error) {
	return hexDecodeBytes([]byte(in), noBytes)
}

func hexDecodeBytes(in []byte, noBytes int) (dn []byte, err error) {
	if hex.DecodedLen(len(in)) != noBytes {
		return nil, fmt.Errorf("expected %d bytes but found %d", noBytes, hex.DecodedLen(len(in)))
	}

	dn = make([]byte, noBytes)

	if _, err = hex.Decode(dn, in); err != nil {
		return
	}

	return
}

func GenerateNonce() []byte {
	bNonce := make([]byte, chacha20poly1305.NonceSizeX)

	_, err := crand.Read(bNonce)
	if err != nil {
		panic(err)
	}

	return bNonce
}

// Symmetric is a key bound AEAD cipher used for every symmetric key in the
// hierarchy: root, device-local, per-note and password derived keys.
type Symmetric struct {
	algorithm string
	key       []byte
	aead      cipher.AEAD
}

// NewSymmetric creates a cipher with a freshly generated random key.
func NewSymmetric(algorithm string) (*Symmetric, error) {
	key := make([]byte, KeySize)

	if _, err := crand.Read(key); err != nil {
		return nil, fmt.Errorf("NewSymmetric | %w", err)
	}

	return SymmetricFromKey(algorithm, key)
}

func SymmetricFromKey(algorithm string, key []byte) (*Symmetric, error) {
	if algorithm != DefaultSymmetricAlgorithm {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	if len(key) != KeySize {
		return nil, fmt.Errorf("SymmetricFromKey | expected key of %d bytes but found %d", KeySize, len(key))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	return &Symmetric{
		algorithm: algorithm,
		key:       append([]byte(nil), key...),
		aead:      aead,
	}, nil
}

// SymmetricFromKeyString creates a cipher from a hex encoded key.
func SymmetricFromKeyString(algorithm, key string) (*Symmetric, error) {
	kb, err := hexDecodeStrings(key, KeySize)
	if err != nil {
		return nil, fmt.Errorf("SymmetricFromKeyString | %w", err)
	}

	return SymmetricFromKey(algorithm, kb)
}

// SymmetricFromPassword derives the key with PBKDF2-SHA512 from the password
// and the hex encoded salt.
func SymmetricFromPassword(algorithm, password, salt string, iterations int) (*Symmetric, error) {
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("SymmetricFromPassword | invalid salt: %w", err)
	}

	if iterations < 1 {
		return nil, fmt.Errorf("SymmetricFromPassword | invalid iterations: %d", iterations)
	}

	key := pbkdf2.Key([]byte(password), saltBytes, iterations, KeySize, sha512.New)

	return SymmetricFromKey(algorithm, key)
}

func (s *Symmetric) Algorithm() string {
	return s.algorithm
}

// Key returns a copy of the raw key.
func (s *Symmetric) Key() []byte {
	return append([]byte(nil), s.key...)
}

// KeyString returns the hex encoded key.
func (s *Symmetric) KeyString() string {
	return hex.EncodeToString(s.key)
}

func (s *Symmetric) seal(payload []byte) string {
	nonce := GenerateNonce()
	sealed := s.aead.Seal(nil, nonce, payload, []byte(protocolVersion))

	return protocolVersion + ":" + hex.EncodeToString(nonce) + ":" + base64.StdEncoding.EncodeToString(sealed)
}

func (s *Symmetric) open(in string) ([]byte, error) {
	version, nonce, cipherText, err := SplitContent(in)
	if err != nil {
		return nil, err
	}

	if version != protocolVersion {
		return nil, fmt.Errorf("%w: unsupported protocol version %s", ErrInvalidCipherText, version)
	}

	hexDecodedNonce, err := hexDecodeStrings(nonce, NonceSizeX)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCipherText, err.Error())
	}

	dct, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCipherText, err.Error())
	}

	plaintext, err := s.aead.Open(nil, hexDecodedNonce, dct, []byte(version))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}

// Encrypt seals the text, gzip compressing it first when compress is set.
func (s *Symmetric) Encrypt(text string, compress bool) (string, error) {
	if len(text) > MaxPlaintextSize {
		return "", fmt.Errorf("Encrypt | plaintext of %d bytes exceeds limit of %d", len(text), MaxPlaintextSize)
	}

	if !compress {
		return s.seal(append(append([]byte(nil), headerRaw...), text...)), nil
	}

	var buf bytes.Buffer

	buf.Write(headerGzip)

	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return "", fmt.Errorf("Encrypt | %w", err)
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("Encrypt | %w", err)
	}

	return s.seal(buf.Bytes()), nil
}

func (s *Symmetric) Decrypt(in string) (string, error) {
	pt, err := s.open(in)
	if err != nil {
		return "", err
	}

	if len(pt) < headerSize {
		return "", fmt.Errorf("%w: missing header", ErrInvalidCipherText)
	}

	header, body := pt[:headerSize], pt[headerSize:]

	switch {
	case bytes.Equal(header, headerRaw):
		return string(body), nil
	case bytes.Equal(header, headerGzip):
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("Decrypt | %w", err)
		}

		defer func() {
			_ = zr.Close()
		}()

		out, err := io.ReadAll(io.LimitReader(zr, MaxPlaintextSize+1))
		if err != nil {
			return "", fmt.Errorf("Decrypt | %w", err)
		}

		return string(out), nil
	default:
		return "", fmt.Errorf("%w: unknown header %x", ErrInvalidCipherText, header)
	}
}

// EncryptBytes seals raw key material without a header.
func (s *Symmetric) EncryptBytes(b []byte) (string, error) {
	if len(b) > MaxPlaintextSize {
		return "", fmt.Errorf("EncryptBytes | plaintext of %d bytes exceeds limit of %d", len(b), MaxPlaintextSize)
	}

	return s.seal(b), nil
}

func (s *Symmetric) DecryptBytes(in string) ([]byte, error) {
	return s.open(in)
}
