package crypto

import (
	"crypto"
	crand "crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultAsymmetricAlgorithm = "RSA;4096"

	pemTypePublic  = "PUBLIC KEY"
	pemTypePrivate = "PRIVATE KEY"
	hybridSep      = "|"
)

var (
	ErrNoPrivateKey     = errors.New("private key not available")
	ErrSignatureMissing = errors.New("signature missing")
)

type SignatureEntry struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// Signable is implemented by requests carrying a signature list. The signed
// payload is the JSON encoding of the request with the list cleared.
type Signable interface {
	SignatureEntries() *[]SignatureEntry
}

// Signature is an RSA key pair used to sign requests and to receive
// encrypted share offers.
type Signature struct {
	algorithm string
	private   *rsa.PrivateKey
	public    *rsa.PublicKey
}

func parseBits(algorithm string) (int, error) {
	parts := strings.Split(algorithm, ";")
	if len(parts) != 2 || parts[0] != "RSA" {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	bits, err := strconv.Atoi(parts[1])
	if err != nil || bits < 1024 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	return bits, nil
}

func NewSignature(algorithm string) (*Signature, error) {
	bits, err := parseBits(algorithm)
	if err != nil {
		return nil, err
	}

	key, err := rsa.GenerateKey(crand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("NewSignature | %w", err)
	}

	return &Signature{
		algorithm: algorithm,
		private:   key,
		public:    &key.PublicKey,
	}, nil
}

// SignatureFromPem loads a key pair. privatePem may be empty for a
// verify/encrypt only instance.
func SignatureFromPem(algorithm, publicPem, privatePem string) (*Signature, error) {
	if _, err := parseBits(algorithm); err != nil {
		return nil, err
	}

	s := &Signature{algorithm: algorithm}

	block, _ := pem.Decode([]byte(publicPem))
	if block == nil || block.Type != pemTypePublic {
		return nil, fmt.Errorf("SignatureFromPem | invalid public key")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("SignatureFromPem | %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("SignatureFromPem | public key is not RSA")
	}

	s.public = rsaPub

	if privatePem == "" {
		return s, nil
	}

	block, _ = pem.Decode([]byte(privatePem))
	if block == nil || block.Type != pemTypePrivate {
		return nil, fmt.Errorf("SignatureFromPem | invalid private key")
	}

	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("SignatureFromPem | %w", err)
	}

	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("SignatureFromPem | private key is not RSA")
	}

	s.private = rsaPriv

	return s, nil
}

func (s *Signature) Algorithm() string {
	return s.algorithm
}

func (s *Signature) PublicKeyPem() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(s.public)
	if err != nil {
		return "", err
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: der})), nil
}

func (s *Signature) PrivateKeyPem() (string, error) {
	if s.private == nil {
		return "", ErrNoPrivateKey
	}

	der, err := x509.MarshalPKCS8PrivateKey(s.private)
	if err != nil {
		return "", err
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePrivate, Bytes: der})), nil
}

func (s *Signature) SignBytes(data []byte) (string, error) {
	if s.private == nil {
		return "", ErrNoPrivateKey
	}

	digest := sha256.Sum256(data)

	sig, err := rsa.SignPKCS1v15(crand.Reader, s.private, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("SignBytes | %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *Signature) VerifyBytes(data []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("VerifyBytes | %w", err)
	}

	digest := sha256.Sum256(data)

	return rsa.VerifyPKCS1v15(s.public, crypto.SHA256, digest[:], sig)
}

func signaturePayload(req Signable) ([]byte, error) {
	entries := req.SignatureEntries()
	saved := *entries
	*entries = nil

	defer func() {
		*entries = saved
	}()

	return json.Marshal(req)
}

// Sign appends a signature under name to the request.
func (s *Signature) Sign(name string, req Signable) error {
	payload, err := signaturePayload(req)
	if err != nil {
		return fmt.Errorf("Sign | %w", err)
	}

	sig, err := s.SignBytes(payload)
	if err != nil {
		return err
	}

	entries := req.SignatureEntries()
	*entries = append(*entries, SignatureEntry{Name: name, Signature: sig})

	return nil
}

// Verify checks the signature stored under name.
func (s *Signature) Verify(name string, req Signable) error {
	var sig string

	for _, e := range *req.SignatureEntries() {
		if e.Name == name {
			sig = e.Signature
			break
		}
	}

	if sig == "" {
		return fmt.Errorf("%w: %s", ErrSignatureMissing, name)
	}

	payload, err := signaturePayload(req)
	if err != nil {
		return fmt.Errorf("Verify | %w", err)
	}

	return s.VerifyBytes(payload, sig)
}

// Encrypt wraps a fresh symmetric key with RSA-OAEP and seals the text
// under it.
func (s *Signature) Encrypt(text string) (string, error) {
	sym, err := NewSymmetric(DefaultSymmetricAlgorithm)
	if err != nil {
		return "", err
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), crand.Reader, s.public, sym.Key(), nil)
	if err != nil {
		return "", fmt.Errorf("Encrypt | %w", err)
	}

	body, err := sym.Encrypt(text, true)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(wrapped) + hybridSep + body, nil
}

func (s *Signature) Decrypt(in string) (string, error) {
	if s.private == nil {
		return "", ErrNoPrivateKey
	}

	parts := strings.SplitN(in, hybridSep, 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: missing wrapped key", ErrInvalidCipherText)
	}

	wrapped, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidCipherText, err.Error())
	}

	key, err := rsa.DecryptOAEP(sha256.New(), crand.Reader, s.private, wrapped, nil)
	if err != nil {
		return "", fmt.Errorf("Decrypt | %w", err)
	}

	sym, err := SymmetricFromKey(DefaultSymmetricAlgorithm, key)
	if err != nil {
		return "", err
	}

	return sym.Decrypt(parts[1])
}
