package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testAsymmetricAlgorithm = "RSA;2048"

type testRequest struct {
	Payload    string           `json:"payload"`
	Signatures []SignatureEntry `json:"signatures"`
}

func (r *testRequest) SignatureEntries() *[]SignatureEntry {
	return &r.Signatures
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	sig, err := NewSignature(testAsymmetricAlgorithm)
	require.NoError(t, err)

	req := &testRequest{Payload: "abc"}
	require.NoError(t, sig.Sign("user", req))
	require.Len(t, req.Signatures, 1)
	require.Equal(t, "user", req.Signatures[0].Name)

	require.NoError(t, sig.Verify("user", req))
	require.ErrorIs(t, sig.Verify("key", req), ErrSignatureMissing)

	req.Payload = "tampered"
	require.Error(t, sig.Verify("user", req))
}

func TestSignMultiple(t *testing.T) {
	t.Parallel()

	a, err := NewSignature(testAsymmetricAlgorithm)
	require.NoError(t, err)
	b, err := NewSignature(testAsymmetricAlgorithm)
	require.NoError(t, err)

	req := &testRequest{Payload: "abc"}
	require.NoError(t, a.Sign("user", req))
	require.NoError(t, b.Sign("key-1", req))

	require.NoError(t, a.Verify("user", req))
	require.NoError(t, b.Verify("key-1", req))
	require.Error(t, a.Verify("key-1", req))
}

func TestSignatureFromPem(t *testing.T) {
	t.Parallel()

	sig, err := NewSignature(testAsymmetricAlgorithm)
	require.NoError(t, err)

	pub, err := sig.PublicKeyPem()
	require.NoError(t, err)
	priv, err := sig.PrivateKeyPem()
	require.NoError(t, err)

	full, err := SignatureFromPem(testAsymmetricAlgorithm, pub, priv)
	require.NoError(t, err)

	verifier, err := SignatureFromPem(testAsymmetricAlgorithm, pub, "")
	require.NoError(t, err)

	req := &testRequest{Payload: "x"}
	require.NoError(t, full.Sign("user", req))
	require.NoError(t, verifier.Verify("user", req))

	require.ErrorIs(t, verifier.Sign("user", req), ErrNoPrivateKey)

	_, err = SignatureFromPem(testAsymmetricAlgorithm, "garbage", "")
	require.Error(t, err)

	_, err = SignatureFromPem("DSA;1024", pub, "")
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestSignatureHybridEncryption(t *testing.T) {
	t.Parallel()

	sig, err := NewSignature(testAsymmetricAlgorithm)
	require.NoError(t, err)

	pub, err := sig.PublicKeyPem()
	require.NoError(t, err)

	sender, err := SignatureFromPem(testAsymmetricAlgorithm, pub, "")
	require.NoError(t, err)

	ct, err := sender.Encrypt(`{"keyName":"k"}`)
	require.NoError(t, err)

	_, err = sender.Decrypt(ct)
	require.ErrorIs(t, err, ErrNoPrivateKey)

	pt, err := sig.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, `{"keyName":"k"}`, pt)

	_, err = sig.Decrypt("no-separator")
	require.ErrorIs(t, err, ErrInvalidCipherText)
}
