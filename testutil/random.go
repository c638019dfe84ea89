package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

const codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomCode returns an n character share code.
func randomCode(n int) string {
	limit := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, n)

	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(err)
		}

		b[i] = codeAlphabet[idx.Int64()]
	}

	return string(b)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}

	return hex.EncodeToString(b)
}
