package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DefaultProofBits is the work asked for until the server states otherwise.
const DefaultProofBits = 15

// ComputeProofOfWork searches for a message ending in value whose SHA-256
// digest starts with bits zero bits. The result is "<hex digest>::<message>".
func ComputeProofOfWork(value string, bits int) string {
	fullBytes := bits / 8
	remaining := bits - fullBytes*8
	mask := byte(0xff << (8 - remaining))

	hash := "-"

	for nonce := 0; ; nonce++ {
		message := fmt.Sprintf("%s:%s:%d:%s", strconv.FormatInt(time.Now().UnixMilli(), 10), hash, nonce, value)
		sum := sha256.Sum256([]byte(message))
		hash = hex.EncodeToString(sum[:])

		if hasLeadingZeroBits(sum[:], fullBytes, mask) {
			return hash + "::" + message
		}
	}
}

func hasLeadingZeroBits(sum []byte, fullBytes int, mask byte) bool {
	for i := 0; i < fullBytes; i++ {
		if sum[i] != 0 {
			return false
		}
	}

	return sum[fullBytes]&mask == 0
}
