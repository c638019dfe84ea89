package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomCode(t *testing.T) {
	t.Parallel()

	code := randomCode(8)
	require.Len(t, code, 8)
	require.NotEqual(t, code, randomCode(8))

	for _, r := range code {
		require.True(t, strings.ContainsRune(codeAlphabet, r))
	}

	require.Len(t, randomHex(16), 32)
	require.Empty(t, randomCode(0))
}
