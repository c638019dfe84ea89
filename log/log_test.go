package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  string
		max  int
		want string
	}{
		{"short", "sync", 10, "sync"},
		{"exact", "sync", 4, "sync"},
		{"cut", "changes-since", 7, "changes..."},
		{"unlimited", "changes-since", 0, "changes-since"},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Truncate(tt.msg, tt.max))
		})
	}
}
