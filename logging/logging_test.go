package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T, fn func()) string {
	t.Helper()

	var buf bytes.Buffer

	orig := log.Writer()
	log.SetOutput(&buf)

	defer log.SetOutput(orig)

	fn()

	return buf.String()
}

func TestDebugfHiddenWhenDebugDisabled(t *testing.T) {
	l := New(false, "store")
	out := captureLog(t, func() { l.Debugf("opened %s", "db") })
	require.Empty(t, out)
}

func TestDebugfTruncates(t *testing.T) {
	l := New(true, "sync")
	l.MaxChars = 20
	out := captureLog(t, func() { l.Debugf("%s", strings.Repeat("x", 50)) })
	require.Contains(t, out, "sync | ")
	require.Contains(t, out, "...")
	require.NotContains(t, out, strings.Repeat("x", 30))
}

func TestErrorfAlwaysPrinted(t *testing.T) {
	l := New(false, "keys")
	out := captureLog(t, func() { l.Errorf("failed to load key %s", "abc") })
	require.Contains(t, out, "failed to load key abc")
	require.Contains(t, out, "keys")
}
