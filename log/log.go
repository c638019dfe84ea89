// Package log writes library diagnostics to the standard logger under the
// library name.
package log

import (
	"log"

	"github.com/innonova/mimiri-client-sub002/common"
)

// Truncate cuts msg to maxChars and marks the cut. A non-positive maxChars
// leaves msg whole.
func Truncate(msg string, maxChars int) string {
	if maxChars <= 0 || len(msg) <= maxChars {
		return msg
	}

	return msg[:maxChars] + "..."
}

func DebugPrint(show bool, msg string, maxChars int) {
	if !show {
		return
	}

	log.Println(common.LibName, "|", Truncate(msg, maxChars))
}
