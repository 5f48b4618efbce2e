package agent

import (
	"crypto/rand"
	"encoding/hex"
)

// generateRequestID returns a short id that ties together the log lines
// of one Invoke call: "r_" followed by 8 hex chars.
func generateRequestID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "r_" + hex.EncodeToString(b[:])
}
