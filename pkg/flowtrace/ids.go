package flowtrace

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

const (
	traceIDBytes = 16 // 128 bits -> 32 hex chars
	spanIDBytes  = 8  // 64 bits -> 16 hex chars
)

// newTraceID returns a 32 lowercase hex char trace identifier. The all-zero
// value is never returned.
func newTraceID() string {
	return hex.EncodeToString(randomNonZero(traceIDBytes))
}

// newSpanID returns a 16 lowercase hex char span identifier. The all-zero
// value is never returned.
func newSpanID() string {
	return hex.EncodeToString(randomNonZero(spanIDBytes))
}

// randomNonZero draws n bytes from crypto/rand, retrying on the all-zero
// draw. If the system CSPRNG itself errors (practically never, but the
// teacher's own middlewares.go plans for it), it falls back to a uuid.New()
// derived source rather than panicking.
func randomNonZero(n int) []byte {
	b := make([]byte, n)
	for {
		if _, err := rand.Read(b); err != nil {
			id := uuid.New()
			copy(b, id[:])
		}
		if !allZero(b) {
			return b
		}
	}
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
