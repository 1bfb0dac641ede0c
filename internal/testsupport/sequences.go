package testsupport

import (
	"fmt"
	"sync/atomic"
	"time"
)

var testSequence uint64

func init() {
	// Seed with the current timestamp so names stay unique across runs
	// against the same database.
	testSequence = uint64(time.Now().UnixNano() % 1000000)
}

// NextSequence returns the next unique sequence number
func NextSequence() uint64 {
	return atomic.AddUint64(&testSequence, 1)
}

// UniqueName generates a unique name with the given prefix.
// Example: UniqueName("session") -> "session_123456"
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, NextSequence())
}
