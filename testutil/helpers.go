package testutil

import (
	"testing"
	"time"
)

// MakePattern fills a buffer with a deterministic byte pattern.
func MakePattern(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i) // automatically mod-256
	}
	return data
}

// MutatePattern modifies one byte of the payload, the way the loopback
// speed test perturbs its buffer between trials.
func MutatePattern(data []byte, trial int) {
	data[trial%len(data)] += 5
}

// WaitUntil polls cond every millisecond until it holds or the timeout
// expires.
func WaitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}
