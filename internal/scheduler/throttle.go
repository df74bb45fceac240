package scheduler

import (
	"sync/atomic"
	"time"
)

// throttle staggers concurrent fetches across a window of pieces
// seconds. Each acquire takes the next slot modulo the window; releasing
// frees the slot so long-term occupancy stays proportional to the number
// of in-flight fetches, not to the total ever started.
type throttle struct {
	pieces  int64
	counter atomic.Int64
}

func newThrottle(pieces int64) *throttle {
	if pieces < 1 {
		pieces = 1
	}
	return &throttle{pieces: pieces}
}

// acquire returns the slot delay and a release that must be called when
// the fetch finishes.
func (t *throttle) acquire() (time.Duration, func()) {
	n := t.counter.Add(1) - 1
	var released atomic.Bool
	release := func() {
		if released.CompareAndSwap(false, true) {
			t.counter.Add(-1)
		}
	}
	return time.Duration(n%t.pieces) * time.Second, release
}
