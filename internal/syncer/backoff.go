package syncer

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before the next delivery attempt: exponential
// doubling from Base, capped at Cap, with up to 25% random jitter so a fleet
// of devices recovering from the same outage does not retry in lockstep.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before attempt n+1, given n failed attempts so far.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
