package relay

import (
	"math/rand/v2"
	"time"
)

// backoff doubles the idle delay after failed batches, capped at max, and adds
// up to jitter so replicas do not poll in lockstep.
type backoff struct {
	base   time.Duration
	max    time.Duration
	jitter time.Duration
	cur    time.Duration
}

func newBackoff(base, max, jitter time.Duration) *backoff {
	if max < base {
		max = base
	}
	return &backoff{base: base, max: max, jitter: jitter, cur: base}
}

func (b *backoff) reset() { b.cur = b.base }

// fail grows the delay and returns the next wait.
func (b *backoff) fail() time.Duration {
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return b.wait()
}

func (b *backoff) wait() time.Duration {
	if b.jitter <= 0 {
		return b.cur
	}
	return b.cur + rand.N(b.jitter)
}
