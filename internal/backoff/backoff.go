// Package backoff implements the retry delay policy shared by the external
// API client and the job queue's failure rescheduling.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Default policy values
const (
	// DefaultBase is the default base delay
	DefaultBase = 5 * time.Second
	// DefaultCap is the default upper bound applied before jitter
	DefaultCap = 5 * time.Minute
)

// Policy computes exponential retry delays with a cap and jitter.
//
// delay(attempt) = min(cap, base * 2^attempt) * jitter, jitter in [0.5, 1.5).
// Exponential growth avoids synchronized retry storms against a rate-limited
// upstream, the cap bounds worst-case staleness, and jitter desynchronizes
// concurrent workers. attempt is 1-indexed: the first retry passes 1.
type Policy struct {
	base time.Duration
	cap  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Policy with a time-seeded jitter source.
func New(base, cap time.Duration) *Policy {
	return NewWithSeed(base, cap, time.Now().UnixNano())
}

// NewWithSeed creates a Policy with a deterministic jitter source. Given the
// same seed and attempt sequence the delays are reproducible.
func NewWithSeed(base, cap time.Duration, seed int64) *Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Policy{
		base: base,
		cap:  cap,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Delay returns the jittered delay for the given 1-indexed attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.cap || d <= 0 {
			d = p.cap
			break
		}
	}

	p.mu.Lock()
	jitter := 0.5 + p.rng.Float64()
	p.mu.Unlock()

	return time.Duration(float64(d) * jitter)
}
