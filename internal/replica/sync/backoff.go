package sync

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the delay before the next push retry: exponential
// growth from InitialDelay capped at MaxDelay, with optional jitter.
type Backoff struct {
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps the delay
	MaxDelay time.Duration

	// Multiplier is applied per attempt
	Multiplier float64

	// Jitter randomizes the delay by up to JitterFactor in either direction
	Jitter       bool
	JitterFactor float64
}

// DefaultBackoff returns the retry schedule used when none is configured.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		JitterFactor: 0.2,
	}
}

// NextDelay returns the delay for a 0-based retry attempt.
func (b *Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(b.InitialDelay) * math.Pow(mult, float64(attempt))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.Jitter && b.JitterFactor > 0 {
		//nolint:gosec // jitter is not security-critical
		delay += delay * b.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(b.InitialDelay)
		}
	}
	return time.Duration(delay)
}
