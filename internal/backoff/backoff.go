package backoff

import (
	"math/rand"
	"time"
)

// Policy computes jittered exponential backoff delays. The same primitive
// serves both transient-retry backoff and rate-limit backoff; only the
// parameters differ.
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the backoff delay for the given zero-based attempt count,
// jittered by ±25% to avoid synchronized retries.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Unjittered(attempt)
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}

// Unjittered returns min(base * 2^attempt, cap) without jitter applied.
func (p Policy) Unjittered(attempt int) time.Duration {
	delay := p.Base
	for i := 0; i < attempt; i++ {
		if delay >= p.Cap {
			break
		}
		delay *= 2
	}
	if delay > p.Cap {
		delay = p.Cap
	}
	return delay
}
