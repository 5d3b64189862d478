package backoff

import (
	"testing"
	"time"
)

func TestUnjitteredDoublesUpToCap(t *testing.T) {
	policy := Policy{Base: time.Second, Cap: 16 * time.Second}

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		16 * time.Second,
		16 * time.Second,
	}
	for attempt, want := range expected {
		if got := policy.Unjittered(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestUnjitteredMonotonic(t *testing.T) {
	policy := Policy{Base: 60 * time.Second, Cap: 300 * time.Second}

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		delay := policy.Unjittered(attempt)
		if delay < prev {
			t.Fatalf("attempt %d: delay %s decreased from %s", attempt, delay, prev)
		}
		if delay > policy.Cap {
			t.Fatalf("attempt %d: delay %s exceeds cap %s", attempt, delay, policy.Cap)
		}
		prev = delay
	}
}

func TestDelayJitterBounds(t *testing.T) {
	policy := Policy{Base: time.Second, Cap: 16 * time.Second}

	for attempt := 0; attempt < 6; attempt++ {
		base := policy.Unjittered(attempt)
		low := time.Duration(float64(base) * 0.75)
		high := time.Duration(float64(base) * 1.25)
		for i := 0; i < 200; i++ {
			delay := policy.Delay(attempt)
			if delay < low || delay > high {
				t.Fatalf("attempt %d: delay %s outside [%s, %s]", attempt, delay, low, high)
			}
		}
	}
}
