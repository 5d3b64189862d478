package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/joshp123/kumocloud-golang/internal/backoff"
)

// Limiter bounds concurrent requests against the Kumo Cloud API and tracks
// consecutive 429 responses so backoff grows while the backend keeps
// rejecting us.
type Limiter struct {
	gate   chan struct{}
	policy backoff.Policy

	mu          sync.Mutex
	consecutive int
}

func NewLimiter(maxConcurrent int, policy backoff.Policy) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		gate:   make(chan struct{}, maxConcurrent),
		policy: policy,
	}
}

// Acquire blocks until a request slot is free or the context is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) Release() {
	<-l.gate
}

// RetryAfter records a 429 response and returns how long callers must back
// off: the larger of the server's Retry-After hint and the exponential
// backoff for the current consecutive-429 count.
func (l *Limiter) RetryAfter(serverHint time.Duration) time.Duration {
	l.mu.Lock()
	attempt := l.consecutive
	l.consecutive++
	l.mu.Unlock()

	consecutiveGauge.Set(float64(attempt + 1))

	delay := l.policy.Delay(attempt)
	if serverHint > delay {
		delay = serverHint
	}
	retryAfterGauge.Set(delay.Seconds())
	return delay
}

// RecordSuccess resets the consecutive-429 count. Any response from the
// backend that is not a 429 counts.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	l.consecutive = 0
	l.mu.Unlock()
	consecutiveGauge.Set(0)
}

// Consecutive returns the current consecutive-429 count.
func (l *Limiter) Consecutive() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consecutive
}

// Window is the rate-limit backoff window opened after a 429. While the
// window is active the coordinator skips network cycles entirely. The
// window clears lazily on the next check once the deadline passes.
type Window struct {
	mu    sync.Mutex
	until time.Time
}

// Open extends the window to now+retryAfter. The deadline only ever moves
// forward; a shorter hint never shrinks an already open window.
func (w *Window) Open(retryAfter time.Duration) {
	deadline := time.Now().Add(retryAfter)
	w.mu.Lock()
	if deadline.After(w.until) {
		w.until = deadline
	}
	until := w.until
	w.mu.Unlock()
	windowGauge.Set(float64(until.Unix()))
}

func (w *Window) Clear() {
	w.mu.Lock()
	w.until = time.Time{}
	w.mu.Unlock()
	windowGauge.Set(0)
}

// Remaining returns how long the window stays active, or 0 if it is not.
// An expired window is cleared as a side effect.
func (w *Window) Remaining(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.until.IsZero() {
		return 0
	}
	if !now.Before(w.until) {
		w.until = time.Time{}
		windowGauge.Set(0)
		return 0
	}
	return w.until.Sub(now)
}

// Active reports whether the window currently blocks outbound requests.
func (w *Window) Active(now time.Time) bool {
	return w.Remaining(now) > 0
}
