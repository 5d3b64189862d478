package kumo

import (
	"fmt"
	"time"
)

// AuthError means authentication failed and retrying the same request
// cannot succeed: bad credentials, or an expired token with no recovery
// path.
type AuthError struct {
	Reason string
}

func (e AuthError) Error() string {
	return "kumo auth error: " + e.Reason
}

// RateLimitError is returned on a 429 and carries how long callers must
// back off before issuing another request.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("kumo rate limited: retry after %s", e.RetryAfter)
}

// ConnectionError covers timeouts, network faults, and unexpected HTTP
// statuses.
type ConnectionError struct {
	Op     string
	Status int
	Err    error
}

func (e ConnectionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("kumo api error %d: %s", e.Status, e.Op)
	}
	return fmt.Sprintf("kumo connection error: %s: %v", e.Op, e.Err)
}

func (e ConnectionError) Unwrap() error {
	return e.Err
}

// ValidationError means the API answered with a payload whose shape we do
// not recognize.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return "kumo invalid response: " + e.Reason
}

// UpdateFailedError marks a failed poll cycle. The previously published
// snapshot, if any, remains valid and keeps being served.
type UpdateFailedError struct {
	Err error
}

func (e *UpdateFailedError) Error() string {
	return "kumo update failed: " + e.Err.Error()
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}
