package harvest

import (
	"fmt"
	"time"
)

// FetchError covers network failures, timeouts and unexpected HTTP status
// codes. Retried via reschedule, never in-cycle.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// HostOverloadedError signals that the target host is rate-limiting us.
// Fatal for the current cycle; propagated past the orchestrator boundary so
// an upstream concurrency limiter can react.
type HostOverloadedError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *HostOverloadedError) Error() string {
	return fmt.Sprintf("host overloading on %s, retry after %s", e.URL, e.RetryAfter)
}

// ParseError marks a malformed feed or page. Treated as a harvest failure
// and converted into backoff.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
