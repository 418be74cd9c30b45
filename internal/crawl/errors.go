package crawl

import (
	"errors"
	"fmt"
	"net"
)

// Disposition classifies a failed attempt so the retry layer knows whether
// to rotate identity, back off, or give up.
type Disposition int

const (
	// DispositionTransient failures (5xx, timeouts, connection resets) are
	// retried with backoff against the same identity.
	DispositionTransient Disposition = iota
	// DispositionRateLimited failures (403, 429) mean the platform is
	// pushing back on this identity; retry with a different one.
	DispositionRateLimited
	// DispositionPermanent failures (404, 400, parse errors) will not
	// improve on retry.
	DispositionPermanent
)

// String implements fmt.Stringer.
func (d Disposition) String() string {
	switch d {
	case DispositionRateLimited:
		return "rate_limited"
	case DispositionPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Error is a crawl failure carrying its retry disposition and, when the
// failure came from an HTTP response, the status code.
type Error struct {
	Disposition Disposition
	StatusCode  int
	Err         error
}

// Error implements error.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("crawl failed (%s, status %d): %v", e.Disposition, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("crawl failed (%s): %v", e.Disposition, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) *Error {
	return &Error{Disposition: DispositionTransient, Err: err}
}

// RateLimited wraps err as platform pushback against the current identity.
func RateLimited(statusCode int, err error) *Error {
	return &Error{Disposition: DispositionRateLimited, StatusCode: statusCode, Err: err}
}

// Permanent wraps err as a failure retries cannot fix.
func Permanent(err error) *Error {
	return &Error{Disposition: DispositionPermanent, Err: err}
}

// FromStatus maps an HTTP status to a tagged Error.
func FromStatus(statusCode int, err error) *Error {
	switch {
	case statusCode == 403 || statusCode == 429:
		return RateLimited(statusCode, err)
	case statusCode >= 500:
		return &Error{Disposition: DispositionTransient, StatusCode: statusCode, Err: err}
	default:
		return &Error{Disposition: DispositionPermanent, StatusCode: statusCode, Err: err}
	}
}

// Classify returns the disposition of any error. Untagged network timeouts
// count as transient; everything else untagged is treated as transient too,
// since retrying an unknown failure is cheaper than dropping work.
func Classify(err error) Disposition {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Disposition
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return DispositionTransient
	}
	return DispositionTransient
}
