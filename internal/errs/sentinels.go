// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"time"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication (bad credentials, bad or expired token).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed or policy-violating input.
	ErrValidation = errors.New("validation")
)

// RetryAfter carries the lockout remaining on a rate limited call.
// It matches ErrRateLimited under errors.Is.
type RetryAfter struct {
	Wait time.Duration
}

func (e *RetryAfter) Error() string { return "rate limited, retry after " + e.Wait.Round(time.Second).String() }

func (e *RetryAfter) Unwrap() error { return ErrRateLimited }
