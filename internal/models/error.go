package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")

	// Attempt guard errors
	ErrMissingField       = errors.New("identity field missing")
	ErrStoreUnavailable   = errors.New("attempt store unavailable")
	ErrInvariantViolation = errors.New("attempt record missing after increment")
	ErrRateLimited        = errors.New("too many attempts")
)

// MissingFieldError reports that the configured identity field was absent or
// not a non-empty string
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("identity field %q is missing or malformed", e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// RateLimitedError is the expected outcome for an identity inside its penalty
// window. It is not an application fault.
type RateLimitedError struct {
	Family     AttemptFamily
	RetryAfter time.Duration // remaining lockout, or the capped base when Capped
	Capped     bool          // the penalty was jittered past the hard ceiling
	Ceiling    time.Duration
}

func (e *RateLimitedError) Error() string {
	return e.Message()
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds the remaining lockout up to whole seconds
func (e *RateLimitedError) RetryAfterSeconds() int64 {
	if e.Capped {
		return int64(e.Ceiling / time.Second)
	}
	return int64(math.Ceil(e.RetryAfter.Seconds()))
}

// Message is the client facing text. A capped penalty never reveals the
// jittered value.
func (e *RateLimitedError) Message() string {
	subject := "Too many attempts"
	if e.Family == FamilySignUp {
		subject = "Too many sign up attempts"
	}
	if e.Capped {
		return fmt.Sprintf("%s. Try again after more than %d seconds.", subject, int64(e.Ceiling/time.Second))
	}
	return fmt.Sprintf("%s. Try again after %d seconds.", subject, e.RetryAfterSeconds())
}
