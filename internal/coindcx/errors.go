package coindcx

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested market does not exist.
var ErrNotFound = errors.New("market not found")

// TransientError is a network, rate-limit or server-side failure that
// survived the client's retry budget. Callers may try again later.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError means the exchange rejected the credentials. It is never retried.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (status %d): %s", e.StatusCode, e.Message)
}

// ValidationError means the request itself was rejected: malformed order
// parameters, unknown market and so on.
type ValidationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("validation error (status %d): %s", e.StatusCode, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying on a later cycle.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth reports whether err is a credential rejection.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
