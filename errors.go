package tokenpipe

import (
	"errors"
	"fmt"
)

var (
	// ErrRefreshRejected means the server refused the refresh token. The session is over.
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrRefreshUnavailable means the refresh could not complete (network,
	// timeout, server error). The session is left intact and the call may be retried.
	ErrRefreshUnavailable = errors.New("refresh unavailable")

	// ErrSessionExpired means both tokens were already dead before any request was sent.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoCredential means an operation needed a stored credential and found none.
	ErrNoCredential = errors.New("no credential")
)

// AuthError records the pipeline operation that failed.
type AuthError struct {
	Op      string // The operation that failed
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tokenpipe %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("tokenpipe %s: %s", e.Op, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err ended the session.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRefreshRejected) || errors.Is(err, ErrSessionExpired)
}

// IsTransient reports whether err is a refresh failure worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRefreshUnavailable)
}

// Rejected returns a terminal refresh failure carrying the server's reason.
func Rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRefreshRejected, fmt.Sprintf(format, args...))
}

// Unavailable wraps cause as a transient refresh failure.
func Unavailable(cause error) error {
	if cause == nil || IsTransient(cause) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrRefreshUnavailable, cause)
}
