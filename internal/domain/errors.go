// internal/domain/errors.go
package domain

import "errors"

// ErrUnauthorized is returned when the backend rejects the operator credential with HTTP 401.
// Callers can check for it using errors.Is to prompt for a new password.
var ErrUnauthorized = errors.New("unauthorized")

// ErrTransport marks failures where no well-formed answer came back from the backend:
// connection errors, timeouts, and bodies that are not JSON.
var ErrTransport = errors.New("backend unreachable")

// IsTransient reports whether err (or any error in its chain) is a transport failure
// that is safe to retry on the next poll.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport)
}
