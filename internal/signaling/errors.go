package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrAuth         = errors.New("signaling: authentication rejected")
	ErrTransport    = errors.New("signaling: transport failure")
	ErrClosed       = errors.New("signaling: channel closed")
	ErrBackpressure = errors.New("signaling: send buffer full")
)

// AuthError is returned by Dial when the relay refuses the credential during
// the handshake. It is never retried.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("signaling: authentication rejected (http %d)", e.StatusCode)
}

func (e *AuthError) Unwrap() error { return ErrAuth }
