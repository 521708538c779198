package negotiation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState marks an out-of-order negotiation step. Callers log it
	// and wait for a consistent message; it is never fatal.
	ErrInvalidState = errors.New("invalid negotiation state")
	// ErrGlare is returned when a remote offer collides with our own and we
	// are the side that keeps its offer.
	ErrGlare  = fmt.Errorf("offer collision: %w", ErrInvalidState)
	ErrNoLink = errors.New("no peer link")
)
