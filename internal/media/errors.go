package media

import (
	"errors"
	"fmt"
)

const (
	ReasonDenied      = "denied"
	ReasonUnavailable = "unavailable"
)

var ErrMediaAccess = errors.New("media access failed")

// MediaAccessError reports why local capture could not start.
type MediaAccessError struct {
	Reason string
	Err    error
}

func (e *MediaAccessError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media access %s", e.Reason)
	}
	return fmt.Sprintf("media access %s: %v", e.Reason, e.Err)
}

func (e *MediaAccessError) Is(target error) bool { return target == ErrMediaAccess }

func (e *MediaAccessError) Unwrap() error { return e.Err }

func unavailable(err error) error { return &MediaAccessError{Reason: ReasonUnavailable, Err: err} }
