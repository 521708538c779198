//go:build !linux

package device

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Intercom/internal/media"
)

// Acquirer has no capture drivers on this platform; calls proceed
// receive-only.
type Acquirer struct{}

func NewAcquirer(Config) (*Acquirer, error) {
	return &Acquirer{}, nil
}

func (d *Acquirer) ConfigureMedia(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (d *Acquirer) Acquire(context.Context, media.Constraints) (*media.LocalSource, error) {
	return nil, unavailable(errors.New("capture not supported on this platform"))
}
