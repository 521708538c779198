package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/Intercom/internal/media"
)

var _ media.Acquirer = (*Acquirer)(nil)

func TestAttemptsFollowConstraints(t *testing.T) {
	labels := func(c media.Constraints) []string {
		var out []string
		for _, a := range attempts(c) {
			out = append(out, a.label)
		}
		return out
	}
	assert.Equal(t, []string{"video+audio", "video-only", "audio-only"}, labels(media.Constraints{Video: true, Audio: true}))
	assert.Equal(t, []string{"audio-only"}, labels(media.Constraints{Audio: true}))
	assert.Equal(t, []string{"video-only"}, labels(media.Constraints{Video: true}))
	assert.Empty(t, labels(media.Constraints{}))
}

func TestAccessErrorsCarryReason(t *testing.T) {
	cause := errors.New("permission denied")
	var mae *media.MediaAccessError

	err := denied(cause)
	assert.ErrorIs(t, err, media.ErrMediaAccess)
	assert.ErrorIs(t, err, cause)
	assert.ErrorAs(t, err, &mae)
	assert.Equal(t, media.ReasonDenied, mae.Reason)

	err = unavailable(cause)
	assert.ErrorAs(t, err, &mae)
	assert.Equal(t, media.ReasonUnavailable, mae.Reason)
}
