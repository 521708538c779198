// Package device captures local camera and microphone for the media binder.
// It is kept apart from media because the Linux build links libvpx and
// libopus through cgo.
package device

import "github.com/dkeye/Intercom/internal/media"

// Config tunes the capture devices and the VP8 encoder.
type Config struct {
	MaxWidth     int
	MaxHeight    int
	VideoBitRate int
}

type attempt struct {
	video bool
	audio bool
	label string
}

// attempts lists capture combinations from richest to poorest, restricted to
// the kinds c allows. A busy microphone must not cost us the camera.
func attempts(c media.Constraints) []attempt {
	all := []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}
	out := make([]attempt, 0, len(all))
	for _, a := range all {
		if (a.video && !c.Video) || (a.audio && !c.Audio) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func denied(err error) error {
	return &media.MediaAccessError{Reason: media.ReasonDenied, Err: err}
}

func unavailable(err error) error {
	return &media.MediaAccessError{Reason: media.ReasonUnavailable, Err: err}
}
