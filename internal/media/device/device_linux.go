//go:build linux

package device

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Intercom/internal/media"
)

// Acquirer captures camera and microphone through pion/mediadevices
// and encodes them as VP8 and Opus.
type Acquirer struct {
	cfg      Config
	selector *mediadevices.CodecSelector
	logger   zerolog.Logger
}

func NewAcquirer(cfg Config) (*Acquirer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	if cfg.VideoBitRate > 0 {
		vpxParams.BitRate = cfg.VideoBitRate
	}
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	return &Acquirer{
		cfg: cfg,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		logger: log.With().Str("module", "device").Logger(),
	}, nil
}

// ConfigureMedia registers the encoder codecs on a pion media engine so the
// negotiated codecs match what the devices produce.
func (d *Acquirer) ConfigureMedia(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

func (d *Acquirer) Acquire(ctx context.Context, c media.Constraints) (*media.LocalSource, error) {
	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, unavailable(errors.New("no capture devices"))
	}
	for _, dev := range devices {
		d.logger.Debug().Interface("kind", dev.Kind).Str("label", dev.Label).Msg("media device")
	}

	var lastErr error
	for _, a := range attempts(c) {
		if err := ctx.Err(); err != nil {
			return nil, unavailable(err)
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.video {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				mc.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				mc.Width = prop.IntRanged{Max: d.cfg.MaxWidth}
				mc.Height = prop.IntRanged{Max: d.cfg.MaxHeight}
			}
		}
		if a.audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			d.logger.Warn().Err(err).Str("attempt", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}

		captured := stream.GetTracks()
		tracks := make([]webrtc.TrackLocal, 0, len(captured))
		for _, t := range captured {
			t.OnEnded(func(err error) {
				if err != nil {
					d.logger.Warn().Err(err).Str("kind", t.Kind().String()).Msg("local track ended")
				}
			})
			tracks = append(tracks, t)
		}
		d.logger.Info().Str("attempt", a.label).Int("tracks", len(tracks)).Msg("local media captured")
		stop := func() {
			for _, t := range captured {
				t.Close()
			}
		}
		return media.NewLocalSource(tracks, stop), nil
	}

	if isPermission(lastErr) {
		return nil, denied(lastErr)
	}
	return nil, unavailable(lastErr)
}

func isPermission(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrPermission) || strings.Contains(strings.ToLower(err.Error()), "permission")
}
