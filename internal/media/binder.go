// Package media acquires local capture tracks and binds them to peer links.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Constraints struct {
	Video bool
	Audio bool
}

// LocalSource is the set of captured tracks, at most one per kind.
type LocalSource struct {
	tracks []webrtc.TrackLocal
	stop   func()
}

func NewLocalSource(tracks []webrtc.TrackLocal, stop func()) *LocalSource {
	return &LocalSource{tracks: tracks, stop: stop}
}

func (s *LocalSource) Tracks() []webrtc.TrackLocal {
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

func (s *LocalSource) Kinds() []webrtc.RTPCodecType {
	out := make([]webrtc.RTPCodecType, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.Kind())
	}
	return out
}

// Acquirer opens local capture devices.
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (*LocalSource, error)
}

// Linker is the part of the negotiation engine the binder feeds.
type Linker interface {
	AttachLocalTrack(peerID domain.UserID, roomID domain.RoomID, track webrtc.TrackLocal) (bool, error)
}

// Binder caches one LocalSource and attaches it to links. Not safe for
// concurrent use; the session loop owns it.
type Binder struct {
	acq    Acquirer
	src    *LocalSource
	logger zerolog.Logger
}

func NewBinder(acq Acquirer) *Binder {
	return &Binder{
		acq:    acq,
		logger: log.With().Str("module", "media").Logger(),
	}
}

// Acquire returns the cached source or opens a new one. Failures are
// *MediaAccessError and are not cached.
func (b *Binder) Acquire(ctx context.Context, c Constraints) (*LocalSource, error) {
	if b.src != nil {
		return b.src, nil
	}
	if !c.Video && !c.Audio {
		return nil, unavailable(errors.New("no media kinds requested"))
	}
	src, err := b.acq.Acquire(ctx, c)
	if err != nil {
		var mae *MediaAccessError
		if !errors.As(err, &mae) {
			err = unavailable(err)
		}
		b.logger.Warn().Err(err).Msg("acquire local media")
		return nil, err
	}
	if len(src.tracks) == 0 {
		return nil, unavailable(errors.New("no tracks captured"))
	}
	b.src = src
	b.logger.Info().Int("tracks", len(src.tracks)).Msg("local media acquired")
	return src, nil
}

// Source returns the cached source, or nil.
func (b *Binder) Source() *LocalSource { return b.src }

// BindTo attaches every local track to the link with peerID. Kinds already
// attached are skipped by the linker. Without a source nothing is attached
// and the link stays receive-only.
func (b *Binder) BindTo(l Linker, peerID domain.UserID, roomID domain.RoomID) (int, error) {
	if b.src == nil {
		return 0, nil
	}
	added := 0
	for _, t := range b.src.tracks {
		ok, err := l.AttachLocalTrack(peerID, roomID, t)
		if err != nil {
			return added, fmt.Errorf("bind %s to %s: %w", t.Kind(), peerID, err)
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		b.logger.Debug().Str("peer", string(peerID)).Int("added", added).Msg("local tracks bound")
	}
	return added, nil
}

// Release stops the local tracks. The next Acquire opens the devices again.
func (b *Binder) Release() {
	if b.src == nil {
		return
	}
	if b.src.stop != nil {
		b.src.stop()
	}
	b.src = nil
	b.logger.Info().Msg("local media released")
}
