// Package negotiation owns one PeerLink per remote participant and drives the
// offer/answer/candidate exchange for it.
//
// The engine is not safe for concurrent use. All calls, including the
// connection callbacks it re-posts through its dispatcher, must run on one
// goroutine; the session loop provides that.
package negotiation

import (
	"context"
	"fmt"
	"slices"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Engine struct {
	selfID  domain.UserID
	factory Factory
	hooks   Hooks
	post    func(func())
	logger  zerolog.Logger

	links map[domain.UserID]*PeerLink
	// orphans holds candidates that arrived before their link existed.
	orphans map[domain.UserID][]orphan
}

type Option func(*Engine)

// WithDispatcher routes connection callbacks through post. Without it the
// callbacks run inline, which is only correct when the connection reports on
// the caller's goroutine (tests).
func WithDispatcher(post func(func())) Option {
	return func(e *Engine) { e.post = post }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(selfID domain.UserID, factory Factory, hooks Hooks, opts ...Option) *Engine {
	e := &Engine{
		selfID:  selfID,
		factory: factory,
		hooks:   hooks,
		post:    func(fn func()) { fn() },
		logger:  log.With().Str("module", "negotiation").Str("self", string(selfID)).Logger(),
		links:   make(map[domain.UserID]*PeerLink),
		orphans: make(map[domain.UserID][]orphan),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Link returns the live link to peerID.
func (e *Engine) Link(peerID domain.UserID) (*PeerLink, bool) {
	l, ok := e.links[peerID]
	return l, ok
}

// Links returns the ids of all live links.
func (e *Engine) Links() []domain.UserID {
	out := make([]domain.UserID, 0, len(e.links))
	for id := range e.links {
		out = append(out, id)
	}
	return out
}

// ensure returns the link to peerID, creating it in Idle.
func (e *Engine) ensure(peerID domain.UserID, roomID domain.RoomID) (*PeerLink, error) {
	if l, ok := e.links[peerID]; ok {
		if roomID != "" && l.roomID != roomID {
			e.logger.Warn().
				Str("peer", string(peerID)).
				Str("room", string(l.roomID)).
				Str("new_room", string(roomID)).
				Msg("link moved to another room")
			l.roomID = roomID
		}
		return l, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &PeerLink{
		remoteID: peerID,
		roomID:   roomID,
		polite:   e.selfID > peerID,
		state:    StateIdle,
		tracks:   make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
		ctx:      ctx,
		cancel:   cancel,
	}
	if err := e.connect(l); err != nil {
		cancel()
		return nil, err
	}
	e.adopt(l)
	e.links[peerID] = l
	e.logger.Debug().Str("peer", string(peerID)).Str("room", string(roomID)).Bool("polite", l.polite).Msg("link created")
	return l, nil
}

// connect gives l a fresh underlying connection. Callbacks from a connection
// that is no longer l.conn are dropped.
func (e *Engine) connect(l *PeerLink) error {
	var conn PeerConnection
	current := func() bool { return l.conn == conn && l.state != StateClosed }
	ev := ConnEvents{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			e.post(func() {
				if current() && e.hooks.OnLocalCandidate != nil {
					e.hooks.OnLocalCandidate(l.remoteID, l.roomID, c)
				}
			})
		},
		OnTrack: func(t RemoteTrack) {
			e.post(func() {
				if current() {
					e.addRemote(l, t)
				}
			})
		},
		OnFailed: func() {
			e.post(func() {
				if current() {
					e.logger.Warn().Str("peer", string(l.remoteID)).Msg("connection failed")
					if e.hooks.OnLinkFailed != nil {
						e.hooks.OnLinkFailed(l.remoteID, l.roomID)
					}
				}
			})
		},
	}
	c, err := e.factory(l.remoteID, ev)
	if err != nil {
		return fmt.Errorf("new connection to %s: %w", l.remoteID, err)
	}
	conn = c
	l.conn = c
	return nil
}

func (e *Engine) addRemote(l *PeerLink, t RemoteTrack) {
	src := RemoteMediaSource{PeerID: l.remoteID, RoomID: l.roomID, Track: t}
	l.remote = append(l.remote, src)
	e.logger.Info().
		Str("peer", string(l.remoteID)).
		Str("kind", t.Kind().String()).
		Str("track_id", t.ID()).
		Str("stream_id", t.StreamID()).
		Msg("remote track")
	if e.hooks.OnRemoteMedia != nil {
		e.hooks.OnRemoteMedia(src)
	}
}

// CreateOffer produces a local offer for peerID. Valid from Idle or Stable.
func (e *Engine) CreateOffer(ctx context.Context, peerID domain.UserID, roomID domain.RoomID) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	l, err := e.ensure(peerID, roomID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if !l.state.canOffer() {
		e.logger.Warn().Str("peer", string(peerID)).Str("state", l.state.String()).Msg("create offer while negotiating")
		return webrtc.SessionDescription{}, fmt.Errorf("create offer in %s: %w", l.state, ErrInvalidState)
	}
	offer, err := l.conn.Offer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	l.state = StateHaveLocalOffer
	e.logger.Info().Str("peer", string(peerID)).Msg("local offer created")
	return offer, nil
}

// HandleOffer applies a remote offer and returns the answer to transmit.
//
// Offers are accepted only in Idle or Stable. On a collision with our own
// offer the polite side (the greater id) abandons its offer and accepts the
// remote one; the other side drops the remote offer and returns ErrGlare.
func (e *Engine) HandleOffer(ctx context.Context, peerID domain.UserID, roomID domain.RoomID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	l, err := e.ensure(peerID, roomID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if !l.state.acceptsOffer() {
		if l.state != StateHaveLocalOffer || !l.polite {
			e.logger.Warn().Str("peer", string(peerID)).Str("state", l.state.String()).Msg("remote offer dropped")
			if l.state == StateHaveLocalOffer {
				return webrtc.SessionDescription{}, ErrGlare
			}
			return webrtc.SessionDescription{}, fmt.Errorf("remote offer in %s: %w", l.state, ErrInvalidState)
		}
		if err := e.rollback(l); err != nil {
			e.fail(l, err)
			return webrtc.SessionDescription{}, err
		}
	}

	if err := l.conn.ApplyRemote(offer); err != nil {
		e.logger.Warn().Err(err).Str("peer", string(peerID)).Msg("apply remote offer")
		return webrtc.SessionDescription{}, fmt.Errorf("apply offer: %w", err)
	}
	l.remoteSet = true
	l.state = StateHaveRemoteOffer
	e.flush(l)

	answer, err := l.conn.Answer()
	if err != nil {
		e.fail(l, err)
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	l.state = StateStable
	e.logger.Info().Str("peer", string(peerID)).Msg("remote offer answered")
	return answer, nil
}

// HandleAnswer applies the remote answer to our outstanding offer.
func (e *Engine) HandleAnswer(ctx context.Context, peerID domain.UserID, answer webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l, ok := e.links[peerID]
	if !ok {
		e.logger.Warn().Str("peer", string(peerID)).Msg("answer without link")
		return fmt.Errorf("answer from %s: %w", peerID, ErrNoLink)
	}
	if l.state != StateHaveLocalOffer {
		e.logger.Warn().Str("peer", string(peerID)).Str("state", l.state.String()).Msg("answer ignored")
		return fmt.Errorf("answer in %s: %w", l.state, ErrInvalidState)
	}
	if err := l.conn.ApplyRemote(answer); err != nil {
		e.logger.Warn().Err(err).Str("peer", string(peerID)).Msg("apply remote answer")
		return fmt.Errorf("apply answer: %w", err)
	}
	l.remoteSet = true
	l.state = StateStable
	e.flush(l)
	e.logger.Info().Str("peer", string(peerID)).Msg("negotiation stable")
	return nil
}

// HandleCandidate applies a remote candidate, or buffers it until a remote
// description exists.
func (e *Engine) HandleCandidate(peerID domain.UserID, roomID domain.RoomID, c webrtc.ICECandidateInit) error {
	l, ok := e.links[peerID]
	if !ok {
		e.orphans[peerID] = append(e.orphans[peerID], orphan{roomID: roomID, c: c})
		e.logger.Debug().Str("peer", string(peerID)).Str("room", string(roomID)).Msg("candidate buffered before link")
		return nil
	}
	if l.state == StateClosed {
		return fmt.Errorf("candidate on closed link: %w", ErrInvalidState)
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		e.logger.Debug().Str("peer", string(peerID)).Int("pending", len(l.pending)).Msg("candidate buffered")
		return nil
	}
	if err := l.conn.AddICECandidate(c); err != nil {
		e.logger.Warn().Err(err).Str("peer", string(peerID)).Msg("add ice candidate")
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// flush applies buffered candidates in arrival order. Each is applied once;
// failures are logged and the candidate is discarded.
func (e *Engine) flush(l *PeerLink) {
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if err := l.conn.AddICECandidate(c); err != nil {
			e.logger.Warn().Err(err).Str("peer", string(l.remoteID)).Msg("add buffered ice candidate")
		}
	}
	if len(pending) > 0 {
		e.logger.Debug().Str("peer", string(l.remoteID)).Int("flushed", len(pending)).Msg("buffered candidates applied")
	}
}

// rollback drops our outstanding offer by replacing the connection. Local
// tracks are re-attached and buffered candidates are kept.
func (e *Engine) rollback(l *PeerLink) error {
	e.logger.Info().Str("peer", string(l.remoteID)).Msg("offer collision, yielding to remote offer")
	old := l.conn
	if err := e.connect(l); err != nil {
		return err
	}
	if err := old.Close(); err != nil {
		e.logger.Debug().Err(err).Str("peer", string(l.remoteID)).Msg("close abandoned connection")
	}
	l.state = StateIdle
	l.remoteSet = false
	for _, k := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		t, ok := l.tracks[k]
		if !ok {
			continue
		}
		if err := l.conn.AddTrack(t); err != nil {
			return fmt.Errorf("re-attach %s track: %w", k, err)
		}
	}
	return nil
}

// AttachLocalTrack adds track to the link unless a track of the same kind is
// already attached. It reports whether the track was added.
func (e *Engine) AttachLocalTrack(peerID domain.UserID, roomID domain.RoomID, track webrtc.TrackLocal) (bool, error) {
	l, err := e.ensure(peerID, roomID)
	if err != nil {
		return false, err
	}
	if l.state == StateClosed {
		return false, fmt.Errorf("attach on closed link: %w", ErrInvalidState)
	}
	kind := track.Kind()
	if _, ok := l.tracks[kind]; ok {
		return false, nil
	}
	if err := l.conn.AddTrack(track); err != nil {
		return false, fmt.Errorf("attach %s track: %w", kind, err)
	}
	l.tracks[kind] = track
	e.logger.Debug().Str("peer", string(peerID)).Str("kind", kind.String()).Msg("local track attached")
	return true, nil
}

// Close releases the link to peerID. Safe to call repeatedly.
func (e *Engine) Close(peerID domain.UserID) {
	delete(e.orphans, peerID)
	l, ok := e.links[peerID]
	if !ok {
		return
	}
	e.release(l)
}

// CloseRoom closes every link tied to roomID.
func (e *Engine) CloseRoom(roomID domain.RoomID) {
	for _, l := range e.links {
		if l.roomID == roomID {
			e.release(l)
		}
	}
	for peerID, buffered := range e.orphans {
		buffered = slices.DeleteFunc(buffered, func(o orphan) bool { return o.roomID == roomID })
		if len(buffered) == 0 {
			delete(e.orphans, peerID)
		} else {
			e.orphans[peerID] = buffered
		}
	}
}

// CloseAll closes every link.
func (e *Engine) CloseAll() {
	for _, l := range e.links {
		e.release(l)
	}
	clear(e.orphans)
}

func (e *Engine) fail(l *PeerLink, err error) {
	e.logger.Error().Err(err).Str("peer", string(l.remoteID)).Msg("negotiation failed, closing link")
	roomID := l.roomID
	e.release(l)
	if e.hooks.OnLinkFailed != nil {
		e.hooks.OnLinkFailed(l.remoteID, roomID)
	}
}

func (e *Engine) release(l *PeerLink) {
	if l.state == StateClosed {
		return
	}
	prev := l.state
	l.state = StateClosed
	l.pending = nil
	l.cancel()
	delete(e.links, l.remoteID)
	if err := l.conn.Close(); err != nil {
		e.logger.Debug().Err(err).Str("peer", string(l.remoteID)).Msg("close connection")
	}
	e.logger.Info().Str("peer", string(l.remoteID)).Str("from_state", prev.String()).Msg("link closed")
	if len(l.remote) > 0 && e.hooks.OnRemoteMediaGone != nil {
		e.hooks.OnRemoteMediaGone(l.remoteID)
	}
}

type orphan struct {
	roomID domain.RoomID
	c      webrtc.ICECandidateInit
}

// adopt moves the orphans buffered for l's peer and room into its pending
// list, in arrival order. Orphans for other rooms stay buffered.
func (e *Engine) adopt(l *PeerLink) {
	buffered, ok := e.orphans[l.remoteID]
	if !ok {
		return
	}
	rest := buffered[:0]
	for _, o := range buffered {
		if o.roomID == l.roomID {
			l.pending = append(l.pending, o.c)
		} else {
			rest = append(rest, o)
		}
	}
	if len(rest) == 0 {
		delete(e.orphans, l.remoteID)
		return
	}
	e.orphans[l.remoteID] = rest
}
