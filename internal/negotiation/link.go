package negotiation

import (
	"context"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerLink is the connection to one remote participant and its negotiation
// state. Only the Engine mutates it.
type PeerLink struct {
	remoteID domain.UserID
	roomID   domain.RoomID
	polite   bool

	conn      PeerConnection
	state     SignalingState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	tracks    map[webrtc.RTPCodecType]webrtc.TrackLocal
	remote    []RemoteMediaSource

	ctx    context.Context
	cancel context.CancelFunc
}

func (l *PeerLink) RoomID() domain.RoomID { return l.roomID }
func (l *PeerLink) State() SignalingState { return l.state }
func (l *PeerLink) Polite() bool          { return l.polite }

// HasRemoteDescription reports whether candidates are applied immediately.
func (l *PeerLink) HasRemoteDescription() bool { return l.remoteSet }

// PendingCandidates returns a copy of the buffered remote candidates.
func (l *PeerLink) PendingCandidates() []webrtc.ICECandidateInit {
	out := make([]webrtc.ICECandidateInit, len(l.pending))
	copy(out, l.pending)
	return out
}

// LocalKinds returns the kinds of the attached local tracks.
func (l *PeerLink) LocalKinds() []webrtc.RTPCodecType {
	out := make([]webrtc.RTPCodecType, 0, len(l.tracks))
	for _, k := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, ok := l.tracks[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// RemoteMedia returns the remote sources received on this link.
func (l *PeerLink) RemoteMedia() []RemoteMediaSource {
	out := make([]RemoteMediaSource, len(l.remote))
	copy(out, l.remote)
	return out
}

// Done is closed when the link is closed.
func (l *PeerLink) Done() <-chan struct{} { return l.ctx.Done() }
