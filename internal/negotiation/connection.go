package negotiation

import (
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the negotiated transport a PeerLink drives.
// Implementations apply descriptions synchronously; Offer and Answer also set
// the produced description as the local one.
type PeerConnection interface {
	Offer() (webrtc.SessionDescription, error)
	Answer() (webrtc.SessionDescription, error)
	ApplyRemote(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error
	Close() error
}

// RemoteTrack is the part of *webrtc.TrackRemote the engine needs.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// ConnEvents are the callbacks a connection reports. They may fire on any
// goroutine; the engine re-posts them through its dispatcher.
type ConnEvents struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnTrack        func(RemoteTrack)
	OnFailed       func()
}

// Factory creates the underlying connection for a new PeerLink.
type Factory func(peerID domain.UserID, ev ConnEvents) (PeerConnection, error)

// RemoteMediaSource is a remote track surfaced to the presentation layer.
type RemoteMediaSource struct {
	PeerID domain.UserID
	RoomID domain.RoomID
	Track  RemoteTrack
}

// Hooks receive engine output. Nil hooks are skipped.
type Hooks struct {
	OnLocalCandidate  func(peerID domain.UserID, roomID domain.RoomID, c webrtc.ICECandidateInit)
	OnRemoteMedia     func(RemoteMediaSource)
	OnRemoteMediaGone func(peerID domain.UserID)
	OnLinkFailed      func(peerID domain.UserID, roomID domain.RoomID)
}
