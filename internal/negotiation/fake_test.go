package negotiation

import (
	"errors"
	"fmt"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/pion/webrtc/v4"
)

var errNoRemote = errors.New("remote description not set")

// fakeConn mimics the ordering rules of a real peer connection: candidates
// fail before a remote description exists.
type fakeConn struct {
	name       string
	ev         ConnEvents
	remote     *webrtc.SessionDescription
	local      *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	closed     bool
	applyErr   error
	answerErr  error
}

func (f *fakeConn) Offer() (webrtc.SessionDescription, error) {
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer:" + f.name}
	f.local = &d
	return d, nil
}

func (f *fakeConn) Answer() (webrtc.SessionDescription, error) {
	if f.answerErr != nil {
		return webrtc.SessionDescription{}, f.answerErr
	}
	if f.remote == nil {
		return webrtc.SessionDescription{}, errNoRemote
	}
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer:" + f.name}
	f.local = &d
	return d, nil
}

func (f *fakeConn) ApplyRemote(d webrtc.SessionDescription) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.remote = &d
	return nil
}

func (f *fakeConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	if f.remote == nil {
		return errNoRemote
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeConn) AddTrack(t webrtc.TrackLocal) error {
	f.tracks = append(f.tracks, t)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

// fakeFactory records every connection it hands out, per peer.
type fakeFactory struct {
	self  domain.UserID
	conns map[domain.UserID][]*fakeConn
	err   error
}

func newFakeFactory(self domain.UserID) *fakeFactory {
	return &fakeFactory{self: self, conns: make(map[domain.UserID][]*fakeConn)}
}

func (f *fakeFactory) New(peerID domain.UserID, ev ConnEvents) (PeerConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{name: fmt.Sprintf("%s#%d", f.self, len(f.conns[peerID])), ev: ev}
	f.conns[peerID] = append(f.conns[peerID], c)
	return c, nil
}

func (f *fakeFactory) last(peerID domain.UserID) *fakeConn {
	cs := f.conns[peerID]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

type fakeRemoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string                { return t.id }
func (t fakeRemoteTrack) StreamID() string          { return "stream-" + t.id }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

func candidate(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.0.%d 5000%d typ host", n, n, n)}
}

func audioTrack(id string) webrtc.TrackLocal {
	t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, "local")
	if err != nil {
		panic(err)
	}
	return t
}

func videoTrack(id string) webrtc.TrackLocal {
	t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "local")
	if err != nil {
		panic(err)
	}
	return t
}
