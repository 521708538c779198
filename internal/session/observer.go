package session

import (
	"github.com/dkeye/Intercom/internal/call"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/negotiation"
	"github.com/dkeye/Intercom/internal/signaling"
)

// Observer is told about everything a user interface would show. Methods
// run on the session loop and must not block or call back into the session.
type Observer interface {
	call.Observer
	RemoteMediaAdded(src negotiation.RemoteMediaSource)
	RemoteMediaRemoved(peerID domain.UserID)
	MembersChanged(roomID domain.RoomID, members []domain.User)
	ConnectionChanged(state signaling.State, err error)
	Error(err error)
}

// NopObserver ignores everything. Embed it to implement only some methods.
type NopObserver struct{}

func (NopObserver) IncomingCall(call.Invitation) {}
func (NopObserver) CallStateChanged(call.State, call.Invitation) {}
func (NopObserver) CallRejected(domain.UserID, domain.RoomID, string) {}
func (NopObserver) RemoteMediaAdded(negotiation.RemoteMediaSource) {}
func (NopObserver) RemoteMediaRemoved(domain.UserID) {}
func (NopObserver) MembersChanged(domain.RoomID, []domain.User) {}
func (NopObserver) ConnectionChanged(signaling.State, error) {}
func (NopObserver) Error(error) {}

// callObserver forwards workflow events and releases local media once the
// call is over.
type callObserver struct{ s *Session }

func (o callObserver) IncomingCall(inv call.Invitation) { o.s.obs.IncomingCall(inv) }

func (o callObserver) CallStateChanged(st call.State, inv call.Invitation) {
	o.s.obs.CallStateChanged(st, inv)
	if st == call.StateIdle {
		o.s.binder.Release()
	}
}

func (o callObserver) CallRejected(by domain.UserID, roomID domain.RoomID, reason string) {
	o.s.obs.CallRejected(by, roomID, reason)
}
