package app

import "github.com/dkeye/Intercom/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send buffer is full.
type Policy interface {
	OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction
}

// SimplePolicy disconnects slow members from room broadcasts; a missed
// userJoined would leave their member list wrong for good. Direct messages
// (offers, candidates) are dropped and the peer's own retry logic applies.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction {
	if room == nil {
		return DropFrame
	}
	return KickMember
}
