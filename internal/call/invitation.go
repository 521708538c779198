package call

import (
	"errors"
	"fmt"

	"github.com/dkeye/Intercom/internal/domain"
)

var (
	ErrBusy         = errors.New("call already in progress")
	ErrNoInvitation = errors.New("no matching invitation")
	ErrInvalidState = errors.New("invalid call state")
)

type State int

const (
	StateIdle State = iota
	StateCalling
	StateRinging
	StateConnected
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Invitation is the single active call. For an outgoing group call the
// Counterpart stays empty until someone accepts.
type Invitation struct {
	Direction   Direction
	Counterpart domain.UserID
	RoomID      domain.RoomID
	FamilyID    domain.FamilyID
	Status      State
}

func (i Invitation) Group() bool { return i.FamilyID != "" }
