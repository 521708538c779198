package orch

import (
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/protocol"
)

// RelayDescription forwards an offer or answer to its target, stamping the
// sender. Both ends must share the room.
func (o *Orchestrator) RelayDescription(sid core.SessionID, event string, p protocol.DescriptionPayload) error {
	user, room, err := o.inRoom(sid, p.RoomID)
	if err != nil {
		return err
	}
	p.From = user.ID
	if !o.sendInRoom(room, p.To, event, p) {
		return ErrPeerNotInRoom
	}
	return nil
}

func (o *Orchestrator) RelayCandidate(sid core.SessionID, p protocol.CandidatePayload) error {
	user, room, err := o.inRoom(sid, p.RoomID)
	if err != nil {
		return err
	}
	p.From = user.ID
	if !o.sendInRoom(room, p.To, protocol.EventICECandidate, p) {
		return ErrPeerNotInRoom
	}
	return nil
}
