package orch

import (
	"errors"
	"sync"

	"github.com/dkeye/Intercom/internal/app"
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSession     = errors.New("no session")
	ErrNotInRoom     = errors.New("not in room")
	ErrPeerNotInRoom = errors.New("peer not in room")
	ErrSelfCall      = errors.New("cannot call yourself")
	ErrUnknownFamily = errors.New("unknown family")
)

// Orchestrator applies signaling events to the registry, the rooms and the
// call book, and fans the resulting frames out. Every mutating entry point
// holds mu so membership and invitations change as one step.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Calls    *app.CallBook
	Dir      *app.Directory

	mu sync.Mutex
}

func New(reg *app.Registry, rooms core.RoomManager, policy app.Policy, calls *app.CallBook, dir *app.Directory) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Policy:   policy,
		Calls:    calls,
		Dir:      dir,
	}
}

func frame(event string, payload any) (core.Frame, bool) {
	b, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode frame")
		return nil, false
	}
	return b, true
}

// Send delivers one event to a single session.
func (o *Orchestrator) Send(sid core.SessionID, event string, payload any) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	f, ok := frame(event, payload)
	if !ok {
		return
	}
	if err := sess.Signal().TrySend(f); err != nil {
		o.onDirectDrop(sid, event, err)
	}
}

func (o *Orchestrator) onDirectDrop(sid core.SessionID, event string, err error) {
	action := app.DropFrame
	if o.Policy != nil {
		action = o.Policy.OnBackPressure(nil, sid)
	}
	log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("event", event).Msg("direct frame dropped")
	if action == app.KickMember {
		o.KickBySID(sid)
	}
}

// sendUser delivers to every live session of user. It reports whether any
// session took the frame.
func (o *Orchestrator) sendUser(user domain.UserID, event string, payload any) bool {
	sent := false
	for _, snap := range o.Registry.SessionsOfUser(user) {
		o.Send(snap.SID, event, payload)
		sent = true
	}
	return sent
}

// sendInRoom delivers only to the sessions user holds in room.
func (o *Orchestrator) sendInRoom(room core.RoomService, user domain.UserID, event string, payload any) bool {
	sids := room.SessionsOf(user)
	for _, sid := range sids {
		o.Send(sid, event, payload)
	}
	return len(sids) > 0
}

// broadcast fans a frame out to everyone in roomID except from. Members
// too slow to take it are handled by the policy.
func (o *Orchestrator) broadcast(roomID domain.RoomID, from core.SessionID, event string, payload any) {
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return
	}
	f, ok := frame(event, payload)
	if !ok {
		return
	}
	res := room.Broadcast(from, f)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow)).Str("room", string(roomID)).Msg("kicking slow member")
			o.KickBySID(slow)
		case app.DropFrame, app.NoAction:
		}
	}
}

// KickBySID disconnects a session. Its cleanup runs through Disconnect once
// the transport notices.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.Registry.Cancel(sid)
}
