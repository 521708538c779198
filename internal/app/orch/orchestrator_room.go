package orch

import (
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join puts sid into roomID, leaving any other room first. Joining the
// current room again only refreshes the state.
func (o *Orchestrator) Join(sid core.SessionID, roomID domain.RoomID) (protocol.RoomStatePayload, error) {
	if err := roomID.Validate(); err != nil {
		return protocol.RoomStatePayload{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return protocol.RoomStatePayload{}, ErrNoSession
	}
	current, _, in := o.Registry.RoomOf(sid)
	if in && current != roomID {
		o.leave(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(current)).Msg("left previous room")
	}

	room := o.Rooms.GetOrCreate(roomID)
	if !in || current != roomID {
		room.AddMember(sid, session)
		o.Registry.UpdateRoom(sid, roomID)
		user := session.Meta().User
		o.broadcast(roomID, sid, protocol.EventUserJoined, protocol.MemberPayload{ClientID: user.ID, User: *user})
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("added to room")
	}
	return protocol.RoomStatePayload{RoomID: roomID, Members: room.MembersSnapshot()}, nil
}

// Leave takes sid out of its room. It reports the room left.
func (o *Orchestrator) Leave(sid core.SessionID) (domain.RoomID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return "", ErrNotInRoom
	}
	o.leave(sid)
	return roomID, nil
}

func (o *Orchestrator) leave(sid core.SessionID) {
	roomID, session, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	user := session.Meta().User
	room, exists := o.Rooms.GetRoom(roomID)
	if exists {
		room.RemoveMember(sid)
	}
	o.Registry.RemoveRoom(sid)

	if exists && len(room.SessionsOf(user.ID)) == 0 {
		for _, d := range o.Calls.DropUser(user.ID, roomID) {
			o.notifyDrop(user.ID, d, protocol.ReasonLeft)
		}
		o.broadcast(roomID, sid, protocol.EventUserLeft, protocol.MemberPayload{ClientID: user.ID, User: *user})
	}
	if exists && room.MemberCount() == 0 {
		o.Rooms.StopRoom(roomID)
		log.Info().Str("module", "orch").Str("room", string(roomID)).Msg("room empty, stopped")
	}
}

// Disconnect forgets a session whose transport is gone. Once the user has
// no session left, every invitation they took part in is closed.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	user, ok := o.Registry.UserOf(sid)
	if !ok {
		return
	}
	o.leave(sid)
	o.Registry.Unbind(sid)
	if o.Registry.Online(user.ID) {
		return
	}
	for _, d := range o.Calls.DropUser(user.ID, "") {
		o.notifyDrop(user.ID, d, protocol.ReasonOffline)
	}
}

func (o *Orchestrator) WhoAmI(sid core.SessionID) (protocol.WhoAmIPayload, error) {
	user, ok := o.Registry.UserOf(sid)
	if !ok {
		return protocol.WhoAmIPayload{}, ErrNoSession
	}
	return protocol.WhoAmIPayload{User: *user}, nil
}
