package orch

import (
	"errors"

	"github.com/dkeye/Intercom/internal/app"
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// inRoom resolves the user behind sid and checks they sit in roomID.
func (o *Orchestrator) inRoom(sid core.SessionID, roomID domain.RoomID) (*domain.User, core.RoomService, error) {
	current, session, ok := o.Registry.RoomOf(sid)
	if !ok || current != roomID {
		return nil, nil, ErrNotInRoom
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return nil, nil, ErrNotInRoom
	}
	return session.Meta().User, room, nil
}

// Invite rings every session of target. An offline or unknown target is
// answered right away with a final rejection.
func (o *Orchestrator) Invite(sid core.SessionID, target domain.UserID, roomID domain.RoomID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	caller, _, err := o.inRoom(sid, roomID)
	if err != nil {
		return err
	}
	if target == caller.ID {
		return ErrSelfCall
	}
	_, known := o.Dir.User(target)
	if !known || !o.Registry.Online(target) {
		o.Send(sid, protocol.EventCallRejected, protocol.CallRejectedPayload{
			From: target, RoomID: roomID, Reason: protocol.ReasonOffline, Final: true,
		})
		return nil
	}
	inv, prev := o.Calls.Open(roomID, caller.ID, "", []domain.UserID{target})
	o.withdraw(prev)
	o.sendUser(target, protocol.EventIncomingCall, protocol.IncomingCallPayload{From: caller.ID, RoomID: roomID})
	log.Info().Str("module", "orch").Str("invite", inv.ID).Str("caller", string(caller.ID)).Str("target", string(target)).Str("room", string(roomID)).Msg("invitation opened")
	return nil
}

// InviteFamily rings every online member of the family except the caller.
func (o *Orchestrator) InviteFamily(sid core.SessionID, familyID domain.FamilyID, roomID domain.RoomID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	caller, _, err := o.inRoom(sid, roomID)
	if err != nil {
		return err
	}
	family, ok := o.Dir.Family(familyID)
	if !ok {
		return ErrUnknownFamily
	}
	var invitees []domain.UserID
	for _, m := range family.Members {
		if m != caller.ID && o.Registry.Online(m) {
			invitees = append(invitees, m)
		}
	}
	if len(invitees) == 0 {
		o.Send(sid, protocol.EventCallRejected, protocol.CallRejectedPayload{
			RoomID: roomID, Reason: protocol.ReasonOffline, Final: true,
		})
		return nil
	}
	inv, prev := o.Calls.Open(roomID, caller.ID, familyID, invitees)
	o.withdraw(prev)
	for _, m := range invitees {
		o.sendUser(m, protocol.EventIncomingFamilyCall, protocol.IncomingCallPayload{From: caller.ID, RoomID: roomID, FamilyID: familyID})
	}
	log.Info().Str("module", "orch").Str("invite", inv.ID).Str("family", string(familyID)).Int("invitees", len(invitees)).Msg("family invitation opened")
	return nil
}

// Accept answers callerID's invitation. The first acceptance wins; any
// later one is told the invitation was taken.
func (o *Orchestrator) Accept(sid core.SessionID, roomID domain.RoomID, callerID domain.UserID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	user, room, err := o.inRoom(sid, roomID)
	if err != nil {
		return err
	}
	inv, err := o.Calls.Accept(roomID, callerID, user.ID)
	if errors.Is(err, app.ErrTaken) {
		o.Send(sid, protocol.EventCallCancelled, protocol.CallCancelledPayload{RoomID: roomID, Reason: protocol.ReasonTaken})
		return nil
	}
	if err != nil {
		return err
	}
	if !o.sendInRoom(room, callerID, protocol.EventCallAccepted, protocol.CallAcceptedPayload{ClientID: user.ID, User: *user, RoomID: roomID}) {
		// The caller left without the call book noticing; close it out.
		o.Calls.Cancel(roomID, callerID)
		o.Send(sid, protocol.EventCallEnded, protocol.CallEndedPayload{From: callerID, RoomID: roomID})
		return nil
	}
	for _, other := range inv.Pending {
		o.sendUser(other, protocol.EventCallCancelled, protocol.CallCancelledPayload{RoomID: roomID, Reason: protocol.ReasonTaken})
	}
	// The same user may be ringing on another device.
	for _, snap := range o.Registry.SessionsOfUser(user.ID) {
		if snap.SID != sid {
			o.Send(snap.SID, protocol.EventCallCancelled, protocol.CallCancelledPayload{RoomID: roomID, Reason: protocol.ReasonTaken})
		}
	}
	log.Info().Str("module", "orch").Str("invite", inv.ID).Str("by", string(user.ID)).Msg("invitation accepted")
	return nil
}

func (o *Orchestrator) Reject(sid core.SessionID, callerID domain.UserID, roomID domain.RoomID, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	user, ok := o.Registry.UserOf(sid)
	if !ok {
		return ErrNoSession
	}
	if reason == "" {
		reason = protocol.ReasonDeclined
	}
	final, err := o.Calls.Reject(roomID, callerID, user.ID)
	if err != nil {
		return err
	}
	o.sendUser(callerID, protocol.EventCallRejected, protocol.CallRejectedPayload{
		From: user.ID, RoomID: roomID, Reason: reason, Final: final,
	})
	return nil
}

// End hangs up. A caller ending an unanswered invitation withdraws it from
// every invitee; otherwise the peer is told the call ended.
func (o *Orchestrator) End(sid core.SessionID, roomID domain.RoomID, peerID domain.UserID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	user, ok := o.Registry.UserOf(sid)
	if !ok {
		return ErrNoSession
	}
	if inv, ok := o.Calls.Get(roomID, user.ID); ok && (inv.AnsweredBy == "" || peerID == "" || peerID == inv.AnsweredBy) {
		o.Calls.Cancel(roomID, user.ID)
		o.withdraw(&inv)
		if inv.AnsweredBy != "" {
			o.sendUser(inv.AnsweredBy, protocol.EventCallEnded, protocol.CallEndedPayload{From: user.ID, RoomID: roomID})
		}
		return nil
	}
	if peerID == "" {
		return app.ErrNoInvitation
	}
	o.Calls.End(roomID, user.ID, peerID)
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok || !o.sendInRoom(room, peerID, protocol.EventCallEnded, protocol.CallEndedPayload{From: user.ID, RoomID: roomID}) {
		return ErrPeerNotInRoom
	}
	return nil
}

// withdraw tells the invitees still pending on inv that it is gone.
func (o *Orchestrator) withdraw(inv *app.Invite) {
	if inv == nil {
		return
	}
	for _, u := range inv.Pending {
		o.sendUser(u, protocol.EventCallCancelled, protocol.CallCancelledPayload{RoomID: inv.RoomID, Reason: protocol.ReasonWithdrawn})
	}
}

func (o *Orchestrator) notifyDrop(user domain.UserID, d app.Drop, reason string) {
	switch d.Role {
	case app.RoleCaller:
		inv := d.Invite
		o.withdraw(&inv)
		if d.AnsweredBy != "" {
			o.sendUser(d.AnsweredBy, protocol.EventCallEnded, protocol.CallEndedPayload{From: user, RoomID: d.RoomID})
		}
	case app.RolePending:
		o.sendUser(d.Caller, protocol.EventCallRejected, protocol.CallRejectedPayload{
			From: user, RoomID: d.RoomID, Reason: reason, Final: d.Final(),
		})
	case app.RoleAnswered:
		o.sendUser(d.Caller, protocol.EventCallEnded, protocol.CallEndedPayload{From: user, RoomID: d.RoomID})
	}
}
