// Package call runs the invitation handshake that precedes negotiation:
// who is calling whom, in which room, and whether it was accepted.
package call

import (
	"context"
	"fmt"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Emitter interface {
	Send(event string, payload any) error
}

// Negotiator is the slice of the negotiation engine the workflow drives.
type Negotiator interface {
	Offer(ctx context.Context, peerID domain.UserID, roomID domain.RoomID) error
	Close(peerID domain.UserID)
}

type Observer interface {
	IncomingCall(inv Invitation)
	CallStateChanged(state State, inv Invitation)
	CallRejected(by domain.UserID, roomID domain.RoomID, reason string)
}

// Workflow holds at most one invitation. It is a single-goroutine state
// machine; the session loop serializes every call into it.
type Workflow struct {
	selfID domain.UserID
	emit   Emitter
	neg    Negotiator
	obs    Observer
	logger zerolog.Logger

	state State
	inv   *Invitation
}

func NewWorkflow(selfID domain.UserID, emit Emitter, neg Negotiator, obs Observer) *Workflow {
	return &Workflow{
		selfID: selfID,
		emit:   emit,
		neg:    neg,
		obs:    obs,
		logger: log.With().Str("module", "call").Str("self", string(selfID)).Logger(),
	}
}

func (w *Workflow) State() State { return w.state }

// Invitation returns a copy of the active invitation.
func (w *Workflow) Invitation() (Invitation, bool) {
	if w.inv == nil {
		return Invitation{}, false
	}
	return *w.inv, true
}

func (w *Workflow) set(s State) {
	w.state = s
	var snap Invitation
	if w.inv != nil {
		w.inv.Status = s
		snap = *w.inv
	}
	if s == StateIdle {
		w.inv = nil
	}
	w.logger.Info().
		Str("state", s.String()).
		Str("peer", string(snap.Counterpart)).
		Str("room", string(snap.RoomID)).
		Msg("call state")
	w.obs.CallStateChanged(s, snap)
}

// PlaceCall invites targetID into roomID.
func (w *Workflow) PlaceCall(targetID domain.UserID, roomID domain.RoomID) error {
	if w.state != StateIdle {
		return ErrBusy
	}
	if targetID == "" || targetID == w.selfID {
		return fmt.Errorf("call %q: %w", targetID, ErrInvalidState)
	}
	if err := w.emit.Send(protocol.EventCallUser, protocol.CallUserPayload{UserID: targetID, RoomID: roomID}); err != nil {
		return fmt.Errorf("send callUser: %w", err)
	}
	w.inv = &Invitation{Direction: Outgoing, Counterpart: targetID, RoomID: roomID}
	w.set(StateCalling)
	return nil
}

// PlaceGroupCall invites every member of familyID. The first to accept
// becomes the counterpart.
func (w *Workflow) PlaceGroupCall(familyID domain.FamilyID, roomID domain.RoomID) error {
	if w.state != StateIdle {
		return ErrBusy
	}
	if familyID == "" {
		return fmt.Errorf("empty family: %w", ErrInvalidState)
	}
	if err := w.emit.Send(protocol.EventCallFamily, protocol.CallFamilyPayload{FamilyID: familyID, RoomID: roomID}); err != nil {
		return fmt.Errorf("send callFamily: %w", err)
	}
	w.inv = &Invitation{Direction: Outgoing, RoomID: roomID, FamilyID: familyID}
	w.set(StateCalling)
	return nil
}

// OnAccepted handles callAccepted. Only the first acceptance of a Calling
// invitation counts; it starts negotiation with the acceptor.
func (w *Workflow) OnAccepted(ctx context.Context, clientID domain.UserID, roomID domain.RoomID) error {
	if w.state != StateCalling || w.inv.RoomID != roomID {
		w.logger.Warn().Str("from", string(clientID)).Str("state", w.state.String()).Msg("acceptance ignored")
		return fmt.Errorf("accepted in %s: %w", w.state, ErrInvalidState)
	}
	if !w.inv.Group() && clientID != w.inv.Counterpart {
		w.logger.Warn().Str("from", string(clientID)).Msg("acceptance from someone else")
		return fmt.Errorf("accepted by %s: %w", clientID, ErrNoInvitation)
	}
	w.inv.Counterpart = clientID
	w.set(StateConnected)
	if err := w.neg.Offer(ctx, clientID, roomID); err != nil {
		w.logger.Error().Err(err).Str("peer", string(clientID)).Msg("offer failed, ending call")
		w.Abort(roomID, protocol.ReasonMedia)
		return err
	}
	return nil
}

// OnRejected handles callRejected. A direct call ends on the first
// rejection; a group call ends once final is set.
func (w *Workflow) OnRejected(from domain.UserID, roomID domain.RoomID, reason string, final bool) error {
	if w.state != StateCalling || w.inv.RoomID != roomID {
		return fmt.Errorf("rejected in %s: %w", w.state, ErrInvalidState)
	}
	w.obs.CallRejected(from, roomID, reason)
	if w.inv.Group() && !final {
		w.logger.Info().Str("from", string(from)).Msg("group invitee declined")
		return nil
	}
	w.set(StateRejected)
	w.set(StateIdle)
	return nil
}

// ReceiveInvite handles incomingCall and incomingFamilyCall. Anything but
// Idle answers busy and keeps the current invitation.
func (w *Workflow) ReceiveInvite(from domain.UserID, roomID domain.RoomID, familyID domain.FamilyID) error {
	if w.state != StateIdle {
		w.logger.Info().Str("from", string(from)).Str("state", w.state.String()).Msg("busy, auto-rejecting")
		if err := w.emit.Send(protocol.EventRejectCall, protocol.RejectCallPayload{
			CallerID: from,
			RoomID:   roomID,
			Reason:   protocol.ReasonBusy,
		}); err != nil {
			w.logger.Warn().Err(err).Msg("send busy reject")
		}
		return ErrBusy
	}
	w.inv = &Invitation{Direction: Incoming, Counterpart: from, RoomID: roomID, FamilyID: familyID}
	w.set(StateRinging)
	w.obs.IncomingCall(*w.inv)
	return nil
}

func (w *Workflow) Accept() error {
	if w.state != StateRinging {
		return ErrNoInvitation
	}
	if err := w.emit.Send(protocol.EventAcceptCall, protocol.AcceptCallPayload{
		RoomID:   w.inv.RoomID,
		CallerID: w.inv.Counterpart,
	}); err != nil {
		return fmt.Errorf("send acceptCall: %w", err)
	}
	w.set(StateConnected)
	return nil
}

func (w *Workflow) Reject(reason string) error {
	if w.state != StateRinging {
		return ErrNoInvitation
	}
	if reason == "" {
		reason = protocol.ReasonDeclined
	}
	if err := w.emit.Send(protocol.EventRejectCall, protocol.RejectCallPayload{
		CallerID: w.inv.Counterpart,
		RoomID:   w.inv.RoomID,
		Reason:   reason,
	}); err != nil {
		w.logger.Warn().Err(err).Msg("send rejectCall")
	}
	w.set(StateIdle)
	return nil
}

// End hangs up a connected call or cancels an outgoing one. A ringing
// invitation is declined.
func (w *Workflow) End() error {
	switch w.state {
	case StateRinging:
		return w.Reject(protocol.ReasonDeclined)
	case StateCalling, StateConnected:
		w.hangup()
		return nil
	}
	return ErrNoInvitation
}

func (w *Workflow) hangup() {
	inv := *w.inv
	if err := w.emit.Send(protocol.EventEndCall, protocol.EndCallPayload{RoomID: inv.RoomID, PeerID: inv.Counterpart}); err != nil {
		w.logger.Warn().Err(err).Msg("send endCall")
	}
	if w.state == StateConnected {
		w.neg.Close(inv.Counterpart)
	}
	w.set(StateIdle)
}

// OnEnded handles callEnded: the counterpart hung up or cancelled.
func (w *Workflow) OnEnded(from domain.UserID, roomID domain.RoomID) error {
	if w.inv == nil || w.inv.RoomID != roomID {
		return ErrNoInvitation
	}
	if w.inv.Counterpart != "" && w.inv.Counterpart != from {
		w.logger.Warn().Str("from", string(from)).Msg("callEnded from a stranger")
		return ErrNoInvitation
	}
	if w.state == StateConnected {
		w.neg.Close(w.inv.Counterpart)
	}
	w.set(StateIdle)
	return nil
}

// OnCancelled handles callCancelled, sent to an invitee whose invitation is
// no longer open (taken by another family member, or withdrawn).
func (w *Workflow) OnCancelled(roomID domain.RoomID, reason string) error {
	if w.inv == nil || w.inv.Direction != Incoming || w.inv.RoomID != roomID {
		return ErrNoInvitation
	}
	w.logger.Info().Str("reason", reason).Msg("invitation cancelled")
	if w.state == StateConnected {
		w.neg.Close(w.inv.Counterpart)
	}
	w.set(StateIdle)
	return nil
}

// Abort returns to Idle from any state, telling the counterpart. An empty
// roomID matches any room.
func (w *Workflow) Abort(roomID domain.RoomID, reason string) {
	if w.inv == nil || (roomID != "" && w.inv.RoomID != roomID) {
		return
	}
	w.logger.Info().Str("reason", reason).Str("state", w.state.String()).Msg("call aborted")
	switch w.state {
	case StateRinging:
		if err := w.Reject(reason); err != nil {
			w.logger.Warn().Err(err).Msg("abort reject")
		}
	case StateCalling, StateConnected:
		w.hangup()
	default:
		w.set(StateIdle)
	}
}

// Peer reports the counterpart of a connected call.
func (w *Workflow) Peer() (domain.UserID, bool) {
	if w.state != StateConnected {
		return "", false
	}
	return w.inv.Counterpart, true
}
