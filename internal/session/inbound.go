package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Intercom/internal/call"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/negotiation"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/dkeye/Intercom/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// on decodes event payloads on the channel's read goroutine and hands them
// to fn on the loop, in arrival order.
func on[T any](s *Session, event string, fn func(T)) {
	s.unsubs = append(s.unsubs, s.ch.Subscribe(event, func(raw json.RawMessage) {
		var p T
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("event", event).Msg("bad payload")
			return
		}
		s.post(func() { fn(p) })
	}))
}

func (s *Session) subscribe() {
	on(s, protocol.EventRoomState, func(p protocol.RoomStatePayload) {
		s.members.OnRoomState(p.RoomID, p.Members)
	})
	on(s, protocol.EventUserJoined, func(p protocol.MemberPayload) {
		s.members.OnUserJoined(p.ClientID, p.User)
	})
	on(s, protocol.EventUserLeft, func(p protocol.MemberPayload) {
		s.members.OnUserLeft(p.ClientID)
	})
	on(s, protocol.EventLeft, func(p protocol.RoomPayload) {
		s.logger.Debug().Str("room", string(p.RoomID)).Msg("leave acknowledged")
	})

	on(s, protocol.EventIncomingCall, s.onInvite)
	on(s, protocol.EventIncomingFamilyCall, s.onInvite)
	on(s, protocol.EventCallAccepted, func(p protocol.CallAcceptedPayload) {
		s.warn(s.workflow.OnAccepted(s.ctx, p.ClientID, p.RoomID), "callAccepted")
	})
	on(s, protocol.EventCallRejected, func(p protocol.CallRejectedPayload) {
		s.warn(s.workflow.OnRejected(p.From, p.RoomID, p.Reason, p.Final), "callRejected")
	})
	on(s, protocol.EventCallEnded, func(p protocol.CallEndedPayload) {
		s.warn(s.workflow.OnEnded(p.From, p.RoomID), "callEnded")
	})
	on(s, protocol.EventCallCancelled, func(p protocol.CallCancelledPayload) {
		s.warn(s.workflow.OnCancelled(p.RoomID, p.Reason), "callCancelled")
	})

	on(s, protocol.EventOffer, s.onOffer)
	on(s, protocol.EventAnswer, s.onAnswer)
	on(s, protocol.EventICECandidate, s.onCandidate)

	on(s, protocol.EventError, func(p protocol.ErrorPayload) {
		s.logger.Warn().Str("code", p.Error).Msg("relay error")
		s.obs.Error(fmt.Errorf("%w: %s", ErrRelay, p.Error))
	})
}

func (s *Session) warn(err error, event string) {
	if err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("event ignored")
	}
}

func (s *Session) onInvite(p protocol.IncomingCallPayload) {
	if err := s.workflow.ReceiveInvite(p.From, p.RoomID, p.FamilyID); err != nil && !errors.Is(err, call.ErrBusy) {
		s.logger.Warn().Err(err).Msg("invite")
	}
}

// fromPeer reports whether a negotiation message comes from the counterpart
// of our connected call, in its room.
func (s *Session) fromPeer(from domain.UserID, roomID domain.RoomID) bool {
	peer, ok := s.workflow.Peer()
	if !ok || peer != from {
		return false
	}
	inv, _ := s.workflow.Invitation()
	return inv.RoomID == roomID
}

func (s *Session) onOffer(p protocol.DescriptionPayload) {
	if !s.fromPeer(p.From, p.RoomID) {
		s.logger.Warn().Str("from", string(p.From)).Str("room", string(p.RoomID)).Msg("offer from outside the call dropped")
		return
	}
	if _, err := s.binder.BindTo(s.engine, p.From, p.RoomID); err != nil {
		s.logger.Error().Err(err).Msg("bind local media")
		s.obs.Error(err)
	}
	answer, err := s.engine.HandleOffer(s.ctx, p.From, p.RoomID, p.Description)
	if err != nil {
		s.negotiationError(err, "offer")
		return
	}
	if err := s.ch.Send(protocol.EventAnswer, protocol.DescriptionPayload{
		RoomID: p.RoomID, To: p.From, Description: answer,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("send answer")
	}
}

func (s *Session) onAnswer(p protocol.DescriptionPayload) {
	if !s.fromPeer(p.From, p.RoomID) {
		s.logger.Warn().Str("from", string(p.From)).Msg("answer from outside the call dropped")
		return
	}
	if err := s.engine.HandleAnswer(s.ctx, p.From, p.Description); err != nil {
		s.negotiationError(err, "answer")
	}
}

func (s *Session) onCandidate(p protocol.CandidatePayload) {
	if !s.fromPeer(p.From, p.RoomID) {
		s.logger.Debug().Str("from", string(p.From)).Msg("candidate from outside the call dropped")
		return
	}
	if err := s.engine.HandleCandidate(p.From, p.RoomID, p.Candidate); err != nil {
		s.negotiationError(err, "candidate")
	}
}

// negotiationError logs out-of-order steps and surfaces everything else.
func (s *Session) negotiationError(err error, step string) {
	if errors.Is(err, negotiation.ErrInvalidState) || errors.Is(err, negotiation.ErrNoLink) {
		s.logger.Warn().Err(err).Str("step", step).Msg("negotiation step ignored")
		return
	}
	s.logger.Error().Err(err).Str("step", step).Msg("negotiation")
	s.obs.Error(err)
}

func (s *Session) sendCandidate(peerID domain.UserID, roomID domain.RoomID, c webrtc.ICECandidateInit) {
	if err := s.ch.Send(protocol.EventICECandidate, protocol.CandidatePayload{
		RoomID: roomID, To: peerID, Candidate: c,
	}); err != nil {
		s.logger.Warn().Err(err).Str("peer", string(peerID)).Msg("send candidate")
	}
}

func (s *Session) onLinkFailed(peerID domain.UserID, roomID domain.RoomID) {
	s.obs.Error(fmt.Errorf("connection to %s failed", peerID))
	s.workflow.Abort(roomID, protocol.ReasonMedia)
}

// onLeave runs before leaveRoom goes out: the call in that room ends and its
// links close.
func (s *Session) onLeave(roomID domain.RoomID) {
	s.workflow.Abort(roomID, protocol.ReasonLeft)
	s.engine.CloseRoom(roomID)
}

func (s *Session) onState(st signaling.State, err error) {
	s.obs.ConnectionChanged(st, err)
	switch st {
	case signaling.StateDisconnected:
		s.logger.Warn().Err(err).Msg("relay lost, dropping call")
		s.workflow.Abort("", protocol.ReasonOffline)
		s.engine.CloseAll()
	case signaling.StateReconnected:
		if err := s.members.Rejoin(); err != nil {
			s.logger.Error().Err(err).Msg("rejoin")
			s.obs.Error(err)
		}
	case signaling.StateClosed:
		s.stop(protocol.ReasonOffline)
	}
}

// negotiator lets the call workflow start negotiation: local tracks are
// bound, then the offer is created and sent.
type negotiator struct{ s *Session }

func (n negotiator) Offer(ctx context.Context, peerID domain.UserID, roomID domain.RoomID) error {
	s := n.s
	if _, err := s.binder.BindTo(s.engine, peerID, roomID); err != nil {
		return err
	}
	offer, err := s.engine.CreateOffer(ctx, peerID, roomID)
	if err != nil {
		return err
	}
	return s.ch.Send(protocol.EventOffer, protocol.DescriptionPayload{RoomID: roomID, To: peerID, Description: offer})
}

func (n negotiator) Close(peerID domain.UserID) { n.s.engine.Close(peerID) }
