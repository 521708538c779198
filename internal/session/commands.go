package session

import (
	"context"
	"fmt"

	"github.com/dkeye/Intercom/internal/call"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/membership"
	"github.com/dkeye/Intercom/internal/negotiation"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/pion/webrtc/v4"
)

func (s *Session) Join(ctx context.Context, roomID domain.RoomID) error {
	return s.do(ctx, func() error { return s.members.Join(roomID) })
}

// Leave exits the current room, ending any call in it.
func (s *Session) Leave(ctx context.Context) error {
	return s.do(ctx, func() error {
		room, ok := s.members.Current()
		if !ok {
			return membership.ErrNotJoined
		}
		return s.members.Leave(room)
	})
}

// PlaceCall rings target in the current room. Local media is opened first;
// if that fails nothing is sent.
func (s *Session) PlaceCall(ctx context.Context, target domain.UserID) error {
	return s.do(ctx, func() error {
		room, err := s.currentRoom()
		if err != nil {
			return err
		}
		if s.workflow.State() != call.StateIdle {
			return call.ErrBusy
		}
		if err := s.acquire(ctx); err != nil {
			return err
		}
		if err := s.workflow.PlaceCall(target, room); err != nil {
			s.releaseIfIdle()
			return err
		}
		return nil
	})
}

func (s *Session) PlaceGroupCall(ctx context.Context, family domain.FamilyID) error {
	return s.do(ctx, func() error {
		room, err := s.currentRoom()
		if err != nil {
			return err
		}
		if s.workflow.State() != call.StateIdle {
			return call.ErrBusy
		}
		if err := s.acquire(ctx); err != nil {
			return err
		}
		if err := s.workflow.PlaceGroupCall(family, room); err != nil {
			s.releaseIfIdle()
			return err
		}
		return nil
	})
}

// Accept answers the ringing invitation: media is opened, the invitation's
// room joined, then the acceptance sent. A media failure declines the
// invitation with reason media.
func (s *Session) Accept(ctx context.Context) error {
	return s.do(ctx, func() error {
		inv, ok := s.workflow.Invitation()
		if !ok || s.workflow.State() != call.StateRinging {
			return call.ErrNoInvitation
		}
		if err := s.acquire(ctx); err != nil {
			if rerr := s.workflow.Reject(protocol.ReasonMedia); rerr != nil {
				s.logger.Warn().Err(rerr).Msg("reject after media failure")
			}
			return err
		}
		if err := s.members.Join(inv.RoomID); err != nil {
			s.logger.Warn().Err(err).Str("room", string(inv.RoomID)).Msg("join for accept")
			if rerr := s.workflow.Reject(protocol.ReasonDeclined); rerr != nil {
				s.logger.Warn().Err(rerr).Msg("reject after join failure")
			}
			return err
		}
		if err := s.workflow.Accept(); err != nil {
			s.releaseIfIdle()
			return err
		}
		return nil
	})
}

func (s *Session) Reject(ctx context.Context, reason string) error {
	return s.do(ctx, func() error { return s.workflow.Reject(reason) })
}

func (s *Session) End(ctx context.Context) error {
	return s.do(ctx, func() error { return s.workflow.End() })
}

// Snapshot is a consistent view of the session at one point of the loop.
type Snapshot struct {
	Self       domain.User
	Room       domain.RoomID
	Joined     bool
	Members    []domain.User
	Call       call.State
	Invitation call.Invitation
	Links      map[domain.UserID]LinkStatus
	LocalMedia bool
}

// LinkStatus describes one peer link.
type LinkStatus struct {
	State     negotiation.SignalingState
	Polite    bool
	Sending   []webrtc.RTPCodecType
	Receiving int
	// Pending counts remote candidates waiting for a remote description.
	Pending int
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		room, joined := s.members.Current()
		snap = Snapshot{
			Self:       s.self,
			Room:       room,
			Joined:     joined,
			Members:    s.members.Members(),
			Call:       s.workflow.State(),
			Links:      make(map[domain.UserID]LinkStatus),
			LocalMedia: s.binder.Source() != nil,
		}
		snap.Invitation, _ = s.workflow.Invitation()
		for _, id := range s.engine.Links() {
			if l, ok := s.engine.Link(id); ok {
				snap.Links[id] = LinkStatus{
					State:     l.State(),
					Polite:    l.Polite(),
					Sending:   l.LocalKinds(),
					Receiving: len(l.RemoteMedia()),
					Pending:   len(l.PendingCandidates()),
				}
			}
		}
		return nil
	})
	return snap, err
}

func (s *Session) currentRoom() (domain.RoomID, error) {
	room, ok := s.members.Current()
	if !ok {
		return "", membership.ErrNotJoined
	}
	return room, nil
}

// acquire opens local media unless the session is receive-only.
func (s *Session) acquire(ctx context.Context) error {
	if !s.constraints.Video && !s.constraints.Audio {
		return nil
	}
	if _, err := s.binder.Acquire(ctx, s.constraints); err != nil {
		return fmt.Errorf("local media: %w", err)
	}
	return nil
}

func (s *Session) releaseIfIdle() {
	if s.workflow.State() == call.StateIdle {
		s.binder.Release()
	}
}
