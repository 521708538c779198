// Package membership tracks which room the client is in and who else is
// there. A call can only be placed inside the joined room.
package membership

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotJoined = errors.New("not joined to room")

type Emitter interface {
	Send(event string, payload any) error
}

type Room struct {
	ID      domain.RoomID
	Joined  bool
	members map[domain.UserID]domain.User
}

type Option func(*Membership)

// OnLeave runs before leaveRoom is sent, so the hook can still reach the
// room (hang up, close links).
func OnLeave(fn func(domain.RoomID)) Option {
	return func(m *Membership) { m.onLeave = fn }
}

func OnMembersChanged(fn func(domain.RoomID, []domain.User)) Option {
	return func(m *Membership) { m.onChange = fn }
}

// Membership is owned by the session loop and not safe for concurrent use.
type Membership struct {
	emit     Emitter
	room     Room
	onLeave  func(domain.RoomID)
	onChange func(domain.RoomID, []domain.User)
	logger   zerolog.Logger
}

func New(emit Emitter, opts ...Option) *Membership {
	m := &Membership{
		emit:   emit,
		logger: log.With().Str("module", "membership").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join enters roomID, leaving the current room first. Joining the room we
// are already in does nothing.
func (m *Membership) Join(roomID domain.RoomID) error {
	if err := roomID.Validate(); err != nil {
		return err
	}
	if m.room.Joined && m.room.ID == roomID {
		return nil
	}
	if m.room.Joined {
		if err := m.Leave(m.room.ID); err != nil {
			return err
		}
	}
	if err := m.emit.Send(protocol.EventJoinRoom, protocol.RoomPayload{RoomID: roomID}); err != nil {
		return fmt.Errorf("send joinRoom: %w", err)
	}
	m.room = Room{ID: roomID, Joined: true, members: make(map[domain.UserID]domain.User)}
	m.logger.Info().Str("room", string(roomID)).Msg("joined")
	return nil
}

// Leave exits roomID. The OnLeave hook runs even if leaveRoom cannot be sent.
func (m *Membership) Leave(roomID domain.RoomID) error {
	if err := m.Require(roomID); err != nil {
		return err
	}
	if m.onLeave != nil {
		m.onLeave(roomID)
	}
	if err := m.emit.Send(protocol.EventLeaveRoom, protocol.RoomPayload{RoomID: roomID}); err != nil {
		m.logger.Warn().Err(err).Str("room", string(roomID)).Msg("send leaveRoom")
	}
	m.room = Room{}
	m.logger.Info().Str("room", string(roomID)).Msg("left")
	m.changed(roomID)
	return nil
}

// Rejoin re-announces the current room after the transport was replaced.
func (m *Membership) Rejoin() error {
	if !m.room.Joined {
		return nil
	}
	if err := m.emit.Send(protocol.EventJoinRoom, protocol.RoomPayload{RoomID: m.room.ID}); err != nil {
		return fmt.Errorf("send joinRoom: %w", err)
	}
	clear(m.room.members)
	m.logger.Info().Str("room", string(m.room.ID)).Msg("rejoined")
	return nil
}

// Require fails with ErrNotJoined unless we are in roomID.
func (m *Membership) Require(roomID domain.RoomID) error {
	if !m.room.Joined || m.room.ID != roomID {
		return fmt.Errorf("room %q: %w", roomID, ErrNotJoined)
	}
	return nil
}

func (m *Membership) Current() (domain.RoomID, bool) {
	return m.room.ID, m.room.Joined
}

func (m *Membership) OnRoomState(roomID domain.RoomID, members []domain.User) {
	if m.Require(roomID) != nil {
		return
	}
	clear(m.room.members)
	for _, u := range members {
		m.room.members[u.ID] = u
	}
	m.changed(roomID)
}

func (m *Membership) OnUserJoined(clientID domain.UserID, user domain.User) {
	if !m.room.Joined {
		return
	}
	if user.ID == "" {
		user.ID = clientID
	}
	m.room.members[clientID] = user
	m.changed(m.room.ID)
}

func (m *Membership) OnUserLeft(clientID domain.UserID) {
	if !m.room.Joined {
		return
	}
	if _, ok := m.room.members[clientID]; !ok {
		return
	}
	delete(m.room.members, clientID)
	m.changed(m.room.ID)
}

func (m *Membership) Has(id domain.UserID) bool {
	_, ok := m.room.members[id]
	return ok
}

// Members returns the current room's members ordered by id.
func (m *Membership) Members() []domain.User {
	out := slices.Collect(maps.Values(m.room.members))
	slices.SortFunc(out, func(a, b domain.User) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (m *Membership) changed(roomID domain.RoomID) {
	if m.onChange != nil {
		m.onChange(roomID, m.Members())
	}
}
