package core

import (
	"testing"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/stretchr/testify/assert"
)

type stubSignal struct {
	frames []Frame
	full   bool
}

func (s *stubSignal) TrySend(f Frame) error {
	if s.full {
		return ErrBackpressure
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *stubSignal) Close() {}

func member(id domain.UserID, sig SignalConnection) MemberSession {
	return NewMemberSession(domain.NewMember(&domain.User{ID: id, Username: string(id)}), sig)
}

func TestRoomMembership(t *testing.T) {
	r := NewRoomService(&domain.Room{ID: "lobby"})
	r.AddMember("s1", member("bob", &stubSignal{}))
	r.AddMember("s2", member("alice", &stubSignal{}))
	r.AddMember("s3", member("bob", &stubSignal{}))

	assert.Equal(t, 2, r.MemberCount())
	assert.Equal(t, []domain.User{{ID: "alice", Username: "alice"}, {ID: "bob", Username: "bob"}}, r.MembersSnapshot())
	assert.Equal(t, []SessionID{"s1", "s3"}, r.SessionsOf("bob"))
	assert.True(t, r.Has("s2"))

	r.RemoveMember("s1")
	assert.Equal(t, []SessionID{"s3"}, r.SessionsOf("bob"))
	r.RemoveMember("s3")
	assert.Empty(t, r.SessionsOf("bob"))
	assert.Equal(t, 1, r.MemberCount())
	r.RemoveMember("nope")
}

func TestRoomBroadcastSkipsSenderAndReportsDrops(t *testing.T) {
	r := NewRoomService(&domain.Room{ID: "lobby"})
	a, b, c := &stubSignal{}, &stubSignal{}, &stubSignal{full: true}
	r.AddMember("a", member("alice", a))
	r.AddMember("b", member("bob", b))
	r.AddMember("c", member("carol", c))

	res := r.Broadcast("a", Frame("hi"))
	assert.Equal(t, 1, res.SendTo)
	assert.Equal(t, []SessionID{"c"}, res.Dropped)
	assert.Empty(t, a.frames)
	assert.Equal(t, []Frame{Frame("hi")}, b.frames)
}
