package orch

import (
	"sync"
	"testing"

	"github.com/dkeye/Intercom/internal/app"
	"github.com/dkeye/Intercom/internal/config"
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	frames    []core.Frame
	full      bool
	cancelled bool
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return core.ErrBackpressure
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		env, err := protocol.Decode(f)
		if err == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

// last decodes the most recent frame of the given event into v.
func (r *recorder) last(t *testing.T, event string, v any) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		env, err := protocol.Decode(r.frames[i])
		require.NoError(t, err)
		if env.Type == event {
			require.NoError(t, env.Unmarshal(v))
			return
		}
	}
	t.Fatalf("no %s frame among %v", event, r.frames)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

var people = []domain.User{
	{ID: "alice", Username: "Alice"},
	{ID: "bob", Username: "Bob"},
	{ID: "carol", Username: "Carol"},
	{ID: "dave", Username: "Dave"},
}

func newTestOrch(t *testing.T) *Orchestrator {
	t.Helper()
	dir, err := app.NewDirectory(people, []config.Family{{ID: "smiths", Members: []string{"alice", "bob", "carol"}}})
	require.NoError(t, err)
	return New(app.NewRegistry(), app.NewRoomManager(), app.SimplePolicy{}, app.NewCallBook(), dir)
}

func connect(o *Orchestrator, sid core.SessionID, user domain.UserID) *recorder {
	rec := &recorder{}
	u := &domain.User{ID: user, Username: string(user)}
	o.Registry.BindSignal(sid, core.NewMemberSession(domain.NewMember(u), rec), rec.cancel)
	return rec
}

func TestJoinAnnouncesAndSwitchesRooms(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "s-a", "alice")
	b := connect(o, "s-b", "bob")

	_, err := o.Join("s-a", "R1")
	require.NoError(t, err)
	state, err := o.Join("s-b", "R1")
	require.NoError(t, err)
	assert.Len(t, state.Members, 2)

	var joined protocol.MemberPayload
	a.last(t, protocol.EventUserJoined, &joined)
	assert.Equal(t, domain.UserID("bob"), joined.ClientID)
	assert.Empty(t, b.types(), "joiner does not hear about itself")

	_, err = o.Join("s-a", "R1")
	require.NoError(t, err)
	assert.NotContains(t, b.types(), protocol.EventUserJoined, "rejoin is a no-op")

	_, err = o.Join("s-b", "R2")
	require.NoError(t, err)
	var left protocol.MemberPayload
	a.last(t, protocol.EventUserLeft, &left)
	assert.Equal(t, domain.UserID("bob"), left.ClientID)

	room, err := o.Leave("s-a")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("R1"), room)
	_, ok := o.Rooms.GetRoom("R1")
	assert.False(t, ok, "empty room is stopped")

	_, err = o.Leave("s-a")
	assert.ErrorIs(t, err, ErrNotInRoom)
	_, err = o.Join("s-a", "")
	assert.ErrorIs(t, err, domain.ErrRoomIDEmpty)
}

func TestInviteOfflineTarget(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "s-a", "alice")
	_, err := o.Join("s-a", "R1")
	require.NoError(t, err)

	require.NoError(t, o.Invite("s-a", "dave", "R1"))
	var rej protocol.CallRejectedPayload
	a.last(t, protocol.EventCallRejected, &rej)
	assert.Equal(t, protocol.CallRejectedPayload{From: "dave", RoomID: "R1", Reason: protocol.ReasonOffline, Final: true}, rej)

	assert.ErrorIs(t, o.Invite("s-a", "alice", "R1"), ErrSelfCall)
	assert.ErrorIs(t, o.Invite("s-a", "bob", "R2"), ErrNotInRoom)
}

func TestInviteAcceptFlow(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "s-a", "alice")
	b := connect(o, "s-b", "bob")
	_, err := o.Join("s-a", "R1")
	require.NoError(t, err)

	require.NoError(t, o.Invite("s-a", "bob", "R1"))
	var in protocol.IncomingCallPayload
	b.last(t, protocol.EventIncomingCall, &in)
	assert.Equal(t, protocol.IncomingCallPayload{From: "alice", RoomID: "R1"}, in)

	assert.ErrorIs(t, o.Accept("s-b", "R1", "alice"), ErrNotInRoom, "must join before accepting")
	_, err = o.Join("s-b", "R1")
	require.NoError(t, err)
	require.NoError(t, o.Accept("s-b", "R1", "alice"))

	var acc protocol.CallAcceptedPayload
	a.last(t, protocol.EventCallAccepted, &acc)
	assert.Equal(t, domain.UserID("bob"), acc.ClientID)
	assert.Equal(t, domain.RoomID("R1"), acc.RoomID)

	require.NoError(t, o.End("s-b", "R1", "alice"))
	var ended protocol.CallEndedPayload
	a.last(t, protocol.EventCallEnded, &ended)
	assert.Equal(t, domain.UserID("bob"), ended.From)
	_, ok := o.Calls.Get("R1", "alice")
	assert.False(t, ok)
}

func TestFamilyFirstAcceptWins(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "s-a", "alice")
	b := connect(o, "s-b", "bob")
	c := connect(o, "s-c", "carol")
	for _, sid := range []core.SessionID{"s-a", "s-b", "s-c"} {
		_, err := o.Join(sid, "R1")
		require.NoError(t, err)
	}

	require.NoError(t, o.InviteFamily("s-a", "smiths", "R1"))
	assert.Contains(t, b.types(), protocol.EventIncomingFamilyCall)
	assert.Contains(t, c.types(), protocol.EventIncomingFamilyCall)
	assert.NotContains(t, a.types(), protocol.EventIncomingFamilyCall)

	require.NoError(t, o.Accept("s-b", "R1", "alice"))
	var acc protocol.CallAcceptedPayload
	a.last(t, protocol.EventCallAccepted, &acc)
	assert.Equal(t, domain.UserID("bob"), acc.ClientID)

	var cancelled protocol.CallCancelledPayload
	c.last(t, protocol.EventCallCancelled, &cancelled)
	assert.Equal(t, protocol.ReasonTaken, cancelled.Reason)

	c.reset()
	require.NoError(t, o.Accept("s-c", "R1", "alice"))
	assert.Equal(t, []string{protocol.EventCallCancelled}, c.types())

	assert.ErrorIs(t, o.InviteFamily("s-a", "nobody", "R1"), ErrUnknownFamily)
}

func TestRejectReportsFinal(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "s-a", "alice")
	connect(o, "s-b", "bob")
	connect(o, "s-c", "carol")
	_, err := o.Join("s-a", "R1")
	require.NoError(t, err)
	require.NoError(t, o.InviteFamily("s-a", "smiths", "R1"))

	require.NoError(t, o.Reject("s-b", "alice", "R1", ""))
	var rej protocol.CallRejectedPayload
	a.last(t, protocol.EventCallRejected, &rej)
	assert.Equal(t, protocol.ReasonDeclined, rej.Reason)
	assert.False(t, rej.Final)

	require.NoError(t, o.Reject("s-c", "alice", "R1", protocol.ReasonBusy))
	a.last(t, protocol.EventCallRejected, &rej)
	assert.True(t, rej.Final)
	assert.Equal(t, domain.UserID("carol"), rej.From)

	assert.ErrorIs(t, o.Reject("s-c", "alice", "R1", ""), app.ErrNoInvitation)
}

func TestEndWithdrawsUnansweredInvitation(t *testing.T) {
	o := newTestOrch(t)
	connect(o, "s-a", "alice")
	b := connect(o, "s-b", "bob")
	_, err := o.Join("s-a", "R1")
	require.NoError(t, err)
	require.NoError(t, o.Invite("s-a", "bob", "R1"))

	require.NoError(t, o.End("s-a", "R1", "bob"))
	var cancelled protocol.CallCancelledPayload
	b.last(t, protocol.EventCallCancelled, &cancelled)
	assert.Equal(t, protocol.CallCancelledPayload{RoomID: "R1", Reason: protocol.ReasonWithdrawn}, cancelled)

	assert.ErrorIs(t, o.End("s-a", "R1", ""), app.ErrNoInvitation)
}

func TestRelayStampsSenderAndRequiresSharedRoom(t *testing.T) {
	o := newTestOrch(t)
	connect(o, "s-a", "alice")
	b := connect(o, "s-b", "bob")
	connect(o, "s-c", "carol")
	for sid, room := range map[core.SessionID]domain.RoomID{"s-a": "R1", "s-b": "R1", "s-c": "R2"} {
		_, err := o.Join(sid, room)
		require.NoError(t, err)
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	require.NoError(t, o.RelayDescription("s-a", protocol.EventOffer, protocol.DescriptionPayload{
		RoomID: "R1", To: "bob", From: "mallory", Description: offer,
	}))
	var got protocol.DescriptionPayload
	b.last(t, protocol.EventOffer, &got)
	assert.Equal(t, domain.UserID("alice"), got.From)
	assert.Equal(t, offer, got.Description)

	err := o.RelayCandidate("s-a", protocol.CandidatePayload{RoomID: "R1", To: "carol"})
	assert.ErrorIs(t, err, ErrPeerNotInRoom)
	err = o.RelayCandidate("s-c", protocol.CandidatePayload{RoomID: "R1", To: "bob"})
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestDisconnectClosesInvitations(t *testing.T) {
	o := newTestOrch(t)
	connect(o, "s-a", "alice")
	b := connect(o, "s-b", "bob")
	_, err := o.Join("s-a", "R1")
	require.NoError(t, err)
	require.NoError(t, o.Invite("s-a", "bob", "R1"))

	o.Disconnect("s-a")
	var cancelled protocol.CallCancelledPayload
	b.last(t, protocol.EventCallCancelled, &cancelled)
	assert.Equal(t, protocol.ReasonWithdrawn, cancelled.Reason)
	_, ok := o.Registry.GetSession("s-a")
	assert.False(t, ok)
	assert.Empty(t, o.Rooms.List())
}

func TestDisconnectOfInviteeRejectsForCaller(t *testing.T) {
	o := newTestOrch(t)
	a := connect(o, "s-a", "alice")
	connect(o, "s-b", "bob")
	_, err := o.Join("s-a", "R1")
	require.NoError(t, err)
	require.NoError(t, o.Invite("s-a", "bob", "R1"))

	o.Disconnect("s-b")
	var rej protocol.CallRejectedPayload
	a.last(t, protocol.EventCallRejected, &rej)
	assert.Equal(t, protocol.CallRejectedPayload{From: "bob", RoomID: "R1", Reason: protocol.ReasonOffline, Final: true}, rej)
}

func TestSlowMemberIsKicked(t *testing.T) {
	o := newTestOrch(t)
	connect(o, "s-a", "alice")
	b := connect(o, "s-b", "bob")
	_, err := o.Join("s-b", "R1")
	require.NoError(t, err)
	b.full = true

	_, err = o.Join("s-a", "R1")
	require.NoError(t, err)
	assert.True(t, b.cancelled)
}

func TestWhoAmI(t *testing.T) {
	o := newTestOrch(t)
	connect(o, "s-a", "alice")
	me, err := o.WhoAmI("s-a")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), me.User.ID)
	_, err = o.WhoAmI("ghost")
	assert.ErrorIs(t, err, ErrNoSession)
}
