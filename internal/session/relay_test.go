package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	relayhttp "github.com/dkeye/Intercom/internal/adapters/http"
	"github.com/dkeye/Intercom/internal/adapters/rtc"
	"github.com/dkeye/Intercom/internal/app"
	"github.com/dkeye/Intercom/internal/app/orch"
	"github.com/dkeye/Intercom/internal/auth"
	"github.com/dkeye/Intercom/internal/call"
	"github.com/dkeye/Intercom/internal/config"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/negotiation"
	"github.com/dkeye/Intercom/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens, err := auth.NewStaticTokens([]config.Account{
		{Token: "t-alice", ID: "alice", Name: "Alice"},
		{Token: "t-bob", ID: "bob", Name: "Bob"},
	})
	require.NoError(t, err)
	dir, err := app.NewDirectory(tokens.Users(), nil)
	require.NoError(t, err)
	o := orch.New(app.NewRegistry(), app.NewRoomManager(), app.SimplePolicy{}, app.NewCallBook(), dir)
	cfg := &config.Config{Mode: "test", PingPeriod: time.Second, SendBuffer: 32, ReadLimit: 1 << 16, InviteRate: 100, InviteBurst: 10}

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(relayhttp.SetupRouter(ctx, cfg, o, tokens))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
}

func connectTo(t *testing.T, url, token string) *Session {
	t.Helper()
	factory, err := rtc.NewFactory(rtc.Config{})
	require.NoError(t, err)
	s, err := Connect(context.Background(), Options{
		Credential: token,
		Signaling:  signaling.Config{URL: url},
		Factory:    factory,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eventually(t *testing.T, s *Session, cond func(Snapshot) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		snap, err := s.Snapshot(ctx)
		return err == nil && cond(snap)
	}, 5*time.Second, 20*time.Millisecond, msg)
}

func TestCallThroughRelay(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	alice := connectTo(t, url, "t-alice")
	bob := connectTo(t, url, "t-bob")
	assert.Equal(t, domain.UserID("alice"), alice.Self().ID)
	assert.Equal(t, "Bob", bob.Self().Username)

	require.NoError(t, alice.Join(ctx, "R1"))
	require.NoError(t, bob.Join(ctx, "R1"))
	eventually(t, alice, func(s Snapshot) bool { return len(s.Members) == 2 }, "alice sees bob join")

	require.NoError(t, alice.PlaceCall(ctx, "bob"))
	eventually(t, bob, func(s Snapshot) bool { return s.Call == call.StateRinging }, "bob rings")
	require.NoError(t, bob.Accept(ctx))

	eventually(t, alice, func(s Snapshot) bool {
		return s.Call == call.StateConnected && s.Links["bob"].State == negotiation.StateStable
	}, "alice negotiated")
	eventually(t, bob, func(s Snapshot) bool {
		return s.Call == call.StateConnected && s.Links["alice"].State == negotiation.StateStable
	}, "bob negotiated")

	require.NoError(t, alice.End(ctx))
	eventually(t, bob, func(s Snapshot) bool { return s.Call == call.StateIdle && len(s.Links) == 0 }, "bob hung up")
}

func TestRejectedThroughRelay(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	alice := connectTo(t, url, "t-alice")
	bob := connectTo(t, url, "t-bob")
	require.NoError(t, alice.Join(ctx, "R1"))

	require.NoError(t, alice.PlaceCall(ctx, "bob"))
	eventually(t, bob, func(s Snapshot) bool { return s.Call == call.StateRinging }, "bob rings")
	require.NoError(t, bob.Reject(ctx, ""))
	eventually(t, alice, func(s Snapshot) bool { return s.Call == call.StateIdle }, "alice told")
}
