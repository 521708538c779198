package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// relay accepts connections that present token and hands them to the test.
type relay struct {
	token string
	conns chan *websocket.Conn
}

func newRelay(t *testing.T, token string) (*relay, string) {
	t.Helper()
	r := &relay{token: token, conns: make(chan *websocket.Conn, 4)}
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return r, "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/signal"
}

func (r *relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Authorization") != "Bearer "+r.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.conns <- ws
}

func (r *relay) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-r.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func testConfig(url string) Config {
	return Config{
		URL:        url,
		PingPeriod: time.Second,
		Reconnect: ReconnectConfig{
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
			MaxElapsed:      2 * time.Second,
		},
	}
}

func writeEvent(t *testing.T, c *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, data))
}

func TestDialAuthRejected(t *testing.T) {
	_, url := newRelay(t, "good")

	_, err := Dial(context.Background(), testConfig(url), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)

	var ae *AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusUnauthorized, ae.StatusCode)
}

func TestDialTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	_, err := Dial(context.Background(), testConfig(url), "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrAuth)
}

func TestSendAndReceive(t *testing.T) {
	r, url := newRelay(t, "tok")
	ch, err := Dial(context.Background(), testConfig(url), "tok")
	require.NoError(t, err)
	defer ch.Close()
	server := r.accept(t)

	got := make(chan protocol.RoomStatePayload, 1)
	ch.Subscribe(protocol.EventRoomState, func(raw json.RawMessage) {
		var p protocol.RoomStatePayload
		if json.Unmarshal(raw, &p) == nil {
			got <- p
		}
	})

	require.NoError(t, ch.Send(protocol.EventJoinRoom, protocol.RoomPayload{RoomID: "lobby"}))

	_, data, err := server.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventJoinRoom, env.Type)
	var join protocol.RoomPayload
	require.NoError(t, env.Unmarshal(&join))
	assert.Equal(t, "lobby", string(join.RoomID))

	writeEvent(t, server, protocol.EventRoomState, protocol.RoomStatePayload{RoomID: "lobby"})
	select {
	case p := <-got:
		assert.Equal(t, "lobby", string(p.RoomID))
	case <-time.After(2 * time.Second):
		t.Fatal("roomState not delivered")
	}
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	r, url := newRelay(t, "tok")
	ch, err := Dial(context.Background(), testConfig(url), "tok")
	require.NoError(t, err)
	defer ch.Close()
	server := r.accept(t)

	calls := make(chan string, 8)
	unsubFirst := ch.Subscribe(protocol.EventPong, func(json.RawMessage) { calls <- "first" })
	ch.Subscribe(protocol.EventPong, func(json.RawMessage) { calls <- "second" })

	writeEvent(t, server, protocol.EventPong, nil)
	assert.Equal(t, "first", <-calls)
	assert.Equal(t, "second", <-calls)

	unsubFirst()
	unsubFirst()
	writeEvent(t, server, protocol.EventPong, nil)
	assert.Equal(t, "second", <-calls)
	select {
	case c := <-calls:
		t.Fatalf("unexpected call %q", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInboundEventsKeepArrivalOrder(t *testing.T) {
	r, url := newRelay(t, "tok")
	ch, err := Dial(context.Background(), testConfig(url), "tok")
	require.NoError(t, err)
	defer ch.Close()
	server := r.accept(t)

	const n = 50
	var mu sync.Mutex
	var seen []string
	all := make(chan struct{})
	ch.Subscribe(protocol.EventError, func(raw json.RawMessage) {
		var p protocol.ErrorPayload
		_ = json.Unmarshal(raw, &p)
		mu.Lock()
		seen = append(seen, p.Error)
		if len(seen) == n {
			close(all)
		}
		mu.Unlock()
	})

	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		msg := string(rune('a'+i%26)) + string(rune('0'+i/26))
		want = append(want, msg)
		writeEvent(t, server, protocol.EventError, protocol.ErrorPayload{Error: msg})
	}

	select {
	case <-all:
	case <-time.After(2 * time.Second):
		t.Fatal("events not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestCloseIsIdempotent(t *testing.T) {
	r, url := newRelay(t, "tok")
	ch, err := Dial(context.Background(), testConfig(url), "tok")
	require.NoError(t, err)
	r.accept(t)

	states := make(chan State, 4)
	ch.OnState(func(s State, _ error) { states <- s })

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(protocol.EventPing, nil), ErrClosed)

	select {
	case s := <-states:
		assert.Equal(t, StateClosed, s)
	case <-time.After(2 * time.Second):
		t.Fatal("no closed state")
	}
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not stop")
	}
	assert.ErrorIs(t, ch.Send(protocol.EventPing, nil), ErrClosed, "stays closed after the pumps stop")
}

func TestReconnectsAfterTransportLoss(t *testing.T) {
	r, url := newRelay(t, "tok")
	ch, err := Dial(context.Background(), testConfig(url), "tok")
	require.NoError(t, err)
	defer ch.Close()
	first := r.accept(t)

	states := make(chan State, 4)
	ch.OnState(func(s State, err error) {
		if s == StateDisconnected {
			assert.ErrorIs(t, err, ErrTransport)
		}
		states <- s
	})

	require.NoError(t, first.Close())

	second := r.accept(t)
	assert.Equal(t, StateDisconnected, <-states)
	assert.Equal(t, StateReconnected, <-states)
	require.Eventually(t, ch.Connected, time.Second, 10*time.Millisecond)

	require.NoError(t, ch.Send(protocol.EventJoinRoom, protocol.RoomPayload{RoomID: "lobby"}))
	_, data, err := second.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventJoinRoom, env.Type)
}

func TestSendBackpressure(t *testing.T) {
	r, url := newRelay(t, "tok")
	cfg := testConfig(url)
	cfg.SendBuffer = 1
	ch, err := Dial(context.Background(), cfg, "tok")
	require.NoError(t, err)
	defer ch.Close()
	r.accept(t)

	var sawBackpressure bool
	for i := 0; i < 100000 && !sawBackpressure; i++ {
		if err := ch.Send(protocol.EventPing, nil); errors.Is(err, ErrBackpressure) {
			sawBackpressure = true
		}
	}
	assert.True(t, sawBackpressure)
}
