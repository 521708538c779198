// Package signaling is the client end of the relay: one authenticated
// WebSocket carrying protocol envelopes, with keepalive and reconnection.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StateConnected State = iota
	StateDisconnected
	StateReconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnected:
		return "reconnected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Handler receives the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

type ReconnectConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed bounds one reconnection attempt; zero retries until Close.
	MaxElapsed time.Duration
}

type Config struct {
	URL        string
	PingPeriod time.Duration
	WriteWait  time.Duration
	SendBuffer int
	ReadLimit  int64
	Reconnect  ReconnectConfig
	Dialer     *websocket.Dialer
}

func (c Config) withDefaults() Config {
	if c.PingPeriod <= 0 {
		c.PingPeriod = 25 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.Reconnect.InitialInterval <= 0 {
		c.Reconnect.InitialInterval = 500 * time.Millisecond
	}
	if c.Reconnect.MaxInterval <= 0 {
		c.Reconnect.MaxInterval = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	return c
}

type subscription struct {
	fn Handler
}

// wsConn is one transport generation. The channel replaces it on reconnect.
type wsConn struct {
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	readDone chan struct{}
	once     sync.Once
	err      error
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Channel is safe for concurrent use. Inbound events are delivered from a
// single goroutine in arrival order.
type Channel struct {
	cfg        Config
	credential string
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *wsConn
	handlers map[string][]*subscription
	stateFns []func(State, error)
	closed   bool

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the channel. A credential refused by the relay yields an
// *AuthError; other failures wrap ErrTransport.
func Dial(ctx context.Context, cfg Config, credential string) (*Channel, error) {
	cfg = cfg.withDefaults()
	cctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		cfg:        cfg,
		credential: credential,
		logger:     log.With().Str("module", "signaling").Str("url", cfg.URL).Logger(),
		ctx:        cctx,
		cancel:     cancel,
		handlers:   make(map[string][]*subscription),
		done:       make(chan struct{}),
	}
	c, err := ch.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	ch.conn = c
	ch.start(c)
	go ch.supervise(c)
	ch.logger.Info().Msg("connected")
	return ch, nil
}

func (ch *Channel) dial(ctx context.Context) (*wsConn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+ch.credential)
	ws, resp, err := ch.cfg.Dialer.DialContext(ctx, ch.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	ws.SetReadLimit(ch.cfg.ReadLimit)
	return &wsConn{
		ws:       ws,
		send:     make(chan []byte, ch.cfg.SendBuffer),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}, nil
}

func (ch *Channel) start(c *wsConn) {
	go ch.writePump(c)
	go ch.readPump(c)
}

func (ch *Channel) writePump(c *wsConn) {
	ticker := time.NewTicker(ch.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-ch.ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(ch.cfg.WriteWait)); err != nil {
				ch.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				ch.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(ch.cfg.WriteWait)); err != nil {
				ch.logger.Warn().Err(err).Msg("writePump ping")
				return
			}
		}
	}
}

func (ch *Channel) readPump(c *wsConn) {
	defer func() {
		c.close()
		close(c.readDone)
	}()
	deadline := 2 * ch.cfg.PingPeriod
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
		ch.dispatch(data)
	}
}

func (ch *Channel) dispatch(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		ch.logger.Warn().Err(err).Msg("bad frame")
		return
	}
	ch.mu.Lock()
	subs := slices.Clone(ch.handlers[env.Type])
	ch.mu.Unlock()
	if len(subs) == 0 {
		ch.logger.Debug().Str("type", env.Type).Msg("unhandled event")
		return
	}
	for _, s := range subs {
		s.fn(env.Payload)
	}
}

// supervise waits for each transport generation to end and replaces it until
// the channel is closed or reconnection gives up.
func (ch *Channel) supervise(c *wsConn) {
	defer close(ch.done)
	for {
		<-c.readDone

		ch.mu.Lock()
		ch.conn = nil
		closed := ch.closed
		ch.mu.Unlock()
		if closed {
			ch.emit(StateClosed, nil)
			return
		}

		cause := fmt.Errorf("%w: %v", ErrTransport, c.err)
		ch.logger.Warn().Err(c.err).Msg("connection lost")
		ch.emit(StateDisconnected, cause)

		next, err := ch.redial()
		if err != nil {
			ch.logger.Error().Err(err).Msg("reconnect failed")
			ch.mu.Lock()
			ch.closed = true
			ch.mu.Unlock()
			ch.cancel()
			ch.emit(StateClosed, err)
			return
		}

		ch.mu.Lock()
		if ch.closed {
			ch.mu.Unlock()
			next.close()
			ch.emit(StateClosed, nil)
			return
		}
		ch.conn = next
		ch.mu.Unlock()

		ch.start(next)
		ch.logger.Info().Msg("reconnected")
		ch.emit(StateReconnected, nil)
		c = next
	}
}

func (ch *Channel) redial() (*wsConn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ch.cfg.Reconnect.InitialInterval
	b.MaxInterval = ch.cfg.Reconnect.MaxInterval
	b.MaxElapsedTime = ch.cfg.Reconnect.MaxElapsed

	var next *wsConn
	op := func() error {
		c, err := ch.dial(ch.ctx)
		if err != nil {
			if errors.Is(err, ErrAuth) {
				return backoff.Permanent(err)
			}
			return err
		}
		next = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		ch.logger.Info().Err(err).Dur("retry_in", wait).Msg("redial")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ch.ctx), notify); err != nil {
		return nil, err
	}
	return next, nil
}

func (ch *Channel) emit(s State, err error) {
	ch.mu.Lock()
	fns := slices.Clone(ch.stateFns)
	ch.mu.Unlock()
	for _, fn := range fns {
		fn(s, err)
	}
}

// Send queues one event for the relay.
func (ch *Channel) Send(event string, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return ErrClosed
	}
	if ch.conn == nil {
		return fmt.Errorf("send %s while disconnected: %w", event, ErrTransport)
	}
	select {
	case ch.conn.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Subscribe registers h for event. Handlers of one event run in registration
// order. The returned func removes the subscription.
func (ch *Channel) Subscribe(event string, h Handler) func() {
	s := &subscription{fn: h}
	ch.mu.Lock()
	ch.handlers[event] = append(ch.handlers[event], s)
	ch.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ch.mu.Lock()
			ch.handlers[event] = slices.DeleteFunc(ch.handlers[event], func(x *subscription) bool { return x == s })
			ch.mu.Unlock()
		})
	}
}

// OnState registers fn for connection state changes. fn runs on the
// channel's supervisor goroutine.
func (ch *Channel) OnState(fn func(State, error)) {
	ch.mu.Lock()
	ch.stateFns = append(ch.stateFns, fn)
	ch.mu.Unlock()
}

// Close shuts the channel down. It is idempotent and does not wait for the
// pumps, so it may be called from a handler.
func (ch *Channel) Close() error {
	ch.closeOnce.Do(func() {
		ch.mu.Lock()
		ch.closed = true
		c := ch.conn
		ch.mu.Unlock()
		ch.cancel()
		if c != nil {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(ch.cfg.WriteWait))
			c.close()
		}
		ch.logger.Info().Msg("closed")
	})
	return nil
}

// Done is closed once the channel has fully stopped.
func (ch *Channel) Done() <-chan struct{} { return ch.done }
