// Package session runs one signed-in client: the signaling channel, the
// negotiation engine, the call workflow, room membership and local media,
// all driven from a single event loop goroutine.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Intercom/internal/call"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/media"
	"github.com/dkeye/Intercom/internal/membership"
	"github.com/dkeye/Intercom/internal/negotiation"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/dkeye/Intercom/internal/signaling"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed    = errors.New("session closed")
	ErrHandshake = errors.New("relay did not identify us")
	// ErrRelay wraps error codes the relay reports.
	ErrRelay = errors.New("relay error")
)

// Transport is the part of *signaling.Channel the session uses.
type Transport interface {
	Send(event string, payload any) error
	Subscribe(event string, h signaling.Handler) func()
	OnState(fn func(signaling.State, error))
	Close() error
	Done() <-chan struct{}
}

type DialFunc func(ctx context.Context, cfg signaling.Config, credential string) (Transport, error)

func dialChannel(ctx context.Context, cfg signaling.Config, credential string) (Transport, error) {
	return signaling.Dial(ctx, cfg, credential)
}

type Options struct {
	Credential string
	Signaling  signaling.Config
	// Dial replaces the WebSocket channel, for tests.
	Dial     DialFunc
	Factory  negotiation.Factory
	Acquirer media.Acquirer
	// Constraints select the local media captured for a call. Requesting
	// nothing makes the session receive-only.
	Constraints media.Constraints
	Observer    Observer
	// HandshakeTimeout bounds the whoami exchange; 10s when zero.
	HandshakeTimeout time.Duration
}

type Session struct {
	ch          Transport
	self        domain.User
	obs         Observer
	constraints media.Constraints
	logger      zerolog.Logger

	engine   *negotiation.Engine
	workflow *call.Workflow
	members  *membership.Membership
	binder   *media.Binder

	q      queue
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	unsubs    []func()
}

// Connect dials the relay, learns who we are and starts the event loop.
// An *signaling.AuthError from the dial is returned as is.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	if opts.Factory == nil {
		return nil, errors.New("session: no peer connection factory")
	}
	if opts.Dial == nil {
		opts.Dial = dialChannel
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Acquirer == nil {
		opts.Constraints = media.Constraints{}
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	ch, err := opts.Dial(ctx, opts.Signaling, opts.Credential)
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ch:          ch,
		obs:         opts.Observer,
		constraints: opts.Constraints,
		q:           queue{wake: make(chan struct{}, 1)},
		ctx:         lctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	// Inbound events queue up until the loop starts below.
	s.subscribe()

	self, err := s.whoami(ctx, opts.HandshakeTimeout)
	if err != nil {
		cancel()
		s.unsubscribe()
		_ = ch.Close()
		return nil, err
	}
	s.self = self
	s.logger = log.With().Str("module", "session").Str("self", string(self.ID)).Logger()

	s.binder = media.NewBinder(opts.Acquirer)
	s.engine = negotiation.NewEngine(self.ID, opts.Factory, negotiation.Hooks{
		OnLocalCandidate:  s.sendCandidate,
		OnRemoteMedia:     s.obs.RemoteMediaAdded,
		OnRemoteMediaGone: s.obs.RemoteMediaRemoved,
		OnLinkFailed:      s.onLinkFailed,
	}, negotiation.WithDispatcher(s.post))
	s.workflow = call.NewWorkflow(self.ID, ch, negotiator{s}, callObserver{s})
	s.members = membership.New(ch,
		membership.OnLeave(s.onLeave),
		membership.OnMembersChanged(s.obs.MembersChanged),
	)

	ch.OnState(func(st signaling.State, err error) {
		s.post(func() { s.onState(st, err) })
	})
	go s.run()
	go func() {
		select {
		case <-ch.Done():
			s.post(func() { s.stop(protocol.ReasonOffline) })
		case <-s.ctx.Done():
		}
	}()
	s.logger.Info().Str("name", self.Username).Msg("session started")
	return s, nil
}

func (s *Session) whoami(ctx context.Context, timeout time.Duration) (domain.User, error) {
	got := make(chan domain.User, 1)
	unsub := s.ch.Subscribe(protocol.EventWhoAmI, func(raw json.RawMessage) {
		var p protocol.WhoAmIPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.User.ID == "" {
			return
		}
		select {
		case got <- p.User:
		default:
		}
	})
	defer unsub()

	if err := s.ch.Send(protocol.EventWhoAmI, nil); err != nil {
		return domain.User{}, fmt.Errorf("send whoami: %w", err)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case u := <-got:
		return u, nil
	case <-ctx.Done():
		return domain.User{}, ctx.Err()
	case <-s.ch.Done():
		return domain.User{}, fmt.Errorf("%w: channel closed", ErrHandshake)
	case <-timer.C:
		return domain.User{}, fmt.Errorf("%w: no answer in %s", ErrHandshake, timeout)
	}
}

// Self is the authenticated user.
func (s *Session) Self() domain.User { return s.self }

// Done is closed once the event loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close leaves the room, ends any call and hangs up the relay. It must not
// be called from an Observer callback.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		err := s.do(context.Background(), func() error {
			s.stop(protocol.ReasonLeft)
			return nil
		})
		if err != nil && !errors.Is(err, ErrClosed) {
			s.logger.Warn().Err(err).Msg("close")
		}
		s.cancel()
		s.unsubscribe()
		_ = s.ch.Close()
	})
	<-s.done
	return nil
}

// stop tears everything down and ends the loop. Runs on the loop.
func (s *Session) stop(reason string) {
	if s.ctx.Err() != nil {
		return
	}
	s.workflow.Abort("", reason)
	if room, ok := s.members.Current(); ok {
		if err := s.members.Leave(room); err != nil {
			s.logger.Debug().Err(err).Msg("leave on stop")
		}
	}
	s.engine.CloseAll()
	s.binder.Release()
	s.cancel()
	s.logger.Info().Str("reason", reason).Msg("session stopped")
}

func (s *Session) unsubscribe() {
	for _, u := range s.unsubs {
		u()
	}
	s.unsubs = nil
}

// queue is an unbounded FIFO of loop work. push never blocks, so pion
// callbacks and the loop itself may post freely.
type queue struct {
	mu    sync.Mutex
	items []func()
	wake  chan struct{}
}

func (q *queue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (s *Session) post(fn func()) {
	if s.ctx.Err() != nil {
		return
	}
	s.q.push(fn)
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.q.wake:
			for _, fn := range s.q.drain() {
				fn()
				if s.ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// do runs fn on the loop and waits for it. If ctx ends first fn may still
// run later.
func (s *Session) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	s.post(func() { res <- fn() })
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}
