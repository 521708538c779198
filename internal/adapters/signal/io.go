package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Intercom/internal/app"
	"github.com/dkeye/Intercom/internal/app/orch"
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errRateLimited = errors.New("rate limited")

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.Disconnect(sid)
	}()

	wait := 2 * ctl.cfg.PingPeriod
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(wait))
			ctl.handleSignal(sid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(sid core.SessionID, c *WsSignalConn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case protocol.EventJoinRoom:
		ctl.handleJoin(sid, c, env)
	case protocol.EventLeaveRoom:
		ctl.handleLeave(sid, c)
	case protocol.EventPing:
		ctl.handlePing(c)
	case protocol.EventWhoAmI:
		ctl.handleWhoAmI(sid, c)
	case protocol.EventCallUser:
		ctl.handleCallUser(sid, c, env)
	case protocol.EventCallFamily:
		ctl.handleCallFamily(sid, c, env)
	case protocol.EventAcceptCall:
		ctl.handleAccept(sid, c, env)
	case protocol.EventRejectCall:
		ctl.handleReject(sid, c, env)
	case protocol.EventEndCall:
		ctl.handleEnd(sid, c, env)
	case protocol.EventOffer, protocol.EventAnswer:
		ctl.handleDescription(sid, c, env)
	case protocol.EventICECandidate:
		ctl.handleCandidate(sid, c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, "unknown_event")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, event string, payload any) {
	b, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code string) {
	ctl.sendJSON(c, protocol.EventError, protocol.ErrorPayload{Error: code})
}

// fail reports an orchestrator error to the sender as an error code.
func (ctl *SignalWSController) fail(c *WsSignalConn, event string, err error) {
	code := "internal"
	switch {
	case errors.Is(err, errRateLimited):
		code = "rate_limited"
	case errors.Is(err, orch.ErrNotInRoom):
		code = "not_in_room"
	case errors.Is(err, orch.ErrPeerNotInRoom):
		code = "peer_not_in_room"
	case errors.Is(err, orch.ErrSelfCall):
		code = "self_call"
	case errors.Is(err, orch.ErrUnknownFamily):
		code = "unknown_family"
	case errors.Is(err, app.ErrNoInvitation):
		code = "no_invitation"
	case errors.Is(err, domain.ErrRoomIDEmpty), errors.Is(err, domain.ErrRoomIDTooLong):
		code = "invalid_room"
	case errors.Is(err, protocol.ErrBadEnvelope):
		code = "bad_payload"
	}
	log.Warn().Err(err).Str("module", "signal").Str("event", event).Str("code", code).Msg("request failed")
	ctl.sendError(c, code)
}
