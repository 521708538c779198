package signal

import (
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.RoomPayload
	if err := env.Unmarshal(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room_id", string(p.RoomID)).Msg("join")
	state, err := ctl.Orch.Join(sid, p.RoomID)
	if err != nil {
		ctl.fail(conn, env.Type, err)
		return
	}
	ctl.sendJSON(conn, protocol.EventRoomState, state)
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	roomID, err := ctl.Orch.Leave(sid)
	if err != nil {
		ctl.fail(conn, protocol.EventLeaveRoom, err)
		return
	}
	ctl.sendJSON(conn, protocol.EventLeft, protocol.RoomPayload{RoomID: roomID})
}
