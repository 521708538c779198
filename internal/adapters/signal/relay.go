package signal

import (
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleDescription(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.DescriptionPayload
	if err := env.Unmarshal(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", env.Type).Msg("bad description payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Orch.RelayDescription(sid, env.Type, p); err != nil {
		ctl.fail(conn, env.Type, err)
	}
}

func (ctl *SignalWSController) handleCandidate(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.CandidatePayload
	if err := env.Unmarshal(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Orch.RelayCandidate(sid, p); err != nil {
		ctl.fail(conn, env.Type, err)
	}
}
