package signal

import (
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) allowInvite(sid core.SessionID) bool {
	user, ok := ctl.Orch.Registry.UserOf(sid)
	if !ok {
		return false
	}
	return ctl.Invites.Allow(user.ID)
}

func (ctl *SignalWSController) handleCallUser(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.CallUserPayload
	if err := env.Unmarshal(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad callUser payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if !ctl.allowInvite(sid) {
		ctl.fail(conn, env.Type, errRateLimited)
		return
	}
	if err := ctl.Orch.Invite(sid, p.UserID, p.RoomID); err != nil {
		ctl.fail(conn, env.Type, err)
	}
}

func (ctl *SignalWSController) handleCallFamily(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.CallFamilyPayload
	if err := env.Unmarshal(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad callFamily payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if !ctl.allowInvite(sid) {
		ctl.fail(conn, env.Type, errRateLimited)
		return
	}
	if err := ctl.Orch.InviteFamily(sid, p.FamilyID, p.RoomID); err != nil {
		ctl.fail(conn, env.Type, err)
	}
}

func (ctl *SignalWSController) handleAccept(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.AcceptCallPayload
	if err := env.Unmarshal(&p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Orch.Accept(sid, p.RoomID, p.CallerID); err != nil {
		ctl.fail(conn, env.Type, err)
	}
}

func (ctl *SignalWSController) handleReject(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.RejectCallPayload
	if err := env.Unmarshal(&p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Orch.Reject(sid, p.CallerID, p.RoomID, p.Reason); err != nil {
		ctl.fail(conn, env.Type, err)
	}
}

func (ctl *SignalWSController) handleEnd(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.EndCallPayload
	if err := env.Unmarshal(&p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Orch.End(sid, p.RoomID, p.PeerID); err != nil {
		ctl.fail(conn, env.Type, err)
	}
}
