package signal

import (
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/protocol"
)

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	ctl.sendJSON(conn, protocol.EventPong, nil)
}

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	me, err := ctl.Orch.WhoAmI(sid)
	if err != nil {
		ctl.fail(conn, protocol.EventWhoAmI, err)
		return
	}
	ctl.sendJSON(conn, protocol.EventWhoAmI, me)
}
