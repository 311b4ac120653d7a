package gateserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/ppn-systems/orion/internal/model"
	"github.com/ppn-systems/orion/internal/protocol"
)

// handleLogout ends the authenticated session: stamps last_logout_at,
// clears the level, drops the hub association, and closes the socket after
// the DISCONNECT directive is flushed.
func handleLogout(ctx context.Context, sctx *ServerContext, c *Conn, p *protocol.Packet) Result {
	username, ok := sctx.Hub.Username(c.ID())
	if !ok {
		return Fail(protocol.ReasonSessionNotFound, protocol.AdviceDoNotRetry, 0)
	}

	if err := sctx.Accounts.StampLogout(ctx, username, time.Now()); err != nil {
		if canceled(ctx, err) {
			return cancelledResult()
		}
		// Logout proceeds anyway: the session ends even if the stamp is lost.
		slog.Error("stamping logout failed", "username", username, "error", err)
	}

	c.SetLevel(model.LevelNone)
	sctx.Hub.DissociateUsername(c)

	slog.Info("logout", "username", username, "conn", c.ID())
	return Result{
		Directive:  &protocol.DirectiveBody{Control: protocol.ControlDisconnect, Reason: protocol.ReasonNone},
		Disconnect: true,
	}
}
