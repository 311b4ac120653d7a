package gateserver

import (
	"context"
	"log/slog"

	"github.com/ppn-systems/orion/internal/crypto"
	"github.com/ppn-systems/orion/internal/protocol"
)

// handleChangePassword rotates the caller's password. The update is
// optimistic: it applies only while the stored hash still matches the one
// just verified, so a concurrent rotation loses cleanly.
func handleChangePassword(ctx context.Context, sctx *ServerContext, c *Conn, p *protocol.Packet) Result {
	upd, ok := p.Body.(*protocol.CredsUpdateBody)
	if !ok {
		return Fail(protocol.ReasonUnsupportedPacket, protocol.AdviceDoNotRetry, 0)
	}

	// The permission gate already requires USER; the hub lookup still runs
	// because the gate proves level, not association.
	username, ok := sctx.Hub.Username(c.ID())
	if !ok {
		return Fail(protocol.ReasonSessionNotFound, protocol.AdviceDoNotRetry, 0)
	}

	if !strongPassword(upd.NewPassword) {
		return Fail(protocol.ReasonWeakPassword, protocol.AdviceFixAndRetry, 0)
	}

	view, err := sctx.Accounts.GetForPasswordChangeByUsername(ctx, username)
	if err != nil {
		if canceled(ctx, err) {
			return cancelledResult()
		}
		slog.Error("fetching password view failed", "username", username, "error", err)
		return Fail(protocol.ReasonInternalError, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
	}
	if view == nil {
		return Fail(protocol.ReasonSessionNotFound, protocol.AdviceDoNotRetry, 0)
	}
	defer crypto.Wipe(view.Salt)
	defer crypto.Wipe(view.Hash)

	if !view.IsActive {
		return Fail(protocol.ReasonAccountSuspended, protocol.AdviceDoNotRetry, protocol.DirectiveAuthRelated)
	}

	oldPassword := []byte(upd.OldPassword)
	match := crypto.VerifyPassword(oldPassword, view.Salt, view.Hash)
	crypto.Wipe(oldPassword)
	if !match {
		return Fail(protocol.ReasonUnauthenticated, protocol.AdviceReauthenticate, protocol.DirectiveAuthRelated)
	}

	newPassword := []byte(upd.NewPassword)
	newSalt, newHash, err := crypto.HashPassword(newPassword)
	crypto.Wipe(newPassword)
	if err != nil {
		slog.Error("hashing new password failed", "username", username, "error", err)
		return Fail(protocol.ReasonInternalError, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
	}
	defer crypto.Wipe(newSalt)
	defer crypto.Wipe(newHash)

	rows, err := sctx.Accounts.UpdatePasswordIfMatches(ctx, view.ID, view.Hash, newSalt, newHash)
	if err != nil {
		if canceled(ctx, err) {
			return cancelledResult()
		}
		slog.Error("updating password failed", "username", username, "error", err)
		return Fail(protocol.ReasonInternalError, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
	}
	if rows == 0 {
		// Hash moved between read and update.
		return Fail(protocol.ReasonValidationFailed, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
	}

	slog.Info("password changed", "username", username, "conn", c.ID())
	return Ack()
}
