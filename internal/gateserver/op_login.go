package gateserver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ppn-systems/orion/internal/crypto"
	"github.com/ppn-systems/orion/internal/model"
	"github.com/ppn-systems/orion/internal/protocol"
)

// Lockout policy: after maxFailedLogins consecutive failures, further
// attempts are refused until lockoutWindow has passed since the last one.
const (
	maxFailedLogins = 5
	lockoutWindow   = 3 * time.Minute
)

// handleLogin authenticates a guest connection against the credentials
// store and elevates it to the stored role.
func handleLogin(ctx context.Context, sctx *ServerContext, c *Conn, p *protocol.Packet) Result {
	creds, ok := p.Body.(*protocol.CredentialsBody)
	if !ok {
		return Fail(protocol.ReasonUnsupportedPacket, protocol.AdviceDoNotRetry, 0)
	}
	if creds.Username == "" || creds.Password == "" {
		return Fail(protocol.ReasonMissingRequiredField, protocol.AdviceFixAndRetry, 0)
	}

	// Usernames are case-insensitive; the lowercase form is the canonical
	// identity for both the store and the hub.
	username := strings.ToLower(creds.Username)

	view, err := sctx.Accounts.GetAuthViewByUsername(ctx, username)
	if err != nil {
		if canceled(ctx, err) {
			return cancelledResult()
		}
		slog.Error("fetching auth view failed", "username", username, "error", err)
		return Fail(protocol.ReasonInternalError, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
	}

	if view == nil {
		// Unknown user: burn the same KDF cost so latency does not reveal
		// account existence.
		crypto.FakeVerify()
		return Fail(protocol.ReasonUnauthenticated, protocol.AdviceReauthenticate, protocol.DirectiveAuthRelated)
	}

	now := time.Now()
	if view.FailedLoginCount >= maxFailedLogins &&
		view.LastFailedLoginAt != nil &&
		now.Before(view.LastFailedLoginAt.Add(lockoutWindow)) {
		return Fail(protocol.ReasonAccountLocked, protocol.AdviceBackoffRetry, protocol.DirectiveAuthRelated)
	}

	password := []byte(creds.Password)
	match := crypto.VerifyPassword(password, view.Salt, view.Hash)
	crypto.Wipe(password)

	if !match {
		if err := sctx.Accounts.IncrementFailed(ctx, view.ID, now); err != nil {
			if canceled(ctx, err) {
				return cancelledResult()
			}
			slog.Error("incrementing failed logins failed", "username", username, "error", err)
		}
		return Fail(protocol.ReasonUnauthenticated, protocol.AdviceReauthenticate, protocol.DirectiveAuthRelated)
	}

	if !view.IsActive {
		return Fail(protocol.ReasonAccountSuspended, protocol.AdviceDoNotRetry, protocol.DirectiveAuthRelated)
	}

	if err := sctx.Accounts.ResetFailedAndStampLogin(ctx, view.ID, now); err != nil {
		if canceled(ctx, err) {
			return cancelledResult()
		}
		slog.Error("stamping login failed", "username", username, "error", err)
		return Fail(protocol.ReasonInternalError, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
	}

	level := view.Role
	if level < model.LevelUser {
		level = model.LevelUser
	}
	c.SetLevel(level)

	if evicted := sctx.Hub.AssociateUsername(c, username); evicted != nil {
		slog.Info("evicting previous session", "username", username, "old_conn", evicted.ID(), "new_conn", c.ID())
		evicted.SendDirective(protocol.ControlDisconnect, protocol.ReasonClientQuit, protocol.AdviceNone, 0, 0)
		evicted.FlushAndClose(sctx.Cfg.WriteTimeout)
	}

	slog.Info("login ok", "username", username, "conn", c.ID(), "level", level)
	return Ack()
}

// canceled reports whether err (or the context) is a deadline or
// cancellation outcome rather than a real repository failure.
func canceled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil
}

func cancelledResult() Result {
	return Fail(protocol.ReasonCancelled, protocol.AdviceDoNotRetry, protocol.DirectiveTransient)
}
