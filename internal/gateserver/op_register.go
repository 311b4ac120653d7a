package gateserver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ppn-systems/orion/internal/crypto"
	"github.com/ppn-systems/orion/internal/model"
	"github.com/ppn-systems/orion/internal/protocol"
)

// handleRegister creates a credentials record. Insert is
// insert-or-ignore-on-username, so concurrent registrations of the same
// name produce exactly one ACK and one ALREADY_EXISTS.
func handleRegister(ctx context.Context, sctx *ServerContext, c *Conn, p *protocol.Packet) Result {
	creds, ok := p.Body.(*protocol.CredentialsBody)
	if !ok {
		return Fail(protocol.ReasonUnsupportedPacket, protocol.AdviceDoNotRetry, 0)
	}

	if !validUsername(creds.Username) {
		return Fail(protocol.ReasonInvalidUsername, protocol.AdviceFixAndRetry, 0)
	}
	if !strongPassword(creds.Password) {
		return Fail(protocol.ReasonWeakPassword, protocol.AdviceFixAndRetry, 0)
	}

	// Stored identity is the lowercase form, matching the login path.
	username := strings.ToLower(creds.Username)

	password := []byte(creds.Password)
	salt, hash, err := crypto.HashPassword(password)
	crypto.Wipe(password)
	if err != nil {
		slog.Error("hashing password failed", "client", c.RemoteEndpoint(), "error", err)
		return Fail(protocol.ReasonInternalError, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
	}
	defer crypto.Wipe(salt)
	defer crypto.Wipe(hash)

	id, err := sctx.Accounts.InsertOrIgnore(ctx, username, salt, hash, model.LevelUser)
	if err != nil {
		slog.Error("inserting account failed", "username", username, "client", c.RemoteEndpoint(), "error", err)
		return Fail(protocol.ReasonInternalError, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
	}
	if id <= 0 {
		return Fail(protocol.ReasonAlreadyExists, protocol.AdviceFixAndRetry, 0)
	}

	slog.Info("account registered", "username", username, "id", id, "client", c.RemoteEndpoint())
	return Ack()
}
