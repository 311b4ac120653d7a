package gateserver

import (
	"context"
	"log/slog"

	"github.com/ppn-systems/orion/internal/crypto"
	"github.com/ppn-systems/orion/internal/model"
	"github.com/ppn-systems/orion/internal/protocol"
)

// handleHandshake performs the ephemeral X25519 key agreement: derive the
// session key from the client's public key, install it on the connection,
// lift the level to GUEST, and reply with the server public key.
func handleHandshake(ctx context.Context, sctx *ServerContext, c *Conn, p *protocol.Packet) Result {
	hs, ok := p.Body.(*protocol.HandshakeBody)
	if !ok {
		return Fail(protocol.ReasonUnsupportedPacket, protocol.AdviceDoNotRetry, 0)
	}
	if len(hs.Key) == 0 {
		return Fail(protocol.ReasonMissingRequiredField, protocol.AdviceFixAndRetry, 0)
	}
	if len(hs.Key) != crypto.KeySize {
		return Fail(protocol.ReasonValidationFailed, protocol.AdviceFixAndRetry, 0)
	}

	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		slog.Error("handshake keypair generation failed", "client", c.RemoteEndpoint(), "error", err)
		return handshakeCryptoFail(c)
	}
	defer crypto.Wipe(priv[:])

	shared, err := crypto.Agree(priv, hs.Key)
	if err != nil {
		slog.Warn("handshake agreement failed", "client", c.RemoteEndpoint(), "error", err)
		return handshakeCryptoFail(c)
	}
	key := crypto.SessionKey(shared)
	crypto.Wipe(shared[:])

	if err := c.InstallSecret(key[:]); err != nil {
		crypto.Wipe(key[:])
		slog.Error("installing session key failed", "client", c.RemoteEndpoint(), "error", err)
		return handshakeCryptoFail(c)
	}
	crypto.Wipe(key[:])
	c.SetLevel(model.LevelGuest)

	reply := sctx.Packets.Get()
	reply.Header = protocol.Header{
		Magic:    protocol.MagicHandshake,
		Opcode:   protocol.OpcodeHandshake,
		Sequence: p.Header.Sequence,
	}
	reply.Body = &protocol.HandshakeBody{Key: pub[:]}

	if !c.Send(reply) {
		// Send failure rolls back the secret but leaves the level at GUEST.
		// A GUEST without a key is rejected by the unwrap stage on every
		// encrypted operation; suspected bug inherited from the reference
		// behavior, kept until confirmed with stakeholders.
		c.ClearSecret()
		sctx.Packets.Put(reply)
		c.Disconnect()
		return None()
	}
	sctx.Packets.Put(reply)

	slog.Debug("handshake complete", "client", c.RemoteEndpoint(), "conn", c.ID())
	return None()
}

// handshakeCryptoFail resets the session state touched by a failed
// handshake and reports a transient internal error.
func handshakeCryptoFail(c *Conn) Result {
	c.ClearSecret()
	c.SetLevel(model.LevelNone)
	return Fail(protocol.ReasonInternalError, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
}
