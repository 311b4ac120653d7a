package gateserver

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppn-systems/orion/internal/crypto"
	"github.com/ppn-systems/orion/internal/model"
	"github.com/ppn-systems/orion/internal/protocol"
)

// startServer serves on a loopback listener and tears everything down with
// the test.
func startServer(t *testing.T, sctx *ServerContext) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(sctx)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr()
}

// wireClient speaks the real framed protocol against a served endpoint.
type wireClient struct {
	t     *testing.T
	conn  net.Conn
	suite *crypto.Suite
	seq   uint32
	buf   []byte
}

func dialWire(t *testing.T, addr net.Addr) *wireClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wireClient{t: t, conn: conn}
}

func (w *wireClient) send(magic protocol.Magic, opcode protocol.Opcode, flags protocol.Flags, body protocol.Body) uint32 {
	w.t.Helper()
	w.seq++

	payload := make([]byte, 1024)
	n, err := body.EncodePayload(payload)
	require.NoError(w.t, err)

	frame := make([]byte, protocol.HeaderSize+n)
	total, err := protocol.EncodeFrame(frame, protocol.Header{
		Magic:    magic,
		Opcode:   opcode,
		Flags:    flags,
		Sequence: w.seq,
	}, payload[:n])
	require.NoError(w.t, err)

	_, err = w.conn.Write(frame[:total])
	require.NoError(w.t, err)
	return w.seq
}

// recv reads the next frame, keeping any coalesced remainder buffered.
func (w *wireClient) recv() (protocol.Header, protocol.Body) {
	w.t.Helper()
	require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	chunk := make([]byte, 4096)
	for {
		h, payload, consumed, err := protocol.DecodeFrame(w.buf)
		if err == nil {
			body, berr := protocol.NewBody(h.Magic)
			require.NoError(w.t, berr)
			require.NoError(w.t, body.DecodePayload(payload))
			w.buf = w.buf[:copy(w.buf, w.buf[consumed:])]
			return h, body
		}
		require.ErrorIs(w.t, err, protocol.ErrIncomplete)

		n, err := w.conn.Read(chunk)
		require.NoError(w.t, err, "reading from server")
		w.buf = append(w.buf, chunk[:n]...)
	}
}

func (w *wireClient) recvDirective() (protocol.Header, *protocol.DirectiveBody) {
	w.t.Helper()
	h, body := w.recv()
	dir, ok := body.(*protocol.DirectiveBody)
	require.True(w.t, ok, "expected directive, got %v", h.Magic)
	return h, dir
}

// handshake runs the key agreement and arms the client's cipher suite.
func (w *wireClient) handshake() {
	w.t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(w.t, err)

	seq := w.send(protocol.MagicHandshake, protocol.OpcodeHandshake, 0, &protocol.HandshakeBody{Key: pub[:]})

	h, body := w.recv()
	assert.Equal(w.t, seq, h.Sequence)
	hs, ok := body.(*protocol.HandshakeBody)
	require.True(w.t, ok, "expected handshake reply, got %v", h.Magic)
	require.Len(w.t, hs.Key, crypto.KeySize)

	shared, err := crypto.Agree(priv, hs.Key)
	require.NoError(w.t, err)
	key := crypto.SessionKey(shared)

	w.suite, err = crypto.NewSuite(key[:])
	require.NoError(w.t, err)
}

// sendCreds seals the credentials with the session key and sends them.
func (w *wireClient) sendCreds(opcode protocol.Opcode, username, password string) uint32 {
	w.t.Helper()
	require.NotNil(w.t, w.suite, "handshake first")
	su, err := w.suite.SealString(username)
	require.NoError(w.t, err)
	sp, err := w.suite.SealString(password)
	require.NoError(w.t, err)
	return w.send(protocol.MagicCredentials, opcode, protocol.FlagEncrypted, &protocol.CredentialsBody{Username: su, Password: sp})
}

func TestServerHandshakeEstablishesSharedKey(t *testing.T) {
	sctx := newTestContext(newMockRepo())
	addr := startServer(t, sctx)

	w := dialWire(t, addr)
	w.handshake()

	// Both ends hold the same key iff the server can open what we seal:
	// register round-trips an encrypted payload.
	seq := w.sendCreds(protocol.OpcodeRegister, "alice", "Str0ng!Pass")
	h, dir := w.recvDirective()
	assert.Equal(t, seq, h.Sequence)
	assert.Equal(t, protocol.ControlAck, dir.Control)
}

func TestServerRegisterThenLogin(t *testing.T) {
	sctx := newTestContext(newMockRepo())
	addr := startServer(t, sctx)

	w := dialWire(t, addr)
	w.handshake()

	w.sendCreds(protocol.OpcodeRegister, "alice", "Str0ng!Pass")
	_, dir := w.recvDirective()
	require.Equal(t, protocol.ControlAck, dir.Control)

	w.sendCreds(protocol.OpcodeLogin, "alice", "Str0ng!Pass")
	_, dir = w.recvDirective()
	assert.Equal(t, protocol.ControlAck, dir.Control)

	c, ok := sctx.Hub.ConnByUsername("alice")
	require.True(t, ok, "hub must resolve the logged-in session")
	assert.Equal(t, model.LevelUser, c.Level())
}

func TestServerRejectsOperationsBeforeHandshake(t *testing.T) {
	sctx := newTestContext(newMockRepo())
	addr := startServer(t, sctx)

	w := dialWire(t, addr)
	w.send(protocol.MagicCredentials, protocol.OpcodeRegister, 0, &protocol.CredentialsBody{Username: "alice", Password: "Str0ng!Pass"})

	_, dir := w.recvDirective()
	assert.Equal(t, protocol.ReasonUnauthorized, dir.Reason)
}

func TestServerRejectsPlaintextCredentials(t *testing.T) {
	sctx := newTestContext(newMockRepo())
	addr := startServer(t, sctx)

	w := dialWire(t, addr)
	w.handshake()

	// Handshake done but the frame is not marked ENCRYPTED.
	w.send(protocol.MagicCredentials, protocol.OpcodeRegister, 0, &protocol.CredentialsBody{Username: "alice", Password: "Str0ng!Pass"})

	_, dir := w.recvDirective()
	assert.Equal(t, protocol.ReasonNotEncrypted, dir.Reason)
}

func TestServerUnknownOpcode(t *testing.T) {
	sctx := newTestContext(newMockRepo())
	addr := startServer(t, sctx)

	w := dialWire(t, addr)
	w.send(protocol.MagicResponse, protocol.Opcode(0x4242), 0, &protocol.ResponseBody{})

	_, dir := w.recvDirective()
	assert.Equal(t, protocol.ReasonUnsupportedPacket, dir.Reason)
}

func TestServerLogoutDisconnects(t *testing.T) {
	repo := newMockRepo()
	repo.addAccount(t, "alice", "Str0ng!Pass", model.LevelUser)
	sctx := newTestContext(repo)
	addr := startServer(t, sctx)

	w := dialWire(t, addr)
	w.handshake()

	w.sendCreds(protocol.OpcodeLogin, "alice", "Str0ng!Pass")
	_, dir := w.recvDirective()
	require.Equal(t, protocol.ControlAck, dir.Control)

	seq := w.send(protocol.MagicResponse, protocol.OpcodeLogout, 0, &protocol.ResponseBody{})
	h, dir := w.recvDirective()
	assert.Equal(t, seq, h.Sequence)
	assert.Equal(t, protocol.ControlDisconnect, dir.Control)

	// The server closes the session after flushing the directive.
	require.NoError(t, w.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 64)
	_, err := w.conn.Read(buf)
	assert.ErrorIs(t, err, io.EOF, "connection must be closed")
	assert.NotNil(t, repo.accounts["alice"].LastLogoutAt)
}

func TestServerCorruptFrameDropsConnection(t *testing.T) {
	sctx := newTestContext(newMockRepo())
	addr := startServer(t, sctx)

	w := dialWire(t, addr)
	_, err := w.conn.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0xFF, 0xFF, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, w.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 64)
	_, err = w.conn.Read(buf)
	assert.Error(t, err, "server must drop the connection, not answer")
}

func TestServerPipelinedRequests(t *testing.T) {
	sctx := newTestContext(newMockRepo())
	addr := startServer(t, sctx)

	w := dialWire(t, addr)
	w.handshake()

	// Two registers written back to back; replies arrive in request order.
	s1 := w.sendCreds(protocol.OpcodeRegister, "alice", "Str0ng!Pass")
	s2 := w.sendCreds(protocol.OpcodeRegister, "bravo", "Str0ng!Pass")

	h, dir := w.recvDirective()
	assert.Equal(t, s1, h.Sequence)
	assert.Equal(t, protocol.ControlAck, dir.Control)

	h, dir = w.recvDirective()
	assert.Equal(t, s2, h.Sequence)
	assert.Equal(t, protocol.ControlAck, dir.Control)
}

func TestServerPerIPCap(t *testing.T) {
	sctx := newTestContext(newMockRepo())
	sctx.Cfg.MaxConnectionPerIP = 1
	addr := startServer(t, sctx)

	w1 := dialWire(t, addr)
	w1.handshake()

	// Second connection from the same address is refused outright.
	w2 := dialWire(t, addr)
	require.NoError(t, w2.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 64)
	_, err := w2.conn.Read(buf)
	assert.Error(t, err, "second connection from the same IP must be closed")
}

func TestServerGracefulShutdown(t *testing.T) {
	sctx := newTestContext(newMockRepo())
	sctx.Cfg.ShutdownTimeout = 200 * time.Millisecond
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(sctx)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	w := dialWire(t, ln.Addr())
	w.handshake()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.Equal(t, 0, sctx.Hub.Count(), "all sessions unregistered on shutdown")
}
