package gateserver

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"

	"github.com/ppn-systems/orion/internal/crypto"
	"github.com/ppn-systems/orion/internal/model"
	"github.com/ppn-systems/orion/internal/pool"
	"github.com/ppn-systems/orion/internal/protocol"
)

// Default write queue / timeout constants. Overridden by config values.
const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
)

const maxPayloadSize = protocol.MaxFrameSize - protocol.HeaderSize

// Conn owns one TCP socket: the session key slot, the permission level,
// the send queue with its writer goroutine, and the most recent decoded
// frame. All cross-goroutine access to session state goes through its
// methods.
type Conn struct {
	id     uint64
	conn   net.Conn
	remote string

	// level uses atomic.Int32 for lock-free reads in the middleware hot path
	level atomic.Int32

	accepting atomic.Bool
	closing   atomic.Bool

	// mu guards secret, suite, and the incoming packet slot (rare writes)
	mu       sync.Mutex
	secret   []byte
	suite    *crypto.Suite
	incoming *protocol.Packet

	// Per-connection write queue. sendCh carries encoded frames backed by
	// writePool buffers; writePump owns them from enqueue to Put.
	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	writePool         *pool.BytePool
	writeTimeout      time.Duration
	compressThreshold int
}

// NewConn wraps an accepted socket. The caller starts the write pump via
// Start once the connection is registered.
func NewConn(id uint64, conn net.Conn, writePool *pool.BytePool, sendQueueSize int, writeTimeout time.Duration, compressThreshold int) (*Conn, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("splitting host port: %w", err)
	}

	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	c := &Conn{
		id:                id,
		conn:              conn,
		remote:            host,
		sendCh:            make(chan []byte, sendQueueSize),
		closeCh:           make(chan struct{}),
		writePool:         writePool,
		writeTimeout:      writeTimeout,
		compressThreshold: compressThreshold,
	}
	c.accepting.Store(true)
	c.level.Store(int32(model.LevelNone))
	return c, nil
}

// Start launches the write pump.
func (c *Conn) Start() {
	go c.writePump()
}

// ID returns the stable connection identifier.
func (c *Conn) ID() uint64 { return c.id }

// RemoteEndpoint returns the peer host.
func (c *Conn) RemoteEndpoint() string { return c.remote }

// Level returns the current permission level.
func (c *Conn) Level() model.Level {
	return model.Level(c.level.Load())
}

// SetLevel sets the permission level.
func (c *Conn) SetLevel(l model.Level) {
	c.level.Store(int32(l))
}

// InstallSecret stores the 32-byte session key and builds the cipher suite
// bound to it.
func (c *Conn) InstallSecret(key []byte) error {
	suite, err := crypto.NewSuite(key)
	if err != nil {
		return fmt.Errorf("building cipher suite: %w", err)
	}
	c.mu.Lock()
	crypto.Wipe(c.secret)
	c.secret = append(c.secret[:0], key...)
	c.suite = suite
	c.mu.Unlock()
	return nil
}

// ClearSecret wipes and removes the session key.
func (c *Conn) ClearSecret() {
	c.mu.Lock()
	crypto.Wipe(c.secret)
	c.secret = nil
	c.suite = nil
	c.mu.Unlock()
}

// Suite returns the cipher suite, or nil before a handshake.
func (c *Conn) Suite() *crypto.Suite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suite
}

// HasSecret reports whether a session key is installed.
func (c *Conn) HasSecret() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secret != nil
}

// SecretSnapshot returns a copy of the session key, or nil. Used by the
// handshake verification tests; production code goes through Suite.
func (c *Conn) SecretSnapshot() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.secret == nil {
		return nil
	}
	out := make([]byte, len(c.secret))
	copy(out, c.secret)
	return out
}

// SetIncoming stores the most recent decoded frame.
func (c *Conn) SetIncoming(p *protocol.Packet) {
	c.mu.Lock()
	c.incoming = p
	c.mu.Unlock()
}

// Incoming returns the most recent decoded frame.
func (c *Conn) Incoming() *protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incoming
}

// Accepting reports whether the connection still takes inbound work.
// False once a drain or disconnect has started.
func (c *Conn) Accepting() bool {
	return c.accepting.Load()
}

// Closing reports whether the connection is shutting down.
func (c *Conn) Closing() bool {
	return c.closing.Load()
}

// Closed returns a channel closed when the connection shuts down.
func (c *Conn) Closed() <-chan struct{} {
	return c.closeCh
}

// Send serializes p, applies the outbound wrap transform, and enqueues the
// frame. The ENCRYPTED header flag requests sealing of the body's string
// fields with the session key; compression is decided here from the encoded
// payload size. Returns false if the peer is gone or the queue is full.
func (c *Conn) Send(p *protocol.Packet) bool {
	if c.closing.Load() {
		return false
	}

	if p.Header.Flags&protocol.FlagEncrypted != 0 {
		suite := c.Suite()
		if suite == nil {
			slog.Error("send with ENCRYPTED flag but no session key", "client", c.remote, "opcode", p.Header.Opcode)
			return false
		}
		for _, f := range p.Body.StringFields() {
			sealed, err := suite.SealString(*f)
			if err != nil {
				slog.Error("sealing string field", "client", c.remote, "error", err)
				return false
			}
			*f = sealed
		}
	}

	scratch := c.writePool.Get(maxPayloadSize)
	n, err := p.Body.EncodePayload(scratch)
	if err != nil {
		c.writePool.Put(scratch)
		slog.Error("encoding payload", "client", c.remote, "opcode", p.Header.Opcode, "error", err)
		return false
	}
	payload := scratch[:n]

	flags := p.Header.Flags &^ protocol.FlagCompressed
	if c.compressThreshold > 0 && n >= c.compressThreshold {
		compressed := snappy.Encode(c.writePool.Get(snappy.MaxEncodedLen(n)), payload)
		c.writePool.Put(scratch)
		scratch = compressed
		payload = compressed
		flags |= protocol.FlagCompressed
	}

	frame := c.writePool.Get(protocol.HeaderSize + len(payload))
	total, err := protocol.EncodeFrame(frame, protocol.Header{
		Magic:    p.Body.Magic(),
		Opcode:   p.Header.Opcode,
		Flags:    flags,
		Sequence: p.Header.Sequence,
	}, payload)
	c.writePool.Put(scratch)
	if err != nil {
		c.writePool.Put(frame)
		slog.Error("encoding frame", "client", c.remote, "opcode", p.Header.Opcode, "error", err)
		return false
	}

	return c.enqueue(frame[:total])
}

// SendDirective builds and enqueues a Directive frame correlated to seq.
func (c *Conn) SendDirective(ctrl protocol.Control, reason protocol.Reason, advice protocol.Advice, dflags protocol.DirectiveFlags, seq uint32) bool {
	p := protocol.Packet{
		Header: protocol.Header{
			Magic:    protocol.MagicDirective,
			Opcode:   protocol.OpcodeNone,
			Sequence: seq,
		},
		Body: &protocol.DirectiveBody{
			Control: ctrl,
			Reason:  reason,
			Advice:  advice,
			Flags:   dflags,
		},
	}
	return c.Send(&p)
}

// enqueue hands an encoded frame to the write pump. Non-blocking: a full
// queue means a slow client, which gets disconnected.
// OWNERSHIP: takes ownership of frame (pool buffer); writePump returns it.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.closeCh:
		c.writePool.Put(frame)
		return false
	case c.sendCh <- frame:
		return true
	default:
		c.writePool.Put(frame)
		slog.Warn("send queue full, disconnecting slow client", "client", c.remote)
		c.Disconnect()
		return false
	}
}

// writePump is the dedicated writer goroutine: drains sendCh, batches
// queued frames through net.Buffers (writev), and returns buffers to the
// pool.
func (c *Conn) writePump() {
	bufs := make(net.Buffers, 0, 64)
	poolBufs := make([][]byte, 0, 64)

	defer func() {
		for {
			select {
			case frame := <-c.sendCh:
				c.writePool.Put(frame)
			default:
				return
			}
		}
	}()

	for {
		select {
		case frame := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.writePool.Put(frame)
				return
			}

			queued := len(c.sendCh)
			if queued == 0 {
				_, err := c.conn.Write(frame)
				c.writePool.Put(frame)
				if err != nil {
					slog.Warn("write failed", "client", c.remote, "error", err)
					c.Disconnect()
					return
				}
				continue
			}

			bufs = bufs[:0]
			poolBufs = poolBufs[:0]
			bufs = append(bufs, frame)
			poolBufs = append(poolBufs, frame)
			for range queued {
				f := <-c.sendCh
				bufs = append(bufs, f)
				poolBufs = append(poolBufs, f)
			}

			_, err := bufs.WriteTo(c.conn)
			for _, b := range poolBufs {
				c.writePool.Put(b)
			}
			if err != nil {
				slog.Warn("batch write failed", "client", c.remote, "error", err)
				c.Disconnect()
				return
			}

		case <-c.closeCh:
			return
		}
	}
}

// FlushAndClose waits for the send queue to drain (bounded by timeout)
// before closing, so a final directive reaches the peer.
func (c *Conn) FlushAndClose(timeout time.Duration) {
	c.accepting.Store(false)
	deadline := time.Now().Add(timeout)
	for len(c.sendCh) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// An empty queue only means the pump dequeued the last frame; one more
	// tick lets the in-flight write reach the socket.
	time.Sleep(5 * time.Millisecond)
	c.Disconnect()
}

// Disconnect closes the socket and stops the write pump. Safe to call
// multiple times. The session key is wiped.
func (c *Conn) Disconnect() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.accepting.Store(false)
		close(c.closeCh)
		if err := c.conn.Close(); err != nil {
			slog.Debug("closing connection", "client", c.remote, "error", err)
		}
		c.ClearSecret()
	})
}
