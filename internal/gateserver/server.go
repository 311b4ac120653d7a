package gateserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ppn-systems/orion/internal/protocol"
)

const keepAlivePeriod = 30 * time.Second

// Server accepts client sockets, wraps them in connections, registers them
// with the hub, and runs one read loop plus one dispatcher per connection.
type Server struct {
	sctx *ServerContext
	gate *semaphore.Weighted

	ipMu  sync.Mutex
	perIP map[string]int

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a gate server around an assembled context.
func NewServer(sctx *ServerContext) *Server {
	return &Server{
		sctx:  sctx,
		gate:  semaphore.NewWeighted(sctx.Cfg.MaxClients),
		perIP: make(map[string]int),
	}
}

// Addr returns the bound address, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run binds the configured endpoint and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.sctx.Cfg.BindAddress, s.sctx.Cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections from a ready listener. Used directly by tests
// with a loopback listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("gate server started", "address", ln.Addr())

	var wg sync.WaitGroup
	s.acceptLoop(ctx, &wg, ln)

	// Graceful drain: give in-flight sessions the shutdown budget, then
	// force-close whatever remains through the hub.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.sctx.Cfg.ShutdownTimeout):
		slog.Warn("shutdown deadline hit, force closing connections", "remaining", s.sctx.Hub.Count())
		for _, c := range s.sctx.Hub.Enumerate() {
			c.Disconnect()
		}
		<-done
	}

	slog.Info("gate server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("failed to accept new connection", "error", err)
				continue
			}
			wg.Go(func() {
				s.handleConnection(ctx, conn)
			})
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, raw net.Conn) {
	defer raw.Close()

	host, _, err := net.SplitHostPort(raw.RemoteAddr().String())
	if err != nil {
		slog.Error("failed to split host port", "connection", raw.RemoteAddr(), "error", err)
		return
	}

	if !s.gate.TryAcquire(1) {
		slog.Warn("max clients reached, rejecting connection", "remote", host)
		return
	}
	defer s.gate.Release(1)

	if !s.admitIP(host) {
		slog.Warn("per-ip connection cap reached, rejecting connection", "remote", host)
		return
	}
	defer s.releaseIP(host)

	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(keepAlivePeriod)
	}

	cfg := s.sctx.Cfg
	c, err := NewConn(s.sctx.Hub.NextID(), raw, s.sctx.SendBufs, cfg.SendQueueSize, cfg.WriteTimeout, cfg.CompressThreshold)
	if err != nil {
		slog.Error("failed to create connection", "remote", host, "error", err)
		return
	}

	s.sctx.Hub.Register(c)
	s.sctx.Metrics.ConnOpened()
	slog.Info("new connection", "remote", host, "conn", c.ID())

	defer func() {
		c.Disconnect()
		s.sctx.Hub.Unregister(c)
		s.sctx.Metrics.ConnClosed()
		slog.Info("connection closed", "remote", host, "conn", c.ID())
	}()

	c.Start()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.Closed():
			cancel()
		case <-connCtx.Done():
		}
	}()

	queue := newDispatchQueue(cfg.DispatchQueueSize)
	d := newDispatcher(s.sctx, c, queue)

	var dwg sync.WaitGroup
	dwg.Go(func() {
		d.run(connCtx)
	})

	s.readLoop(connCtx, c, queue)
	cancel()
	dwg.Wait()
}

// readLoop reads bytes into the framing buffer and feeds complete frames to
// the dispatch queue. Exits on peer close, idle timeout, or any codec error
// beyond ErrIncomplete (fatal session, no directive).
func (s *Server) readLoop(ctx context.Context, c *Conn, queue *dispatchQueue) {
	buf := s.sctx.ReadBufs.Get(4096)
	defer s.sctx.ReadBufs.Put(buf)
	var frame []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(s.sctx.Cfg.ReadTimeout)); err != nil {
			return
		}
		n, err := c.conn.Read(buf[:cap(buf)])
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				slog.Debug("read ended", "client", c.RemoteEndpoint(), "error", err)
			}
			return
		}
		frame = append(frame, buf[:n]...)

		for {
			h, payload, consumed, err := protocol.DecodeFrame(frame)
			if errors.Is(err, protocol.ErrIncomplete) {
				break
			}
			if err != nil {
				slog.Warn("corrupt frame, dropping connection", "client", c.RemoteEndpoint(), "error", err)
				return
			}

			p := s.sctx.Packets.Get()
			p.Header = h
			p.SetPayload(payload)
			frame = frame[:copy(frame, frame[consumed:])]

			s.sctx.Metrics.PacketIn(h.Opcode.String())
			s.deliver(c, queue, p)
		}
	}
}

// deliver enqueues a decoded packet, applying the backpressure policy on
// overflow: drop-oldest non-critical with a transient directive to the
// client.
func (s *Server) deliver(c *Conn, queue *dispatchQueue, p *protocol.Packet) {
	if !c.Accepting() {
		s.sctx.Packets.Put(p)
		return
	}
	dropped, ok := queue.push(p)
	if dropped != nil {
		s.sctx.Metrics.QueueDrop()
		c.SendDirective(protocol.ControlError, protocol.ReasonBackpressure, protocol.AdviceBackoffRetry, protocol.DirectiveTransient, dropped.Header.Sequence)
		s.sctx.Packets.Put(dropped)
	}
	if !ok {
		s.sctx.Metrics.QueueDrop()
		c.SendDirective(protocol.ControlError, protocol.ReasonBackpressure, protocol.AdviceBackoffRetry, protocol.DirectiveTransient, p.Header.Sequence)
		s.sctx.Packets.Put(p)
	}
}

func (s *Server) admitIP(host string) bool {
	limit := s.sctx.Cfg.MaxConnectionPerIP
	if limit <= 0 {
		return true
	}
	s.ipMu.Lock()
	defer s.ipMu.Unlock()
	if s.perIP[host] >= limit {
		return false
	}
	s.perIP[host]++
	return true
}

func (s *Server) releaseIP(host string) {
	if s.sctx.Cfg.MaxConnectionPerIP <= 0 {
		return
	}
	s.ipMu.Lock()
	if s.perIP[host] <= 1 {
		delete(s.perIP, host)
	} else {
		s.perIP[host]--
	}
	s.ipMu.Unlock()
}
