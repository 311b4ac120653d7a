package gateserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ppn-systems/orion/internal/limiter"
	"github.com/ppn-systems/orion/internal/protocol"
)

// Middleware stage names for the reject counter.
const (
	stageNamePermission = "permission"
	stageNameBucket     = "token_bucket"
	stageNameInflight   = "concurrency"
	stageNameWindow     = "rate_limit"
	stageNameUnwrap     = "unwrap"
	stageNameTimeout    = "timeout"
	stageNameLookup     = "lookup"
)

type inboundStage struct {
	name string
	fn   func(*HandlerDesc, *protocol.Packet) stageResult
}

// dispatcher serializes handler execution for one connection: it pops the
// connection's queue, runs the inbound stages in order, invokes the handler
// under its deadline, and writes the result through the outbound path.
// Dispatchers of different connections run in parallel.
type dispatcher struct {
	sctx   *ServerContext
	conn   *Conn
	queue  *dispatchQueue
	bucket *limiter.TokenBucket

	// windows is touched only by this goroutine
	windows map[protocol.Opcode]*limiter.CallWindow

	inflightHeld bool
	stages       []inboundStage
}

func newDispatcher(sctx *ServerContext, conn *Conn, queue *dispatchQueue) *dispatcher {
	d := &dispatcher{
		sctx:    sctx,
		conn:    conn,
		queue:   queue,
		bucket:  limiter.NewTokenBucket(sctx.Cfg.TokenBucketCapacity, sctx.Cfg.TokenBucketRefill),
		windows: make(map[protocol.Opcode]*limiter.CallWindow),
	}
	d.stages = []inboundStage{
		{stageNamePermission, d.stagePermission},
		{stageNameBucket, d.stageBucket},
		{stageNameInflight, d.stageInflight},
		{stageNameWindow, d.stageWindow},
		{stageNameUnwrap, d.stageUnwrap},
	}
	return d
}

// run is the dispatcher loop. Exits when ctx is cancelled or the
// connection closes; leftover queued packets go back to the pool.
func (d *dispatcher) run(ctx context.Context) {
	defer func() {
		for _, p := range d.queue.drain() {
			d.sctx.Packets.Put(p)
		}
	}()

	for {
		p, err := d.queue.pop(ctx)
		if err != nil {
			return
		}
		d.process(ctx, p)
		if d.conn.Closing() {
			return
		}
	}
}

// process handles exactly one inbound packet.
func (d *dispatcher) process(ctx context.Context, p *protocol.Packet) {
	defer d.sctx.Packets.Put(p)

	seq := p.Header.Sequence
	d.conn.SetIncoming(p)
	defer d.conn.SetIncoming(nil)

	desc, ok := d.sctx.Registry.Lookup(p.Header.Opcode)
	if !ok {
		d.sctx.Metrics.Reject(stageNameLookup)
		d.conn.SendDirective(protocol.ControlError, protocol.ReasonUnsupportedPacket, protocol.AdviceDoNotRetry, 0, seq)
		return
	}

	d.inflightHeld = false
	defer func() {
		if d.inflightHeld {
			d.sctx.Inflight.Release()
			d.inflightHeld = false
		}
	}()

	for _, st := range d.stages {
		res := st.fn(desc, p)
		switch res.decision {
		case decContinue:
			continue
		case decReplyAndStop:
			d.sctx.Metrics.Reject(st.name)
			dir := res.directive
			d.conn.SendDirective(dir.Control, dir.Reason, dir.Advice, dir.Flags, seq)
			return
		case decDropSilently:
			d.sctx.Metrics.Reject(st.name)
			return
		}
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = d.sctx.Cfg.HandlerTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	res := d.invoke(hctx, desc, p)
	elapsed := time.Since(start)
	deadlineHit := errors.Is(hctx.Err(), context.DeadlineExceeded)
	cancel()

	d.sctx.Metrics.ObserveHandler(desc.Name, elapsed)

	if deadlineHit && res.Reply == nil && res.Directive == nil {
		d.sctx.Metrics.Reject(stageNameTimeout)
		d.conn.SendDirective(protocol.ControlError, protocol.ReasonTimeout, protocol.AdviceBackoffRetry, protocol.DirectiveTransient, seq)
		return
	}

	d.writeResult(desc, res, seq)
}

// invoke runs the handler, converting panics into an INTERNAL_ERROR result
// so a faulty handler cannot take the connection down.
func (d *dispatcher) invoke(ctx context.Context, desc *HandlerDesc, p *protocol.Packet) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic", "opcode", desc.Name, "client", d.conn.RemoteEndpoint(), "panic", r)
			res = Fail(protocol.ReasonInternalError, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
		}
	}()
	return desc.Handler(ctx, d.sctx, d.conn, p)
}

// writeResult emits the handler outcome through the outbound path, echoing
// the request's sequence id.
func (d *dispatcher) writeResult(desc *HandlerDesc, res Result, seq uint32) {
	switch {
	case res.Directive != nil:
		d.conn.SendDirective(res.Directive.Control, res.Directive.Reason, res.Directive.Advice, res.Directive.Flags, seq)
		d.sctx.Metrics.PacketOut(protocol.MagicDirective.String())
	case res.Reply != nil:
		res.Reply.Header.Sequence = seq
		if desc.RequiresEncryption {
			res.Reply.Header.Flags |= protocol.FlagEncrypted
		}
		if !d.conn.Send(res.Reply) {
			slog.Warn("reply send failed", "opcode", desc.Name, "client", d.conn.RemoteEndpoint())
		} else {
			d.sctx.Metrics.PacketOut(res.Reply.Body.Magic().String())
		}
	}

	if res.Disconnect {
		d.conn.FlushAndClose(d.sctx.Cfg.WriteTimeout)
	}
}
