package gateserver

import (
	"time"

	"github.com/golang/snappy"

	"github.com/ppn-systems/orion/internal/limiter"
	"github.com/ppn-systems/orion/internal/protocol"
)

// Middleware stage outcome. The first non-Continue result short-circuits
// the inbound chain.
type decision uint8

const (
	decContinue decision = iota
	decReplyAndStop
	decDropSilently
)

type stageResult struct {
	decision  decision
	directive protocol.DirectiveBody
}

func stageContinue() stageResult {
	return stageResult{decision: decContinue}
}

func replyAndStop(reason protocol.Reason, advice protocol.Advice, flags protocol.DirectiveFlags) stageResult {
	return stageResult{
		decision: decReplyAndStop,
		directive: protocol.DirectiveBody{
			Control: protocol.ControlError,
			Reason:  reason,
			Advice:  advice,
			Flags:   flags,
		},
	}
}

func dropSilently() stageResult {
	return stageResult{decision: decDropSilently}
}

// stagePermission gates the handler behind the connection's level.
func (d *dispatcher) stagePermission(desc *HandlerDesc, p *protocol.Packet) stageResult {
	if d.conn.Level() < desc.RequiredLevel {
		return replyAndStop(protocol.ReasonUnauthorized, protocol.AdviceDoNotRetry, 0)
	}
	return stageContinue()
}

// stageBucket consumes one global per-connection token.
func (d *dispatcher) stageBucket(desc *HandlerDesc, p *protocol.Packet) stageResult {
	if !d.bucket.Allow() {
		return replyAndStop(protocol.ReasonRateLimited, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
	}
	return stageContinue()
}

// stageInflight takes a global concurrency slot; the dispatcher releases it
// after the handler finishes.
func (d *dispatcher) stageInflight(desc *HandlerDesc, p *protocol.Packet) stageResult {
	if !d.sctx.Inflight.TryAcquire() {
		return replyAndStop(protocol.ReasonConcurrencyExceeded, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
	}
	d.inflightHeld = true
	return stageContinue()
}

// stageWindow enforces the handler's declared per-connection call budget.
func (d *dispatcher) stageWindow(desc *HandlerDesc, p *protocol.Packet) stageResult {
	if desc.RateLimit == nil {
		return stageContinue()
	}
	w, ok := d.windows[desc.Opcode]
	if !ok {
		w = &limiter.CallWindow{Max: desc.RateLimit.MaxCalls, Window: desc.RateLimit.Window}
		d.windows[desc.Opcode] = w
	}
	if !w.Allow(time.Now()) {
		return replyAndStop(protocol.ReasonRateLimited, protocol.AdviceBackoffRetry, protocol.DirectiveTransient)
	}
	return stageContinue()
}

// stageUnwrap undoes the wire transforms: snappy decompression, body
// decode, and decryption of string fields with the session key. Flags are
// cleared as each transform is undone, so handlers always see plaintext.
func (d *dispatcher) stageUnwrap(desc *HandlerDesc, p *protocol.Packet) stageResult {
	if p.Header.Flags&protocol.FlagCompressed != 0 {
		decoded, err := snappy.Decode(nil, p.Payload)
		if err != nil {
			return replyAndStop(protocol.ReasonValidationFailed, protocol.AdviceFixAndRetry, 0)
		}
		p.SetPayload(decoded)
		p.Header.Flags &^= protocol.FlagCompressed
	}

	if err := p.DecodeBody(); err != nil {
		return replyAndStop(protocol.ReasonValidationFailed, protocol.AdviceFixAndRetry, 0)
	}

	encrypted := p.Header.Flags&protocol.FlagEncrypted != 0
	if desc.RequiresEncryption && !encrypted {
		return replyAndStop(protocol.ReasonNotEncrypted, protocol.AdviceDoNotRetry, 0)
	}
	if encrypted {
		suite := d.conn.Suite()
		if suite == nil {
			return replyAndStop(protocol.ReasonNotEncrypted, protocol.AdviceDoNotRetry, 0)
		}
		for _, f := range p.Body.StringFields() {
			opened, err := suite.OpenString(*f)
			if err != nil {
				return replyAndStop(protocol.ReasonValidationFailed, protocol.AdviceFixAndRetry, 0)
			}
			*f = opened
		}
		p.Header.Flags &^= protocol.FlagEncrypted
	}

	return stageContinue()
}
