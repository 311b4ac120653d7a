package gateserver

import (
	"context"
	"fmt"
	"time"

	"github.com/ppn-systems/orion/internal/model"
	"github.com/ppn-systems/orion/internal/protocol"
)

// HandlerFunc is one registered operation. Handlers never leak errors to
// the peer: every outcome is expressed in the returned Result.
type HandlerFunc func(ctx context.Context, sctx *ServerContext, c *Conn, p *protocol.Packet) Result

// RateLimit is a per-connection-per-opcode call budget.
type RateLimit struct {
	MaxCalls int
	Window   time.Duration
}

// HandlerDesc is the metadata a handler registers at startup.
type HandlerDesc struct {
	Opcode             protocol.Opcode
	Name               string
	RequiredLevel      model.Level
	RequiresEncryption bool
	Timeout            time.Duration
	RateLimit          *RateLimit
	Handler            HandlerFunc
}

// Registry maps opcodes to handler descriptors. Mutable only before
// Freeze; lookups afterwards are O(1) with no locking.
type Registry struct {
	handlers map[protocol.Opcode]*HandlerDesc
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[protocol.Opcode]*HandlerDesc)}
}

// Register adds a descriptor. Panics on duplicate opcodes or registration
// after Freeze: both are startup wiring bugs, not runtime conditions.
func (r *Registry) Register(d HandlerDesc) {
	if r.frozen {
		panic("registry: register after freeze")
	}
	if d.Handler == nil {
		panic(fmt.Sprintf("registry: nil handler for %s", d.Opcode))
	}
	if _, dup := r.handlers[d.Opcode]; dup {
		panic(fmt.Sprintf("registry: duplicate opcode %s", d.Opcode))
	}
	r.handlers[d.Opcode] = &d
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Lookup returns the descriptor for an opcode.
func (r *Registry) Lookup(op protocol.Opcode) (*HandlerDesc, bool) {
	d, ok := r.handlers[op]
	return d, ok
}
