package protocol

import (
	"fmt"

	"github.com/ppn-systems/orion/internal/pool"
)

// Packet is one decoded frame in flight: the header, the raw payload bytes
// as read off the wire, and the typed body once the inbound unwrap transform
// has run. Packets are pooled; Reset wipes payload and body state and
// restores the opcode to NONE.
type Packet struct {
	Header  Header
	Payload []byte
	Body    Body
}

// SetPayload copies p into the packet's owned payload buffer.
func (p *Packet) SetPayload(b []byte) {
	p.Payload = append(p.Payload[:0], b...)
}

// DecodeBody selects the body type from the header magic and decodes the
// current payload into it.
func (p *Packet) DecodeBody() error {
	body, err := NewBody(p.Header.Magic)
	if err != nil {
		return err
	}
	if err := body.DecodePayload(p.Payload); err != nil {
		return fmt.Errorf("decoding %s body: %w", p.Header.Magic, err)
	}
	p.Body = body
	return nil
}

// Reset implements pool.Poolable. Payload bytes are wiped, not just
// truncated: credentials transit through here.
func (p *Packet) Reset() {
	clear(p.Payload)
	p.Payload = p.Payload[:0]
	if p.Body != nil {
		p.Body.Reset()
		p.Body = nil
	}
	p.Header = Header{Opcode: OpcodeNone}
}

// PacketPool is a bounded pool of Packet values.
type PacketPool struct {
	inner *pool.Pool[*Packet]
}

// NewPacketPool creates a packet pool caching at most max packets.
func NewPacketPool(max int) *PacketPool {
	return &PacketPool{
		inner: pool.New(func() *Packet { return &Packet{} }, max),
	}
}

// Get pops a clean packet.
func (p *PacketPool) Get() *Packet { return p.inner.Get() }

// Put resets pkt and returns it to the pool.
func (p *PacketPool) Put(pkt *Packet) { p.inner.Put(pkt) }

// Prealloc warms the pool with n packets.
func (p *PacketPool) Prealloc(n int) { p.inner.Prealloc(n) }
