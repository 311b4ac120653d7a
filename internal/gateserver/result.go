package gateserver

import "github.com/ppn-systems/orion/internal/protocol"

// Result is the sum-typed handler outcome. Exactly one of Reply or
// Directive is set (or neither, when the handler replied on its own);
// Disconnect closes the connection after the reply is written.
type Result struct {
	Reply      *protocol.Packet
	Directive  *protocol.DirectiveBody
	Disconnect bool
}

// Ok returns a reply packet result.
func Ok(reply *protocol.Packet) Result {
	return Result{Reply: reply}
}

// Ack returns an ACK directive result.
func Ack() Result {
	return Result{Directive: &protocol.DirectiveBody{Control: protocol.ControlAck}}
}

// Fail returns an ERROR directive result.
func Fail(reason protocol.Reason, advice protocol.Advice, flags protocol.DirectiveFlags) Result {
	return Result{Directive: &protocol.DirectiveBody{
		Control: protocol.ControlError,
		Reason:  reason,
		Advice:  advice,
		Flags:   flags,
	}}
}

// None returns an empty result for handlers that already replied.
func None() Result {
	return Result{}
}
