package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame header layout, little-endian:
//
//	magic(4) | length(2) | opcode(2) | flags(1) | sequence(4)
//
// length counts header + payload.
const (
	HeaderSize   = 13
	MaxFrameSize = 65535
)

// Magic identifies the packet class. The four bytes spell an ASCII tag
// on the wire ("OHSK", "OCRD", ...).
type Magic uint32

const (
	MagicHandshake   Magic = 0x4B53484F // "OHSK"
	MagicCredentials Magic = 0x4452434F // "OCRD"
	MagicCredsUpdate Magic = 0x5750434F // "OCPW"
	MagicDirective   Magic = 0x5249444F // "ODIR"
	MagicResponse    Magic = 0x5053524F // "ORSP"
)

// String returns the ASCII tag for known magics.
func (m Magic) String() string {
	switch m {
	case MagicHandshake:
		return "OHSK"
	case MagicCredentials:
		return "OCRD"
	case MagicCredsUpdate:
		return "OCPW"
	case MagicDirective:
		return "ODIR"
	case MagicResponse:
		return "ORSP"
	default:
		return fmt.Sprintf("Magic(0x%08X)", uint32(m))
	}
}

// KnownMagic reports whether m is in the packet-class catalog.
func KnownMagic(m Magic) bool {
	switch m {
	case MagicHandshake, MagicCredentials, MagicCredsUpdate, MagicDirective, MagicResponse:
		return true
	}
	return false
}

// Opcode identifies the operation a frame targets.
type Opcode uint16

const (
	OpcodeNone           Opcode = 0x0000
	OpcodeHandshake      Opcode = 0x0001
	OpcodeRegister       Opcode = 0x0010
	OpcodeLogin          Opcode = 0x0011
	OpcodeLogout         Opcode = 0x0012
	OpcodeChangePassword Opcode = 0x0013
)

// String returns the operation name for known opcodes.
func (o Opcode) String() string {
	switch o {
	case OpcodeNone:
		return "NONE"
	case OpcodeHandshake:
		return "HANDSHAKE"
	case OpcodeRegister:
		return "REGISTER"
	case OpcodeLogin:
		return "LOGIN"
	case OpcodeLogout:
		return "LOGOUT"
	case OpcodeChangePassword:
		return "CHANGE_PASSWORD"
	default:
		return fmt.Sprintf("Opcode(0x%04X)", uint16(o))
	}
}

// Flags is the frame flag bitset.
type Flags uint8

const (
	FlagEncrypted  Flags = 1 << 0
	FlagCompressed Flags = 1 << 1

	// flagsReserved covers bits that must be zero on the wire.
	flagsReserved Flags = ^(FlagEncrypted | FlagCompressed)
)

// Header is the fixed frame header.
type Header struct {
	Magic    Magic
	Length   uint16
	Opcode   Opcode
	Flags    Flags
	Sequence uint32
}

// Codec sentinel errors, matched with errors.Is.
var (
	ErrIncomplete     = errors.New("incomplete frame")
	ErrBadMagic       = errors.New("bad magic")
	ErrBadLength      = errors.New("bad length")
	ErrMalformed      = errors.New("malformed frame")
	ErrBufferTooSmall = errors.New("buffer too small")
)

// DecodeFrame decodes exactly one frame from buf.
// Returns the header, a subslice of buf with the payload, and the number of
// bytes consumed. ErrIncomplete means buf holds less than one full frame and
// nothing was consumed; the caller should read more bytes and retry.
func DecodeFrame(buf []byte) (Header, []byte, int, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, 0, ErrIncomplete
	}

	h := Header{
		Magic:    Magic(binary.LittleEndian.Uint32(buf[0:4])),
		Length:   binary.LittleEndian.Uint16(buf[4:6]),
		Opcode:   Opcode(binary.LittleEndian.Uint16(buf[6:8])),
		Flags:    Flags(buf[8]),
		Sequence: binary.LittleEndian.Uint32(buf[9:13]),
	}

	if !KnownMagic(h.Magic) {
		return Header{}, nil, 0, fmt.Errorf("decoding frame: magic 0x%08X: %w", uint32(h.Magic), ErrBadMagic)
	}
	if int(h.Length) < HeaderSize {
		return Header{}, nil, 0, fmt.Errorf("decoding frame: length %d < header size %d: %w", h.Length, HeaderSize, ErrBadLength)
	}
	if h.Flags&flagsReserved != 0 {
		return Header{}, nil, 0, fmt.Errorf("decoding frame: reserved flag bits 0x%02X: %w", uint8(h.Flags), ErrMalformed)
	}
	if len(buf) < int(h.Length) {
		return Header{}, nil, 0, ErrIncomplete
	}

	return h, buf[HeaderSize:h.Length], int(h.Length), nil
}

// EncodeFrame serializes a frame with the given header fields and payload
// into buf and returns the number of bytes written. The Length field of h is
// computed here and need not be set by the caller.
func EncodeFrame(buf []byte, h Header, payload []byte) (int, error) {
	total := HeaderSize + len(payload)
	if total > MaxFrameSize {
		return 0, fmt.Errorf("encoding frame: %d bytes exceeds max frame size: %w", total, ErrBadLength)
	}
	if len(buf) < total {
		return 0, fmt.Errorf("encoding frame: need %d bytes, have %d: %w", total, len(buf), ErrBufferTooSmall)
	}

	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Magic))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(total))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(h.Opcode))
	buf[8] = uint8(h.Flags)
	binary.LittleEndian.PutUint32(buf[9:13], h.Sequence)
	copy(buf[HeaderSize:], payload)

	return total, nil
}
