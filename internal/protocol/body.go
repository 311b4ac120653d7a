package protocol

import (
	"encoding/binary"
	"fmt"
)

// Size caps for plaintext string payload fields. Enforced by handlers after
// the encrypted transform is undone, not by the codec: ciphertext fields are
// Base64 and legitimately exceed the plaintext caps.
const (
	MaxUsernameLen = 20
	MaxPasswordLen = 128
)

// Body is one decoded packet payload. The concrete type is selected by the
// frame magic (tagged union, NewBody).
//
// StringFields exposes the payload's encryptable string fields so the
// wrap/unwrap transforms can seal or open them in place without knowing the
// concrete class.
type Body interface {
	Magic() Magic
	EncodePayload(buf []byte) (int, error)
	DecodePayload(p []byte) error
	StringFields() []*string
	Reset()
}

// NewBody returns an empty body for the given packet class.
func NewBody(m Magic) (Body, error) {
	switch m {
	case MagicHandshake:
		return &HandshakeBody{}, nil
	case MagicCredentials:
		return &CredentialsBody{}, nil
	case MagicCredsUpdate:
		return &CredsUpdateBody{}, nil
	case MagicDirective:
		return &DirectiveBody{}, nil
	case MagicResponse:
		return &ResponseBody{}, nil
	default:
		return nil, fmt.Errorf("new body: magic 0x%08X: %w", uint32(m), ErrBadMagic)
	}
}

// putString writes a u16 length prefix followed by the UTF-8 bytes of s.
func putString(buf []byte, s string) (int, error) {
	if len(s) > MaxFrameSize-HeaderSize-2 {
		return 0, fmt.Errorf("string field %d bytes too long: %w", len(s), ErrBadLength)
	}
	if len(buf) < 2+len(s) {
		return 0, fmt.Errorf("string field needs %d bytes, have %d: %w", 2+len(s), len(buf), ErrBufferTooSmall)
	}
	binary.LittleEndian.PutUint16(buf, uint16(len(s)))
	copy(buf[2:], s)
	return 2 + len(s), nil
}

// getString reads a length-prefixed string and returns it with the number of
// bytes consumed.
func getString(p []byte) (string, int, error) {
	if len(p) < 2 {
		return "", 0, fmt.Errorf("string field truncated prefix: %w", ErrMalformed)
	}
	n := int(binary.LittleEndian.Uint16(p))
	if len(p) < 2+n {
		return "", 0, fmt.Errorf("string field wants %d bytes, %d remain: %w", n, len(p)-2, ErrMalformed)
	}
	return string(p[2 : 2+n]), 2 + n, nil
}

// HandshakeBody carries a raw X25519 public key. The codec accepts any
// payload length so the handshake handler can answer short or oversized keys
// with the proper validation directive instead of a frame error.
type HandshakeBody struct {
	Key []byte
}

func (b *HandshakeBody) Magic() Magic { return MagicHandshake }

func (b *HandshakeBody) EncodePayload(buf []byte) (int, error) {
	if len(buf) < len(b.Key) {
		return 0, fmt.Errorf("handshake payload needs %d bytes, have %d: %w", len(b.Key), len(buf), ErrBufferTooSmall)
	}
	return copy(buf, b.Key), nil
}

func (b *HandshakeBody) DecodePayload(p []byte) error {
	b.Key = append(b.Key[:0], p...)
	return nil
}

func (b *HandshakeBody) StringFields() []*string { return nil }

func (b *HandshakeBody) Reset() {
	clear(b.Key)
	b.Key = b.Key[:0]
}

// CredentialsBody carries a username and password.
type CredentialsBody struct {
	Username string
	Password string
}

func (b *CredentialsBody) Magic() Magic { return MagicCredentials }

func (b *CredentialsBody) EncodePayload(buf []byte) (int, error) {
	n, err := putString(buf, b.Username)
	if err != nil {
		return 0, fmt.Errorf("encoding username: %w", err)
	}
	m, err := putString(buf[n:], b.Password)
	if err != nil {
		return 0, fmt.Errorf("encoding password: %w", err)
	}
	return n + m, nil
}

func (b *CredentialsBody) DecodePayload(p []byte) error {
	var n, m int
	var err error
	if b.Username, n, err = getString(p); err != nil {
		return fmt.Errorf("decoding username: %w", err)
	}
	if b.Password, m, err = getString(p[n:]); err != nil {
		return fmt.Errorf("decoding password: %w", err)
	}
	if n+m != len(p) {
		return fmt.Errorf("credentials payload has %d trailing bytes: %w", len(p)-n-m, ErrMalformed)
	}
	return nil
}

func (b *CredentialsBody) StringFields() []*string {
	return []*string{&b.Username, &b.Password}
}

func (b *CredentialsBody) Reset() {
	b.Username = ""
	b.Password = ""
}

// CredsUpdateBody carries an old and a new password.
type CredsUpdateBody struct {
	OldPassword string
	NewPassword string
}

func (b *CredsUpdateBody) Magic() Magic { return MagicCredsUpdate }

func (b *CredsUpdateBody) EncodePayload(buf []byte) (int, error) {
	n, err := putString(buf, b.OldPassword)
	if err != nil {
		return 0, fmt.Errorf("encoding old password: %w", err)
	}
	m, err := putString(buf[n:], b.NewPassword)
	if err != nil {
		return 0, fmt.Errorf("encoding new password: %w", err)
	}
	return n + m, nil
}

func (b *CredsUpdateBody) DecodePayload(p []byte) error {
	var n, m int
	var err error
	if b.OldPassword, n, err = getString(p); err != nil {
		return fmt.Errorf("decoding old password: %w", err)
	}
	if b.NewPassword, m, err = getString(p[n:]); err != nil {
		return fmt.Errorf("decoding new password: %w", err)
	}
	if n+m != len(p) {
		return fmt.Errorf("creds update payload has %d trailing bytes: %w", len(p)-n-m, ErrMalformed)
	}
	return nil
}

func (b *CredsUpdateBody) StringFields() []*string {
	return []*string{&b.OldPassword, &b.NewPassword}
}

func (b *CredsUpdateBody) Reset() {
	b.OldPassword = ""
	b.NewPassword = ""
}

// DirectiveBody is the server-to-client control reply.
type DirectiveBody struct {
	Control Control
	Reason  Reason
	Advice  Advice
	Flags   DirectiveFlags
}

const directivePayloadSize = 4

func (b *DirectiveBody) Magic() Magic { return MagicDirective }

func (b *DirectiveBody) EncodePayload(buf []byte) (int, error) {
	if len(buf) < directivePayloadSize {
		return 0, fmt.Errorf("directive payload needs %d bytes, have %d: %w", directivePayloadSize, len(buf), ErrBufferTooSmall)
	}
	buf[0] = uint8(b.Control)
	buf[1] = uint8(b.Reason)
	buf[2] = uint8(b.Advice)
	buf[3] = uint8(b.Flags)
	return directivePayloadSize, nil
}

func (b *DirectiveBody) DecodePayload(p []byte) error {
	if len(p) != directivePayloadSize {
		return fmt.Errorf("directive payload is %d bytes, want %d: %w", len(p), directivePayloadSize, ErrMalformed)
	}
	b.Control = Control(p[0])
	b.Reason = Reason(p[1])
	b.Advice = Advice(p[2])
	b.Flags = DirectiveFlags(p[3])
	return nil
}

func (b *DirectiveBody) StringFields() []*string { return nil }

func (b *DirectiveBody) Reset() {
	*b = DirectiveBody{}
}

// ResponseBody is a minimal server-to-client status reply.
type ResponseBody struct {
	Status uint8
}

func (b *ResponseBody) Magic() Magic { return MagicResponse }

func (b *ResponseBody) EncodePayload(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("response payload needs 1 byte: %w", ErrBufferTooSmall)
	}
	buf[0] = b.Status
	return 1, nil
}

func (b *ResponseBody) DecodePayload(p []byte) error {
	if len(p) != 1 {
		return fmt.Errorf("response payload is %d bytes, want 1: %w", len(p), ErrMalformed)
	}
	b.Status = p[0]
	return nil
}

func (b *ResponseBody) StringFields() []*string { return nil }

func (b *ResponseBody) Reset() {
	b.Status = 0
}
