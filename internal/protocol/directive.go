package protocol

import "fmt"

// Control is the directive control type.
type Control uint8

const (
	ControlAck Control = iota
	ControlError
	ControlDisconnect
)

func (c Control) String() string {
	switch c {
	case ControlAck:
		return "ACK"
	case ControlError:
		return "ERROR"
	case ControlDisconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("Control(%d)", uint8(c))
	}
}

// Reason explains why a directive was emitted.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonUnsupportedPacket
	ReasonValidationFailed
	ReasonInvalidUsername
	ReasonWeakPassword
	ReasonUnauthenticated
	ReasonAccountLocked
	ReasonAccountSuspended
	ReasonAlreadyExists
	ReasonSessionNotFound
	ReasonMissingRequiredField
	ReasonRateLimited
	ReasonConcurrencyExceeded
	ReasonNotEncrypted
	ReasonTimeout
	ReasonCancelled
	ReasonBackpressure
	ReasonClientQuit
	ReasonInternalError
	ReasonUnauthorized
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonUnsupportedPacket:
		return "UNSUPPORTED_PACKET"
	case ReasonValidationFailed:
		return "VALIDATION_FAILED"
	case ReasonInvalidUsername:
		return "INVALID_USERNAME"
	case ReasonWeakPassword:
		return "WEAK_PASSWORD"
	case ReasonUnauthenticated:
		return "UNAUTHENTICATED"
	case ReasonAccountLocked:
		return "ACCOUNT_LOCKED"
	case ReasonAccountSuspended:
		return "ACCOUNT_SUSPENDED"
	case ReasonAlreadyExists:
		return "ALREADY_EXISTS"
	case ReasonSessionNotFound:
		return "SESSION_NOT_FOUND"
	case ReasonMissingRequiredField:
		return "MISSING_REQUIRED_FIELD"
	case ReasonRateLimited:
		return "RATE_LIMITED"
	case ReasonConcurrencyExceeded:
		return "CONCURRENCY_EXCEEDED"
	case ReasonNotEncrypted:
		return "NOT_ENCRYPTED"
	case ReasonTimeout:
		return "TIMEOUT"
	case ReasonCancelled:
		return "CANCELLED"
	case ReasonBackpressure:
		return "BACKPRESSURE"
	case ReasonClientQuit:
		return "CLIENT_QUIT"
	case ReasonInternalError:
		return "INTERNAL_ERROR"
	case ReasonUnauthorized:
		return "UNAUTHORIZED"
	default:
		return fmt.Sprintf("Reason(%d)", uint8(r))
	}
}

// Advice tells the client how to proceed after a directive.
type Advice uint8

const (
	AdviceNone Advice = iota
	AdviceDoNotRetry
	AdviceFixAndRetry
	AdviceReauthenticate
	AdviceBackoffRetry
)

func (a Advice) String() string {
	switch a {
	case AdviceNone:
		return "NONE"
	case AdviceDoNotRetry:
		return "DO_NOT_RETRY"
	case AdviceFixAndRetry:
		return "FIX_AND_RETRY"
	case AdviceReauthenticate:
		return "REAUTHENTICATE"
	case AdviceBackoffRetry:
		return "BACKOFF_RETRY"
	default:
		return fmt.Sprintf("Advice(%d)", uint8(a))
	}
}

// DirectiveFlags qualifies a directive.
type DirectiveFlags uint8

const (
	DirectiveTransient   DirectiveFlags = 1 << 0
	DirectiveAuthRelated DirectiveFlags = 1 << 1
)
