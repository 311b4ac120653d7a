package model

import (
	"fmt"
	"time"
)

// Level is the four-step permission ladder. A connection starts at NONE,
// the handshake lifts it to GUEST, and login lifts it to the stored role.
type Level uint8

const (
	LevelNone Level = iota
	LevelGuest
	LevelUser
	LevelAdmin
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelGuest:
		return "GUEST"
	case LevelUser:
		return "USER"
	case LevelAdmin:
		return "ADMIN"
	default:
		return fmt.Sprintf("Level(%d)", uint8(l))
	}
}

// Account is a stored credentials record. Salt and Hash are fixed width
// (64 bytes each) and never leave the authentication path.
type Account struct {
	ID                int64
	Username          string
	Salt              []byte
	Hash              []byte
	Role              Level
	FailedLoginCount  int
	LastLoginAt       *time.Time
	LastLogoutAt      *time.Time
	LastFailedLoginAt *time.Time
	IsActive          bool
	CreatedAt         time.Time
}

// AuthView is the slice of an account the login operation needs.
type AuthView struct {
	ID                int64
	Salt              []byte
	Hash              []byte
	Role              Level
	IsActive          bool
	FailedLoginCount  int
	LastFailedLoginAt *time.Time
}

// PasswordView is the slice of an account the change-password operation
// needs.
type PasswordView struct {
	ID       int64
	Salt     []byte
	Hash     []byte
	IsActive bool
}
