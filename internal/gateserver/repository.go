package gateserver

import (
	"context"
	"time"

	"github.com/ppn-systems/orion/internal/model"
)

// AccountRepository is the narrow credentials contract the core consumes.
// The concrete engine lives behind it (internal/db for PostgreSQL); tests
// substitute an in-memory implementation.
type AccountRepository interface {
	// GetAuthViewByUsername returns the login view for a username.
	// Returns nil, nil when the account does not exist.
	GetAuthViewByUsername(ctx context.Context, username string) (*model.AuthView, error)

	// GetForPasswordChangeByUsername returns the change-password view.
	// Returns nil, nil when the account does not exist.
	GetForPasswordChangeByUsername(ctx context.Context, username string) (*model.PasswordView, error)

	// InsertOrIgnore creates a credentials record unless the username is
	// taken. Returns the new id, or 0 when the insert was ignored.
	InsertOrIgnore(ctx context.Context, username string, salt, hash []byte, role model.Level) (int64, error)

	// IncrementFailed bumps failed_login_count and stamps
	// last_failed_login_at atomically.
	IncrementFailed(ctx context.Context, id int64, at time.Time) error

	// ResetFailedAndStampLogin zeroes failed_login_count and stamps
	// last_login_at atomically.
	ResetFailedAndStampLogin(ctx context.Context, id int64, at time.Time) error

	// StampLogout stamps last_logout_at for the username.
	StampLogout(ctx context.Context, username string, at time.Time) error

	// UpdatePasswordIfMatches replaces salt and hash only while the stored
	// hash still equals oldHash (optimistic concurrency). Returns the number
	// of rows changed: 0 means the hash moved underneath the caller.
	UpdatePasswordIfMatches(ctx context.Context, id int64, oldHash, newSalt, newHash []byte) (int64, error)
}
