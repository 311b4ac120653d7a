package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ppn-systems/orion/internal/model"
)

// PostgresAccountRepository implements the gateserver credentials contract
// over the accounts table.
type PostgresAccountRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresAccountRepository creates a PostgreSQL-backed repository.
func NewPostgresAccountRepository(pool *pgxpool.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{pool: pool}
}

// GetAuthViewByUsername returns the login view, or nil, nil when the
// account does not exist.
func (r *PostgresAccountRepository) GetAuthViewByUsername(ctx context.Context, username string) (*model.AuthView, error) {
	username = strings.ToLower(username)
	var (
		v    model.AuthView
		role int16
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, salt, hash, role, is_active, failed_login_count, last_failed_login_at
		 FROM accounts WHERE username = $1`, username,
	).Scan(&v.ID, &v.Salt, &v.Hash, &role, &v.IsActive, &v.FailedLoginCount, &v.LastFailedLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying auth view for %q: %w", username, err)
	}
	v.Role = model.Level(role)
	return &v, nil
}

// GetForPasswordChangeByUsername returns the change-password view, or
// nil, nil when the account does not exist.
func (r *PostgresAccountRepository) GetForPasswordChangeByUsername(ctx context.Context, username string) (*model.PasswordView, error) {
	username = strings.ToLower(username)
	var v model.PasswordView
	err := r.pool.QueryRow(ctx,
		`SELECT id, salt, hash, is_active FROM accounts WHERE username = $1`, username,
	).Scan(&v.ID, &v.Salt, &v.Hash, &v.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying password view for %q: %w", username, err)
	}
	return &v, nil
}

// InsertOrIgnore creates an account unless the username is taken.
// ON CONFLICT DO NOTHING makes the race between concurrent registrations
// resolve to exactly one winner; the loser sees id 0.
func (r *PostgresAccountRepository) InsertOrIgnore(ctx context.Context, username string, salt, hash []byte, role model.Level) (int64, error) {
	username = strings.ToLower(username)
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (username, salt, hash, role, failed_login_count, is_active, created_at)
		 VALUES ($1, $2, $3, $4, 0, TRUE, $5)
		 ON CONFLICT (username) DO NOTHING
		 RETURNING id`,
		username, salt, hash, int16(role), time.Now(),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("inserting account %q: %w", username, err)
	}
	return id, nil
}

// IncrementFailed bumps the failure counter and stamps the failure time in
// one statement.
func (r *PostgresAccountRepository) IncrementFailed(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts
		 SET failed_login_count = failed_login_count + 1, last_failed_login_at = $2
		 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("incrementing failed logins for account %d: %w", id, err)
	}
	return nil
}

// ResetFailedAndStampLogin zeroes the failure counter and stamps the login
// time in one statement.
func (r *PostgresAccountRepository) ResetFailedAndStampLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts
		 SET failed_login_count = 0, last_login_at = $2
		 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("stamping login for account %d: %w", id, err)
	}
	return nil
}

// StampLogout stamps last_logout_at for the username.
func (r *PostgresAccountRepository) StampLogout(ctx context.Context, username string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET last_logout_at = $2 WHERE username = $1`,
		strings.ToLower(username), at,
	)
	if err != nil {
		return fmt.Errorf("stamping logout for %q: %w", username, err)
	}
	return nil
}

// UpdatePasswordIfMatches swaps the credentials only while the stored hash
// still equals oldHash. Returns the number of rows changed.
func (r *PostgresAccountRepository) UpdatePasswordIfMatches(ctx context.Context, id int64, oldHash, newSalt, newHash []byte) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET salt = $3, hash = $4 WHERE id = $1 AND hash = $2`,
		id, oldHash, newSalt, newHash,
	)
	if err != nil {
		return 0, fmt.Errorf("updating password for account %d: %w", id, err)
	}
	return tag.RowsAffected(), nil
}
