package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists revoked session ids in Postgres. It is the revocation
// store used when no Redis is configured.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new auth Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Revoke records jti as revoked until expiresAt and drops entries whose
// tokens have expired anyway.
func (r *Repository) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM revoked_sessions WHERE expires_at <= NOW()`); err != nil {
		return fmt.Errorf("prune revoked sessions: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO revoked_sessions (jti, expires_at) VALUES ($1, $2)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert revoked session: %w", err)
	}

	return tx.Commit(ctx)
}

// IsRevoked reports whether jti was revoked and has not yet expired.
func (r *Repository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_sessions WHERE jti = $1 AND expires_at > NOW())`,
		jti,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked session: %w", err)
	}
	return revoked, nil
}
