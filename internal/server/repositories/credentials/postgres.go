package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lightldap/lightldap/internal/common"
	"github.com/lightldap/lightldap/internal/dbx"
	"github.com/lightldap/lightldap/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.Credential, error) {
	query := `
		SELECT user_id, scheme, verifier, key_ref, version, updated_at
		FROM credentials
		WHERE user_id = $1 AND verifier IS NOT NULL
	`
	cred := &models.Credential{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&cred.UserID, &cred.Scheme, &cred.Verifier, &cred.KeyRef, &cred.Version, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return cred, nil
}

func (r *PostgresRepository) Put(ctx context.Context, cred *models.Credential, expectedVersion int64) error {
	query := `
		INSERT INTO credentials (user_id, scheme, verifier, key_ref, version, updated_at)
		VALUES ($1, $2, $3, $4, $5 + 1, now())
		ON CONFLICT (user_id) DO UPDATE
		SET scheme = EXCLUDED.scheme,
		    verifier = EXCLUDED.verifier,
		    key_ref = EXCLUDED.key_ref,
		    version = credentials.version + 1,
		    updated_at = now()
		WHERE credentials.version = $5
	`
	res, err := r.db.ExecContext(ctx, query,
		cred.UserID, cred.Scheme, cred.Verifier, cred.KeyRef, expectedVersion)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrVersionConflict
	}
	return nil
}

func (r *PostgresRepository) BeginRegistration(ctx context.Context, userID, token string, expiresAt time.Time) error {
	query := `
		INSERT INTO credentials (user_id, pending_token, pending_expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET pending_token = EXCLUDED.pending_token,
		    pending_expires_at = EXCLUDED.pending_expires_at
	`
	if _, err := r.db.ExecContext(ctx, query, userID, token, expiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CommitRegistration(ctx context.Context, userID, token string, cred *models.Credential) error {
	query := `
		UPDATE credentials
		SET scheme = $2,
		    verifier = $3,
		    key_ref = $4,
		    version = version + 1,
		    pending_token = NULL,
		    pending_expires_at = NULL,
		    updated_at = now()
		WHERE user_id = $1 AND pending_token = $5 AND pending_expires_at > now()
	`
	res, err := r.db.ExecContext(ctx, query, userID, cred.Scheme, cred.Verifier, cred.KeyRef, token)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.classifyCommitFailure(ctx, userID, token)
}

// classifyCommitFailure distinguishes an expired pending token from a
// superseded or already-consumed one.
func (r *PostgresRepository) classifyCommitFailure(ctx context.Context, userID, token string) error {
	query := `
		SELECT pending_token, pending_expires_at
		FROM credentials
		WHERE user_id = $1
	`
	var pendingToken sql.NullString
	var pendingExpires sql.NullTime
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&pendingToken, &pendingExpires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrVersionConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	if pendingToken.Valid && pendingToken.String == token &&
		pendingExpires.Valid && !pendingExpires.Time.After(time.Now()) {
		return common.ErrExpiredExchange
	}
	return common.ErrVersionConflict
}
