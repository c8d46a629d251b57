package tokenfamilies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Create(ctx context.Context, family *models.RefreshTokenFamily) error {
	query := `
		INSERT INTO token_families (user_id, family_id, last_sequence, secret_hash, scope, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		family.UserID, family.FamilyID, family.LastSequence, family.SecretHash, family.Scope, family.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, userID, familyID string) (*models.RefreshTokenFamily, error) {
	query := `
		SELECT user_id, family_id, last_sequence, secret_hash, scope, expires_at, created_at
		FROM token_families
		WHERE user_id = $1 AND family_id = $2
		FOR UPDATE
	`
	family := &models.RefreshTokenFamily{}
	err := r.db.QueryRowContext(ctx, query, userID, familyID).Scan(
		&family.UserID, &family.FamilyID, &family.LastSequence,
		&family.SecretHash, &family.Scope, &family.ExpiresAt, &family.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return family, nil
}

func (r *PostgresRepository) Advance(ctx context.Context, userID, familyID string, seq int64, secretHash []byte) error {
	query := `
		UPDATE token_families
		SET last_sequence = $3 + 1, secret_hash = $4
		WHERE user_id = $1 AND family_id = $2 AND last_sequence = $3
	`
	res, err := r.db.ExecContext(ctx, query, userID, familyID, seq, secretHash)
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

func (r *PostgresRepository) Delete(ctx context.Context, userID, familyID string) error {
	query := `
		DELETE FROM token_families
		WHERE user_id = $1 AND family_id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, userID, familyID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	query := `
		DELETE FROM token_families
		WHERE user_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM token_families
		WHERE expires_at < now()
	`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
