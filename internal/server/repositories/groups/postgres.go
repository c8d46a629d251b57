package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lightldap/lightldap/internal/common"
	"github.com/lightldap/lightldap/internal/dbx"
	"github.com/lightldap/lightldap/internal/server/filter"
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

func (r *PostgresRepository) Create(ctx context.Context, group *models.Group) error {
	query := `
		INSERT INTO groups (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, group.ID, strings.ToLower(group.Name))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrAlreadyExists
	}
	return nil
}

func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*models.Group, error) {
	query := `
		SELECT id, name, created_at
		FROM groups
		WHERE name = LOWER($1)
	`
	group := &models.Group{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(&group.ID, &group.Name, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return group, nil
}

func (r *PostgresRepository) Search(ctx context.Context, pred *filter.Predicate, limit int) ([]*models.Group, bool, error) {
	query := `
		SELECT g.id, g.name, g.created_at
		FROM groups g
		WHERE ` + pred.SQL + `
		ORDER BY g.name`

	args := pred.Args
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit+1)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Group
	for rows.Next() {
		group := &models.Group{}
		if err := rows.Scan(&group.ID, &group.Name, &group.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("db error: %w", err)
		}
		out = append(out, group)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("db error: %w", err)
	}

	truncated := false
	if limit > 0 && len(out) > limit {
		out = out[:limit]
		truncated = true
	}
	return out, truncated, nil
}

func (r *PostgresRepository) AddMember(ctx context.Context, userID, groupID string) error {
	query := `
		INSERT INTO memberships (user_id, group_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, userID, groupID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RemoveMember(ctx context.Context, userID, groupID string) error {
	query := `
		DELETE FROM memberships
		WHERE user_id = $1 AND group_id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, userID, groupID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	query := `
		SELECT u.username
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id = $1
		ORDER BY u.username
	`
	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return names, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, name string) error {
	query := `
		DELETE FROM groups
		WHERE name = LOWER($1)
	`
	res, err := r.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
