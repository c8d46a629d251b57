// Package groups declares the repository contract for directory groups and
// the membership relation.
package groups

import (
	"context"

	"github.com/lightldap/lightldap/internal/server/filter"
	"github.com/lightldap/lightldap/internal/server/models"
)

// Repository defines persistence operations for groups and membership edges.
type Repository interface {
	// Create inserts a new group. A duplicate name returns
	// common.ErrAlreadyExists.
	Create(ctx context.Context, group *models.Group) error

	// GetByName returns the group with the given (case-insensitive) name,
	// or common.ErrNotFound.
	GetByName(ctx context.Context, name string) (*models.Group, error)

	// Search returns the groups matching the compiled predicate, at most
	// limit entries (0 means unlimited). The boolean reports truncation.
	Search(ctx context.Context, pred *filter.Predicate, limit int) ([]*models.Group, bool, error)

	// AddMember adds a membership edge. Adding an existing edge is a no-op.
	AddMember(ctx context.Context, userID, groupID string) error

	// RemoveMember removes a membership edge.
	RemoveMember(ctx context.Context, userID, groupID string) error

	// MembersOf returns the usernames of the group's members.
	MembersOf(ctx context.Context, groupID string) ([]string, error)

	// Delete removes a group; membership edges cascade.
	Delete(ctx context.Context, name string) error
}
