// Package users declares the repository contract for directory user entries.
package users

import (
	"context"

	"github.com/lightldap/lightldap/internal/server/filter"
	"github.com/lightldap/lightldap/internal/server/models"
)

// Repository defines persistence operations for users.
type Repository interface {
	// Create inserts a new user. A duplicate username returns
	// common.ErrAlreadyExists.
	Create(ctx context.Context, user *models.User) error

	// GetByUsername returns the user with the given (case-insensitive)
	// username, or common.ErrNotFound.
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// GetByID returns the user with the given id, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.User, error)

	// Search returns the users matching the compiled predicate, at most
	// limit entries (0 means unlimited). The boolean reports truncation.
	Search(ctx context.Context, pred *filter.Predicate, limit int) ([]*models.User, bool, error)

	// GroupsOf returns the names of the groups the user belongs to.
	GroupsOf(ctx context.Context, userID string) ([]string, error)

	// Delete removes a user; membership edges cascade.
	Delete(ctx context.Context, username string) error
}
