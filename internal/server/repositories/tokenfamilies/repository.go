// Package tokenfamilies declares the repository contract for refresh-token
// families: one row per login lineage, tracking the last-issued sequence
// number so stale-token replay is detectable.
package tokenfamilies

import (
	"context"

	"github.com/lightldap/lightldap/internal/server/models"
)

// Repository defines persistence operations for refresh-token families.
type Repository interface {
	// Create inserts a new family at sequence 1.
	Create(ctx context.Context, family *models.RefreshTokenFamily) error

	// GetForUpdate returns the family row, locking it for the duration of
	// the surrounding transaction so that concurrent refreshes serialize.
	// Returns common.ErrNotFound when absent.
	GetForUpdate(ctx context.Context, userID, familyID string) (*models.RefreshTokenFamily, error)

	// Advance moves the family from sequence seq to seq+1 with a new secret
	// hash. Returns common.ErrVersionConflict if the stored sequence is no
	// longer seq.
	Advance(ctx context.Context, userID, familyID string, seq int64, secretHash []byte) error

	// Delete removes one family (revocation).
	Delete(ctx context.Context, userID, familyID string) error

	// DeleteAllForUser removes every family of an identity.
	DeleteAllForUser(ctx context.Context, userID string) error

	// DeleteExpired removes families past their expiry and reports how many
	// rows were removed.
	DeleteExpired(ctx context.Context) (int64, error)
}
