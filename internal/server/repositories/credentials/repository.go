// Package credentials declares the repository contract for password-verifier
// records. A credential never contains recoverable plaintext; writes are
// guarded by an optimistic rotation counter.
package credentials

import (
	"context"
	"time"

	"github.com/lightldap/lightldap/internal/server/models"
)

// Repository defines persistence operations for credentials.
type Repository interface {
	// Get returns the live credential for a user, or common.ErrNotFound if
	// the user has none (including when only a pending registration exists).
	Get(ctx context.Context, userID string) (*models.Credential, error)

	// Put replaces the live credential if the stored rotation counter equals
	// expectedVersion; otherwise it returns common.ErrVersionConflict.
	// expectedVersion 0 means "no live credential yet".
	Put(ctx context.Context, cred *models.Credential, expectedVersion int64) error

	// BeginRegistration records a pending registration token with its
	// expiry. A newer begin supersedes an older pending token.
	BeginRegistration(ctx context.Context, userID, token string, expiresAt time.Time) error

	// CommitRegistration promotes a pending registration to the live
	// credential. It returns common.ErrExpiredExchange when the pending
	// token has expired and common.ErrVersionConflict when the token was
	// superseded or already consumed.
	CommitRegistration(ctx context.Context, userID, token string, cred *models.Credential) error
}
