package tokens

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lightldap/lightldap/internal/common"
	"github.com/lightldap/lightldap/internal/dbx"
	"github.com/lightldap/lightldap/internal/logging"
	"github.com/lightldap/lightldap/internal/server/models"
	"github.com/lightldap/lightldap/internal/server/repositories/repomanager"
)

const (
	// DefaultAccessTokenValidity bounds how long a stolen access token
	// stays usable; refreshing is cheap.
	DefaultAccessTokenValidity = 5 * time.Minute
	// DefaultRefreshTokenValidity bounds the lifetime of a whole
	// refresh-token family.
	DefaultRefreshTokenValidity = 30 * 24 * time.Hour

	refreshSecretLength = 32
)

// Signer supplies the current HMAC signing secret. Rotating the secret
// invalidates every outstanding access token at once.
type Signer interface {
	SigningSecret() []byte
}

// Pair is the result of a successful login or refresh.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Issuer mints access tokens and manages refresh-token families. Each login
// starts a new family; each refresh advances the family's sequence number
// and retires the presented token. Presenting a retired token is treated as
// theft and revokes the family.
type Issuer struct {
	db              *sql.DB
	repos           repomanager.RepositoryManager
	signer          Signer
	accessValidity  time.Duration
	refreshValidity time.Duration
	logger          logging.Logger
}

func NewIssuer(db *sql.DB, repos repomanager.RepositoryManager, signer Signer,
	accessValidity, refreshValidity time.Duration, logger logging.Logger) *Issuer {
	if accessValidity <= 0 {
		accessValidity = DefaultAccessTokenValidity
	}
	if refreshValidity <= 0 {
		refreshValidity = DefaultRefreshTokenValidity
	}
	return &Issuer{
		db:              db,
		repos:           repos,
		signer:          signer,
		accessValidity:  accessValidity,
		refreshValidity: refreshValidity,
		logger:          logger,
	}
}

// Issue starts a fresh refresh-token family for the user and mints an access
// token carrying the given scope.
func (i *Issuer) Issue(ctx context.Context, user *models.User, scope string) (*Pair, error) {
	secret, err := common.MakeRandHexString(refreshSecretLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	family := &models.RefreshTokenFamily{
		UserID:       user.ID,
		FamilyID:     uuid.NewString(),
		LastSequence: 1,
		SecretHash:   hashRefreshSecret(secret),
		Scope:        scope,
		ExpiresAt:    time.Now().Add(i.refreshValidity),
	}
	if err := i.repos.TokenFamilies(i.db).Create(ctx, family); err != nil {
		return nil, err
	}

	return i.makePair(user.UserName, scope, family, 1, secret)
}

// Refresh validates a refresh token, advances its family by one sequence and
// returns a new pair. The presented token is retired: exactly one caller can
// advance any given sequence, and replaying an older sequence revokes the
// whole family.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	userID, familyID, seq, secret, err := parseRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	var pair *Pair
	err = dbx.WithTx(ctx, i.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := i.repos.TokenFamilies(tx)

		family, err := repo.GetForUpdate(ctx, userID, familyID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrInvalidToken
			}
			return err
		}

		if time.Now().After(family.ExpiresAt) {
			if err := repo.Delete(ctx, userID, familyID); err != nil {
				return err
			}
			return common.ErrRefreshTokenExpired
		}

		if seq != family.LastSequence {
			// A sequence behind the head means the token was already
			// spent once. Someone is replaying it.
			i.logger.Warn(ctx, "refresh token replay, revoking family",
				"user_id", userID, "family_id", familyID)
			if err := repo.Delete(ctx, userID, familyID); err != nil {
				return err
			}
			return common.ErrTokenReused
		}

		if subtle.ConstantTimeCompare(hashRefreshSecret(secret), family.SecretHash) != 1 {
			if err := repo.Delete(ctx, userID, familyID); err != nil {
				return err
			}
			return common.ErrInvalidToken
		}

		newSecret, err := common.MakeRandHexString(refreshSecretLength)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrInternal, err)
		}
		if err := repo.Advance(ctx, userID, familyID, seq, hashRefreshSecret(newSecret)); err != nil {
			if errors.Is(err, common.ErrVersionConflict) {
				// A concurrent refresh advanced the family first.
				if derr := repo.Delete(ctx, userID, familyID); derr != nil {
					return derr
				}
				return common.ErrTokenReused
			}
			return err
		}
		family.LastSequence = seq + 1

		username, err := i.usernameOf(ctx, tx, userID)
		if err != nil {
			return err
		}
		// The scope was fixed at login time and travels with the family.
		pair, err = i.makePair(username, family.Scope, family, seq+1, newSecret)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Revoke removes a single refresh-token family. The access tokens it minted
// stay valid until they expire.
func (i *Issuer) Revoke(ctx context.Context, refreshToken string) error {
	userID, familyID, _, _, err := parseRefreshToken(refreshToken)
	if err != nil {
		return err
	}
	return i.repos.TokenFamilies(i.db).Delete(ctx, userID, familyID)
}

// RevokeAllForUser removes every refresh-token family the user owns.
func (i *Issuer) RevokeAllForUser(ctx context.Context, userID string) error {
	return i.repos.TokenFamilies(i.db).DeleteAllForUser(ctx, userID)
}

// DeleteExpired removes families whose lifetime has lapsed. Meant to be run
// periodically.
func (i *Issuer) DeleteExpired(ctx context.Context) (int64, error) {
	return i.repos.TokenFamilies(i.db).DeleteExpired(ctx)
}

// Verify checks an access token's signature and expiry and returns its
// claims.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	return parseAccessToken(tokenString, i.signer.SigningSecret())
}

func (i *Issuer) makePair(username, scope string, family *models.RefreshTokenFamily, seq int64, secret string) (*Pair, error) {
	access, err := generateAccessToken(username, scope, i.signer.SigningSecret(), i.accessValidity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	return &Pair{
		AccessToken:      access,
		AccessExpiresAt:  time.Now().Add(i.accessValidity),
		RefreshToken:     formatRefreshToken(family.UserID, family.FamilyID, seq, secret),
		RefreshExpiresAt: family.ExpiresAt,
	}, nil
}

func (i *Issuer) usernameOf(ctx context.Context, tx dbx.DBTX, userID string) (string, error) {
	user, err := i.repos.Users(tx).GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.UserName, nil
}

// formatRefreshToken renders the opaque refresh token handed to clients.
// UUIDs never contain dots, so the dot is a safe separator.
func formatRefreshToken(userID, familyID string, seq int64, secret string) string {
	return strings.Join([]string{userID, familyID, strconv.FormatInt(seq, 10), secret}, ".")
}

func parseRefreshToken(token string) (userID, familyID string, seq int64, secret string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", 0, "", common.ErrInvalidToken
	}
	seq, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 1 || parts[0] == "" || parts[1] == "" || parts[3] == "" {
		return "", "", 0, "", common.ErrInvalidToken
	}
	return parts[0], parts[1], seq, parts[3], nil
}

func hashRefreshSecret(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}
