// Package services contains server-side business logic: the authentication
// flows built on the password-authenticated key exchange and the token
// issuer, and the directory administration operations.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lightldap/lightldap/internal/common"
	"github.com/lightldap/lightldap/internal/logging"
	"github.com/lightldap/lightldap/internal/server/pake"
	"github.com/lightldap/lightldap/internal/server/repositories/users"
	"github.com/lightldap/lightldap/internal/server/tokens"
)

// AuthService drives the registration and login exchanges and hands out
// token pairs. It never sees a plaintext password: clients speak the key
// exchange, and only the verifier reaches storage.
type AuthService struct {
	authenticator *pake.Authenticator
	issuer        *tokens.Issuer
	users         users.Repository
	adminGroup    string
	logger        logging.Logger
}

func NewAuthService(a *pake.Authenticator, i *tokens.Issuer, ur users.Repository,
	adminGroup string, logger logging.Logger) *AuthService {
	return &AuthService{
		authenticator: a,
		issuer:        i,
		users:         ur,
		adminGroup:    adminGroup,
		logger:        logger,
	}
}

// RegisterBegin starts a credential registration exchange for an existing
// user. The returned exchange id must be echoed back by RegisterFinish.
func (s *AuthService) RegisterBegin(ctx context.Context, username string, request []byte) (string, []byte, error) {
	id, reply, err := s.authenticator.RegisterStart(ctx, username, request)
	if err != nil {
		s.logger.Warn(ctx, "registration begin failed", "username", username, "error", err)
		return "", nil, err
	}
	return id, reply, nil
}

// RegisterFinish completes a registration exchange and commits the new
// verifier. A concurrent registration for the same user loses with
// common.ErrVersionConflict.
func (s *AuthService) RegisterFinish(ctx context.Context, exchangeID string, upload []byte) error {
	if err := s.authenticator.RegisterFinish(ctx, exchangeID, upload); err != nil {
		s.logger.Warn(ctx, "registration finish failed", "error", err)
		return err
	}
	s.logger.Info(ctx, "credential registered")
	return nil
}

// LoginBegin starts a login exchange. Unknown users get a decoy exchange
// that is indistinguishable from a real one and can never succeed.
func (s *AuthService) LoginBegin(ctx context.Context, username string, request []byte) (string, []byte, error) {
	return s.authenticator.LoginStart(ctx, username, request)
}

// LoginFinish verifies the client's proof and, on success, mints a token
// pair scoped by the user's group membership.
func (s *AuthService) LoginFinish(ctx context.Context, exchangeID string, proof []byte) (*tokens.Pair, error) {
	username, err := s.authenticator.LoginFinish(ctx, exchangeID, proof)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	scope, err := s.scopeOf(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	pair, err := s.issuer.Issue(ctx, user, scope)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "login succeeded", "username", username, "scope", scope)
	return pair, nil
}

// Refresh rotates a refresh token and mints a new pair. Replaying a spent
// token revokes its whole family.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*tokens.Pair, error) {
	return s.issuer.Refresh(ctx, refreshToken)
}

// Logout revokes the refresh-token family behind the given token.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.issuer.Revoke(ctx, refreshToken)
}

// VerifyAccess validates an access token and returns its claims.
func (s *AuthService) VerifyAccess(tokenString string) (*tokens.Claims, error) {
	return s.issuer.Verify(tokenString)
}

// VerifyPassword checks a plaintext password for the simple-bind path.
func (s *AuthService) VerifyPassword(ctx context.Context, username, password string) error {
	return s.authenticator.VerifyPassword(ctx, username, password)
}

func (s *AuthService) scopeOf(ctx context.Context, userID string) (string, error) {
	names, err := s.users.GroupsOf(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("error loading groups: %w", err)
	}
	for _, name := range names {
		if strings.EqualFold(name, s.adminGroup) {
			return tokens.ScopeAdmin, nil
		}
	}
	return tokens.ScopeUser, nil
}
