// Package common defines shared constants and sentinel errors used across
// the directory server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Authentication errors. ErrInvalidCredentials is deliberately opaque:
	// wrong password, unknown user and failed login proof all map to it.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrExpiredExchange    = errors.New("authentication exchange expired")

	// Token lifecycle errors.
	ErrInvalidToken        = errors.New("invalid token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrTokenReused         = errors.New("refresh token reused")

	// Search errors.
	ErrUnknownAttribute  = errors.New("unknown attribute")
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
)
