package models

import "time"

// RefreshTokenFamily tracks the lineage of refresh tokens minted from one
// login. LastSequence is the only valid sequence number; presenting an older
// one is treated as replay and revokes the whole family. SecretHash is the
// SHA-256 of the currently valid token secret. Scope is fixed at login and
// carried into every access token the family mints.
type RefreshTokenFamily struct {
	UserID       string
	FamilyID     string
	LastSequence int64
	SecretHash   []byte
	Scope        string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}
