// Package models contains the persistent entity types of the directory.
package models

import "time"

// User is a directory user entry. UserName is immutable and globally unique;
// the DN is derived from it and the configured base namespace.
type User struct {
	ID          string
	UserName    string
	DisplayName string
	Email       string
	Avatar      []byte
	CreatedAt   time.Time
	Groups      []string
}
