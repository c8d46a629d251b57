package models

import "time"

// CredentialScheme selects how the stored verifier bytes are interpreted.
type CredentialScheme int

const (
	// SchemeOpaque stores an OPAQUE registration record. Simple binds are
	// verified by running the key exchange in-process against it.
	SchemeOpaque CredentialScheme = iota + 1
	// SchemeArgon2 stores an argon2id digest with its salt. Used for the
	// bootstrap administrator, where no client-side PAKE run is available.
	SchemeArgon2
)

// Credential is the per-user password verifier record. Verifier never
// contains recoverable plaintext. Version is a rotation counter checked on
// every write (optimistic concurrency). KeyRef names the server key that
// sealed the record.
type Credential struct {
	UserID    string
	Scheme    CredentialScheme
	Verifier  []byte
	KeyRef    string
	Version   int64
	UpdatedAt time.Time
}

// PendingRegistration is an in-progress registration: a credential only
// becomes live when the pending token is committed before its expiry.
type PendingRegistration struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}
