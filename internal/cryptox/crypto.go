// Package cryptox implements the argon2id password scheme used by
// credentials that cannot carry a PAKE verifier (the bootstrap
// administrator). The stored record is salt||digest; no plaintext or
// reversible form is ever kept.
package cryptox

import (
	"crypto/subtle"

	"golang.org/x/crypto/argon2"

	"github.com/lightldap/lightldap/internal/common"
)

const (
	saltSize   = 16
	digestSize = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// HashPassword derives an argon2id record from the password: a random salt
// followed by the derived digest.
func HashPassword(password []byte) ([]byte, error) {
	salt, err := common.RandomBytes(saltSize)
	if err != nil {
		return nil, err
	}
	digest := argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, digestSize)
	return append(salt, digest...), nil
}

// VerifyPassword re-derives the digest with the record's salt and compares
// in constant time.
func VerifyPassword(record, password []byte) bool {
	if len(record) != saltSize+digestSize {
		return false
	}
	salt, digest := record[:saltSize], record[saltSize:]
	candidate := argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, digestSize)
	return subtle.ConstantTimeCompare(digest, candidate) == 1
}
