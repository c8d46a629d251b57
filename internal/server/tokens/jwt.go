// Package tokens turns a successful authentication into signed, scoped,
// time-bounded credentials: a stateless access token and a rotating refresh
// token tracked by family and sequence number.
package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lightldap/lightldap/internal/common"
)

// Scope values carried in access tokens.
const (
	ScopeUser  = "user"
	ScopeAdmin = "admin"
)

// Claims are the access-token claims: the registered set plus the
// authorization scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

func generateAccessToken(subject, scope string, secret []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Scope: scope,
	})
	return token.SignedString(secret)
}

func parseAccessToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
