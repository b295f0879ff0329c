// Package auth verifies the JWT bearer tokens issued by the platform's
// account service. A token carries the holder's role and user id; the chat
// server never issues tokens itself.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/buildersync/chat-core/internal/identity"
)

// ErrUnauthorized is returned for missing, malformed, expired, or otherwise
// invalid tokens.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Verifier resolves a bearer token to the identity it was issued for.
type Verifier interface {
	Verify(token string) (identity.Identity, error)
}

// Claims is the JWT payload shared with the account service.
type Claims struct {
	Role   string `json:"role"`
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens against a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier for the given signing secret. If issuer
// is non-empty, tokens from other issuers are rejected.
func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer}
}

// Verify parses and validates the token, then maps its claims to an identity.
func (v *JWTVerifier) Verify(tokenString string) (identity.Identity, error) {
	if tokenString == "" {
		return identity.Identity{}, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return identity.Identity{}, fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}

	ident := identity.Identity{Role: identity.Role(claims.Role), ID: claims.UserID}
	if err := ident.Validate(); err != nil {
		return identity.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return ident, nil
}

// Sign issues a token for the given identity. Used by tests and by the local
// development seed tool; production tokens come from the account service.
func Sign(secret []byte, issuer string, ident identity.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role:   string(ident.Role),
		UserID: ident.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
