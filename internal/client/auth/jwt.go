// Package auth inspects the access tokens issued by the API. The client never
// holds the signing key, so claims are read without verifying the signature;
// the server remains the authority on validity.
package auth

import (
	"time"

	"github.com/dmitrijs2005/donorsync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the registered claims plus the user id the API puts in its tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"id,omitempty"`
}

// ParseClaims decodes the claims of a JWT without verifying it.
func ParseClaims(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// ExpiresAt returns the exp claim of token. ok is false for opaque tokens
// and JWTs without an expiry.
func ExpiresAt(token string) (exp time.Time, ok bool) {
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// IsExpired reports whether token carries an exp claim that is not after now.
// Opaque tokens never expire from the client's point of view.
func IsExpired(token string, now time.Time) bool {
	exp, ok := ExpiresAt(token)
	return ok && !now.Before(exp)
}
