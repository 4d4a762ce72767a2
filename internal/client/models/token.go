// Package models defines the client-side data model of donorsync: the token
// pair and session status owned by the auth layer, and the domain entities
// exchanged with the blood-donation API.
package models

import "errors"

// ErrEmptyToken is returned when a pair is missing one of its tokens.
var ErrEmptyToken = errors.New("token pair must carry both tokens")

// Credentials are submitted to login and register. They are never persisted.
type Credentials struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// TokenPair is the access/refresh token pair issued by the auth endpoints.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Validate reports whether both tokens are present.
func (p TokenPair) Validate() error {
	if p.AccessToken == "" || p.RefreshToken == "" {
		return ErrEmptyToken
	}
	return nil
}
