// Package common contains shared constants and sentinel errors used across
// donorsync components.
package common

const (
	// AuthorizationHeaderName carries the bearer access token on outbound requests.
	AuthorizationHeaderName = "Authorization"

	// BearerScheme is the authorization scheme used for access tokens.
	BearerScheme = "Bearer"

	// RequestIDHeaderName correlates client log lines with server logs.
	RequestIDHeaderName = "X-Request-ID"

	// AccessTokenCookieName is the cookie the web dashboard keeps the access token in.
	AccessTokenCookieName = "accessToken"
)
