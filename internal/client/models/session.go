package models

// SessionStatus is the lifecycle state of the client session.
type SessionStatus string

const (
	StatusAnonymous      SessionStatus = "anonymous"
	StatusAuthenticating SessionStatus = "authenticating"
	StatusAuthenticated  SessionStatus = "authenticated"
	StatusExpired        SessionStatus = "expired"
)

func (s SessionStatus) String() string { return string(s) }

// IsAuthenticated reports whether protected resources may be used.
func (s SessionStatus) IsAuthenticated() bool { return s == StatusAuthenticated }

// Session is a snapshot of the session state. Epoch increases every time a
// session starts or ends, so work tagged with an older epoch can be discarded.
type Session struct {
	Status SessionStatus `json:"status"`
	Epoch  uint64        `json:"epoch"`
}
