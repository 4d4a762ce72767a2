// Package guard decides whether navigation to a screen path is allowed for a
// session status, or where to redirect instead.
package guard

import (
	"strings"

	"github.com/dmitrijs2005/donorsync/internal/client/models"
)

type Action int

const (
	Allow Action = iota
	Redirect
)

func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "allow"
}

// Decision is the outcome of Decide. Target is set only for Redirect.
type Decision struct {
	Action Action
	Target string
}

type Policy struct {
	SignInPath  string
	SignUpPath  string
	DefaultPath string
	// Protected paths require an authenticated session; subpaths are included.
	Protected []string
}

func DefaultPolicy() Policy {
	return Policy{
		SignInPath:  "/signin",
		SignUpPath:  "/signup",
		DefaultPath: "/researchdashboard/overview",
		Protected:   []string{"/researchdashboard", "/dashboard", "/profile"},
	}
}

// Decide is pure; expired and authenticating sessions count as signed out.
func (p Policy) Decide(status models.SessionStatus, path string) Decision {
	authed := status == models.StatusAuthenticated

	if !authed && p.IsProtected(path) {
		return Decision{Action: Redirect, Target: p.SignInPath}
	}
	if authed && p.IsAuthPath(path) {
		return Decision{Action: Redirect, Target: p.DefaultPath}
	}
	return Decision{Action: Allow}
}

func (p Policy) IsProtected(path string) bool {
	for _, root := range p.Protected {
		if under(path, root) {
			return true
		}
	}
	return false
}

func (p Policy) IsAuthPath(path string) bool {
	return under(path, p.SignInPath) || under(path, p.SignUpPath)
}

// Decide applies the default policy.
func Decide(status models.SessionStatus, path string) Decision {
	return DefaultPolicy().Decide(status, path)
}

func under(path, root string) bool {
	if root == "" {
		return false
	}
	path = clean(path)
	return path == root || strings.HasPrefix(path, root+"/")
}

// clean drops the query, fragment and trailing slashes.
func clean(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}
