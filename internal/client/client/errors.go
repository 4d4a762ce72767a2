package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Failure kinds of an executed request. Match them with errors.Is.
var (
	ErrNetwork         = errors.New("network error")
	ErrServer          = errors.New("server error")
	ErrClient          = errors.New("client error")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrSessionExpired  = errors.New("session expired")
)

// HTTPError describes a failed request. Kind is one of the sentinels above;
// Err is the underlying cause (transport error, refresh failure) if any.
type HTTPError struct {
	Kind       error
	StatusCode int
	Body       []byte
	Method     string
	URL        string
	Err        error
}

func (e *HTTPError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", e.Method, e.URL, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if msg := e.Message(); msg != "" {
		fmt.Fprintf(&b, ": %s", msg)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *HTTPError) Is(target error) bool { return target == e.Kind }

func (e *HTTPError) Unwrap() error { return e.Err }

// Message extracts a human readable reason from a JSON error body of the form
// {"message": "..."} or {"error": "..."} / {"error": {"message": "..."}}.
func (e *HTTPError) Message() string {
	if len(e.Body) == 0 {
		return ""
	}

	var body struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	if len(body.Error) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(body.Error, &s); err == nil {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body.Error, &nested); err == nil {
		return nested.Message
	}
	return ""
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

func classify(status int) error {
	switch {
	case status == 401:
		return ErrUnauthenticated
	case status >= 500:
		return ErrServer
	case status >= 400:
		return ErrClient
	}
	return nil
}
