package logging

import (
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

// sensitiveKeys are attribute keys whose values must never be written out.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"access_token":  {},
	"accesstoken":   {},
	"refresh_token": {},
	"refreshtoken":  {},
	"authorization": {},
	"token":         {},
	"token_secret":  {},
}

func redact(a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, redactedValue)
	}
	if a.Value.Kind() == slog.KindString && strings.HasPrefix(a.Value.String(), "Bearer ") {
		return slog.String(a.Key, "Bearer "+redactedValue)
	}
	return a
}

func isSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}
