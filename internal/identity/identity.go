// Package identity carries the authenticated caller and validates the
// caller-chosen identifiers that flow into storage keys.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

type contextKey int

const usernameKey contextKey = iota

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// WithUsername returns a context carrying the authenticated username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// ConversationID trims id and reports whether it is usable. Blank ids take fallback.
func ConversationID(id, fallback string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = fallback
	}
	return id, conversationIDPattern.MatchString(id)
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
