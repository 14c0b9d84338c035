// Package userctx resolves the acting user for a request and carries it
// through the request context. The service sits behind the platform's
// gateway, which authenticates callers and forwards the identity in a
// trusted header.
package userctx

import (
	"context"
	"fmt"
	"regexp"
)

// maxUserIDLen bounds the accepted user id length.
const maxUserIDLen = 64

// userIDRe validates user id format: alphanumeric plus hyphen, underscore
// and dot, no leading or trailing separator.
var userIDRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)

// ctxKey is an unexported type used as the context key for UserContext.
type ctxKey struct{}

// UserContext carries the resolved caller identity through request context.
type UserContext struct {
	UserID string
}

// WithUser returns a new context with the given UserContext attached.
func WithUser(ctx context.Context, uc UserContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, uc)
}

// FromContext retrieves the UserContext from the context. Returns the zero
// value and false if no user is set.
func FromContext(ctx context.Context) (UserContext, bool) {
	uc, ok := ctx.Value(ctxKey{}).(UserContext)
	return uc, ok
}

// UserID is a convenience function that returns the user id from the
// context, or "" if no user context is set.
func UserID(ctx context.Context) string {
	uc, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return uc.UserID
}

// ValidateUserID checks that a user id is well-formed.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if len(id) > maxUserIDLen {
		return fmt.Errorf("user id %q exceeds maximum length of %d characters", id, maxUserIDLen)
	}
	if !userIDRe.MatchString(id) {
		return fmt.Errorf("user id %q is invalid: must consist of alphanumeric characters, hyphens, underscores or dots, and must start and end with an alphanumeric character", id)
	}
	return nil
}
