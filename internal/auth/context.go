// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the bearer token subject via context

package auth

import (
	"context"
)

// AuthContext holds the identity extracted from a verified bearer token.
type AuthContext struct {
	Subject string // ServiceNow username the token was issued to
	Token   string // raw bearer token, for tools that act on the caller's token
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// SubjectFromContext returns the authenticated subject or "" for anonymous calls.
func SubjectFromContext(ctx context.Context) string {
	if a := FromContext(ctx); a != nil {
		return a.Subject
	}
	return ""
}
