// ABOUTME: HTTP middleware for JWT authentication on the streamable MCP endpoint
// ABOUTME: Extracts the bearer token from the Authorization header and adds the subject to context

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// verifyErrorMessage maps verification failures onto client-facing text.
func verifyErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return "token expired"
	case errors.Is(err, ErrRevokedToken):
		return "token revoked"
	case errors.Is(err, ErrWrongTokenType):
		return "access token required"
	default:
		return "invalid token"
	}
}

// HTTPAuthMiddleware rejects requests without a valid access token and
// attaches an AuthContext to the ones it lets through.
func HTTPAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeUnauthorized(w, errMsg)
				return
			}

			subject, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeUnauthorized(w, verifyErrorMessage(err))
				return
			}

			authCtx := &AuthContext{Subject: subject, Token: token}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// OptionalAuthMiddleware attaches an AuthContext when a valid token is
// present and lets every request through.
func OptionalAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				next.ServeHTTP(w, r) // anonymous
				return
			}

			subject, err := verifier.Verify(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			authCtx := &AuthContext{Subject: subject, Token: token}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="snow-mcp"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
