// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, verification failures, and optional auth

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// httpTestSecret is a 32-byte secret for middleware tests.
var httpTestSecret = []byte("http-middleware-test-secret-32b!")

func newHTTPTestManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(ManagerConfig{Secret: httpTestSecret, AccessTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	return m
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	m := newHTTPTestManager(t)
	token, err := m.Generate(context.Background(), UserInfo{Username: "jdoe"}, TokenTypeAccess)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var gotAuthCtx *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	HTTPAuthMiddleware(m)(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if gotAuthCtx == nil {
		t.Fatal("expected AuthContext in context")
	}
	if gotAuthCtx.Subject != "jdoe" {
		t.Errorf("expected subject 'jdoe', got '%s'", gotAuthCtx.Subject)
	}
	if gotAuthCtx.Token != token {
		t.Error("expected raw token in AuthContext")
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	m := newHTTPTestManager(t)
	refresh, _ := m.Generate(context.Background(), UserInfo{Username: "jdoe"}, TokenTypeRefresh)

	expired, _ := func() (string, error) {
		past, _ := NewTokenManager(ManagerConfig{
			Secret:    httpTestSecret,
			AccessTTL: time.Minute,
			Now:       func() time.Time { return time.Now().Add(-time.Hour) },
		})
		return past.Generate(context.Background(), UserInfo{Username: "jdoe"}, TokenTypeAccess)
	}()

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "empty token"},
		{"garbage token", "Bearer nope", "invalid token"},
		{"refresh token", "Bearer " + refresh, "access token required"},
		{"expired token", "Bearer " + expired, "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			})

			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			HTTPAuthMiddleware(m)(handler).ServeHTTP(rec, req)

			if called {
				t.Error("handler should not be called")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Errorf("expected body to contain %q, got %q", tt.wantMsg, rec.Body.String())
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestOptionalAuthMiddleware_NoToken(t *testing.T) {
	m := newHTTPTestManager(t)

	var gotAuthCtx *AuthContext
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		gotAuthCtx = FromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	OptionalAuthMiddleware(m)(handler).ServeHTTP(rec, req)

	if !called {
		t.Fatal("handler should be called for anonymous requests")
	}
	if gotAuthCtx != nil {
		t.Error("expected no AuthContext")
	}
}

func TestOptionalAuthMiddleware_ValidAndInvalidToken(t *testing.T) {
	m := newHTTPTestManager(t)
	token, _ := m.Generate(context.Background(), UserInfo{Username: "jdoe"}, TokenTypeAccess)

	for _, tc := range []struct {
		header  string
		subject string
	}{
		{"Bearer " + token, "jdoe"},
		{"Bearer broken", ""},
	} {
		var subject string
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject = SubjectFromContext(r.Context())
		})

		req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
		req.Header.Set("Authorization", tc.header)
		OptionalAuthMiddleware(m)(handler).ServeHTTP(httptest.NewRecorder(), req)

		if subject != tc.subject {
			t.Errorf("subject = %q, want %q", subject, tc.subject)
		}
	}
}
