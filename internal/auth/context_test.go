// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests context propagation helpers

package auth

import (
	"context"
	"testing"
)

func TestWithAuth_FromContext(t *testing.T) {
	ctx := WithAuth(context.Background(), &AuthContext{Subject: "jdoe", Token: "tok"})

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext() = nil, want AuthContext")
	}
	if got.Subject != "jdoe" {
		t.Errorf("Subject = %q, want %q", got.Subject, "jdoe")
	}
	if SubjectFromContext(ctx) != "jdoe" {
		t.Errorf("SubjectFromContext() = %q, want %q", SubjectFromContext(ctx), "jdoe")
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
	if got := SubjectFromContext(context.Background()); got != "" {
		t.Errorf("SubjectFromContext() = %q, want empty", got)
	}
}

func TestFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), authContextKey{}, "not an auth context")
	if got := FromContext(ctx); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}
