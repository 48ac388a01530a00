// ABOUTME: Resolves the JWT signing secret from config, GCP Secret Manager, or a random fallback
// ABOUTME: A generated secret only lives as long as the process and is logged as a warning

package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

// Source records where a resolved secret came from.
type Source string

const (
	SourceConfig        Source = "config"
	SourceSecretManager Source = "secret_manager"
	SourceGenerated     Source = "generated"
)

// ErrInvalidRef is returned for a reference that is not a secret version name.
var ErrInvalidRef = errors.New("invalid secret reference")

var refPattern = regexp.MustCompile(`^projects/[^/]+/secrets/[^/]+/versions/[^/]+$`)

// VersionAccessor is the subset of the Secret Manager client used here.
type VersionAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// Resolver turns the configured secret settings into signing key bytes.
type Resolver struct {
	// NewAccessor opens a Secret Manager client. Nil uses the real client.
	NewAccessor func(ctx context.Context) (VersionAccessor, func() error, error)
	Logger      *slog.Logger
}

// Resolve returns the secret and where it came from. A literal wins, then a
// Secret Manager reference, and with neither a random secret is generated.
func (r *Resolver) Resolve(ctx context.Context, literal, ref string) ([]byte, Source, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if literal != "" {
		return []byte(literal), SourceConfig, nil
	}

	if ref != "" {
		secret, err := r.access(ctx, ref)
		if err != nil {
			return nil, "", err
		}
		logger.Info("loaded JWT secret from secret manager", "ref", ref)
		return secret, SourceSecretManager, nil
	}

	secret, err := Generate()
	if err != nil {
		return nil, "", err
	}
	logger.Warn("no JWT secret configured, generated a random one; tokens will not survive a restart",
		"hint", "set auth.jwt_secret, auth.jwt_secret_ref or JWT_SECRET_KEY")
	return []byte(secret), SourceGenerated, nil
}

func (r *Resolver) access(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if !refPattern.MatchString(ref) {
		return nil, fmt.Errorf("%w: %q (want projects/*/secrets/*/versions/*)", ErrInvalidRef, ref)
	}

	open := r.NewAccessor
	if open == nil {
		open = newSecretManagerAccessor
	}
	client, closeFn, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating secret manager client: %w", err)
	}
	defer func() { _ = closeFn() }()

	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: ref})
	if err != nil {
		return nil, fmt.Errorf("accessing secret version: %w", err)
	}

	data := []byte(strings.TrimSpace(string(resp.GetPayload().GetData())))
	if len(data) == 0 {
		return nil, fmt.Errorf("secret %s is empty", ref)
	}
	return data, nil
}

func newSecretManagerAccessor(ctx context.Context) (VersionAccessor, func() error, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// Generate returns 32 random bytes encoded as unpadded URL-safe base64.
func Generate() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
