// ABOUTME: JWT lifecycle for ServiceNow MCP sessions: issue, validate, refresh, inspect, revoke
// ABOUTME: HMAC-signed tokens with an optional sqlite ledger for revocation and refresh rotation

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/2389/snow-mcp/internal/store"
)

// Token errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrMissingClaim   = errors.New("missing required claim")
	ErrWrongTokenType = errors.New("wrong token type")
	ErrRevokedToken   = errors.New("token has been revoked")
	ErrNoLedger       = errors.New("token ledger not configured")
)

// TokenType distinguishes short-lived access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the payload carried by every token.
type Claims struct {
	jwt.RegisteredClaims
	Type        TokenType `json:"type"`
	InstanceURL string    `json:"snow_instance,omitempty"`
	ClientID    string    `json:"client_id,omitempty"`
}

// UserInfo identifies who a token is issued to.
type UserInfo struct {
	Username    string
	InstanceURL string
	ClientID    string
}

// TokenPair is returned by initial issuance and by refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}

// TokenInfo is the introspection view of a token.
type TokenInfo struct {
	TokenID     string `json:"token_id,omitempty"`
	Username    string `json:"username"`
	TokenType   string `json:"token_type"`
	InstanceURL string `json:"instance_url"`
	IssuedAt    string `json:"issued_at,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	IsExpired   bool   `json:"is_expired"`
	Issuer      string `json:"issuer"`
	Audience    string `json:"audience"`
}

// TokenVerifier defines the interface for bearer token verification
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (subject string, err error)
}

// Ledger persists issued tokens so they can be revoked and refresh tokens
// can be used only once. *store.SQLiteStore implements it.
type Ledger interface {
	RecordToken(ctx context.Context, t *store.IssuedToken) error
	GetToken(ctx context.Context, jti string) (*store.IssuedToken, error)
	RevokeToken(ctx context.Context, jti string, at time.Time) error
	ConsumeRefreshToken(ctx context.Context, jti, replacedBy string, at time.Time) error
}

// ManagerConfig configures a TokenManager. Zero values take defaults.
type ManagerConfig struct {
	Secret     []byte
	Algorithm  string // HS256, HS384 or HS512
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	Ledger     Ledger           // optional
	Now        func() time.Time // optional clock
}

// TokenManager issues and checks tokens.
type TokenManager struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   string
	ledger     Ledger
	now        func() time.Time
}

// NewTokenManager validates cfg and returns a manager.
func NewTokenManager(cfg ManagerConfig) (*TokenManager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = "HS256"
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q (want HS256, HS384 or HS512)", alg)
	}

	m := &TokenManager{
		secret:     cfg.Secret,
		method:     method,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		ledger:     cfg.Ledger,
		now:        cfg.Now,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = 24 * time.Hour
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = 30 * 24 * time.Hour
	}
	if m.issuer == "" {
		m.issuer = "servicenow-mcp-server"
	}
	if m.audience == "" {
		m.audience = "servicenow-api"
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// AccessTTL returns the access token lifetime.
func (m *TokenManager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }

// HasLedger reports whether revocation and refresh rotation are available.
func (m *TokenManager) HasLedger() bool { return m.ledger != nil }

// Generate signs a token of the given type for user.
func (m *TokenManager) Generate(ctx context.Context, user UserInfo, tokenType TokenType) (string, error) {
	return m.generate(ctx, user, tokenType, uuid.NewString())
}

func (m *TokenManager) generate(ctx context.Context, user UserInfo, tokenType TokenType, jti string) (string, error) {
	if user.Username == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	ttl := m.accessTTL
	if tokenType == TokenTypeRefresh {
		ttl = m.refreshTTL
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    m.issuer,
			Subject:   user.Username,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:        tokenType,
		InstanceURL: user.InstanceURL,
		ClientID:    user.ClientID,
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	if m.ledger != nil {
		rec := &store.IssuedToken{
			JTI:         jti,
			Subject:     user.Username,
			TokenType:   string(tokenType),
			InstanceURL: user.InstanceURL,
			ClientID:    user.ClientID,
			IssuedAt:    claims.IssuedAt.Time,
			ExpiresAt:   claims.ExpiresAt.Time,
		}
		if err := m.ledger.RecordToken(ctx, rec); err != nil {
			return "", fmt.Errorf("recording token: %w", err)
		}
	}
	return signed, nil
}

// IssueInitial returns a fresh access/refresh pair for user.
func (m *TokenManager) IssueInitial(ctx context.Context, user UserInfo) (*TokenPair, error) {
	return m.issuePair(ctx, user, uuid.NewString(), uuid.NewString())
}

func (m *TokenManager) issuePair(ctx context.Context, user UserInfo, accessJTI, refreshJTI string) (*TokenPair, error) {
	access, err := m.generate(ctx, user, TokenTypeAccess, accessJTI)
	if err != nil {
		return nil, err
	}
	refresh, err := m.generate(ctx, user, TokenTypeRefresh, refreshJTI)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.accessTTL / time.Second),
	}, nil
}

func (m *TokenManager) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return m.secret, nil
}

// Validate verifies signature, algorithm, issuer, audience and expiry and
// returns the claims. A token is valid strictly before its exp second.
func (m *TokenManager) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	var claims Claims
	token, err := parser.ParseWithClaims(tokenString, &claims, m.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.Type != TokenTypeAccess && claims.Type != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: type", ErrMissingClaim)
	}

	if m.ledger != nil {
		if err := m.checkLedger(ctx, &claims); err != nil {
			return nil, err
		}
	}
	return &claims, nil
}

func (m *TokenManager) checkLedger(ctx context.Context, claims *Claims) error {
	if claims.ID == "" {
		return fmt.Errorf("%w: jti", ErrMissingClaim)
	}
	rec, err := m.ledger.GetToken(ctx, claims.ID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: unknown token id", ErrInvalidToken)
	}
	if err != nil {
		return fmt.Errorf("looking up token: %w", err)
	}
	if rec.RevokedAt != nil || rec.ReplacedBy != "" {
		return ErrRevokedToken
	}
	return nil
}

// Verify implements TokenVerifier. Only access tokens are accepted.
func (m *TokenManager) Verify(ctx context.Context, tokenString string) (string, error) {
	claims, err := m.Validate(ctx, tokenString)
	if err != nil {
		return "", err
	}
	if claims.Type != TokenTypeAccess {
		return "", fmt.Errorf("%w: access token required", ErrWrongTokenType)
	}
	return claims.Subject, nil
}

// Refresh exchanges a refresh token for a new pair. With a ledger the
// presented refresh token is consumed and cannot be used again.
func (m *TokenManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := m.Validate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: refresh token required", ErrWrongTokenType)
	}

	user := UserInfo{
		Username:    claims.Subject,
		InstanceURL: claims.InstanceURL,
		ClientID:    claims.ClientID,
	}
	accessJTI, refreshJTI := uuid.NewString(), uuid.NewString()

	// The new pair is recorded before the presented token is consumed, so a
	// failed insert leaves that token usable.
	pair, err := m.issuePair(ctx, user, accessJTI, refreshJTI)
	if err != nil {
		return nil, err
	}
	if m.ledger == nil {
		return pair, nil
	}

	err = m.ledger.ConsumeRefreshToken(ctx, claims.ID, refreshJTI, m.now())
	if err == nil {
		return pair, nil
	}
	m.discard(ctx, accessJTI, refreshJTI)
	if errors.Is(err, store.ErrTokenConsumed) {
		return nil, ErrRevokedToken
	}
	return nil, fmt.Errorf("consuming refresh token: %w", err)
}

// discard revokes tokens that were recorded but never handed out.
func (m *TokenManager) discard(ctx context.Context, jtis ...string) {
	ctx = context.WithoutCancel(ctx)
	at := m.now()
	for _, jti := range jtis {
		_ = m.ledger.RevokeToken(ctx, jti, at)
	}
}

// Inspect decodes a token without verifying its signature. It works on
// expired tokens; a token without exp is reported as expired.
func (m *TokenManager) Inspect(tokenString string) (*TokenInfo, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	info := &TokenInfo{
		TokenID:     claims.ID,
		Username:    claims.Subject,
		TokenType:   string(claims.Type),
		InstanceURL: claims.InstanceURL,
		Issuer:      claims.Issuer,
		Audience:    strings.Join(claims.Audience, ","),
		IsExpired:   true,
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.UTC().Format(time.RFC3339)
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.UTC().Format(time.RFC3339)
		info.IsExpired = !m.now().Before(claims.ExpiresAt.Time)
	}
	return info, nil
}

// Revoke marks a token as revoked in the ledger and returns its id. The
// signature must be valid; expiry is not checked.
func (m *TokenManager) Revoke(ctx context.Context, tokenString string) (string, error) {
	if m.ledger == nil {
		return "", ErrNoLedger
	}

	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, m.keyFunc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: jti", ErrMissingClaim)
	}

	err := m.ledger.RevokeToken(ctx, claims.ID, m.now())
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown token id", ErrInvalidToken)
	}
	if err != nil {
		return "", fmt.Errorf("revoking token: %w", err)
	}
	return claims.ID, nil
}
