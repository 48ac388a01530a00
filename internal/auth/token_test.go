// ABOUTME: Unit tests for the JWT token lifecycle
// ABOUTME: Covers round-trips, expiry boundaries, tampering, refresh rotation, introspection and revocation

package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/snow-mcp/internal/store"
)

var testSecret = []byte("token-manager-test-secret-32-byt")

// testClock is a settable clock for expiry tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memLedger is an in-memory Ledger.
type memLedger struct {
	mu     sync.Mutex
	tokens map[string]*store.IssuedToken
}

func newMemLedger() *memLedger {
	return &memLedger{tokens: make(map[string]*store.IssuedToken)}
}

func (l *memLedger) RecordToken(_ context.Context, t *store.IssuedToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *t
	l.tokens[t.JTI] = &cp
	return nil
}

func (l *memLedger) GetToken(_ context.Context, jti string) (*store.IssuedToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[jti]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (l *memLedger) RevokeToken(_ context.Context, jti string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[jti]
	if !ok {
		return store.ErrNotFound
	}
	t.RevokedAt = &at
	return nil
}

func (l *memLedger) ConsumeRefreshToken(_ context.Context, jti, replacedBy string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[jti]
	if !ok || t.ReplacedBy != "" || t.RevokedAt != nil {
		return store.ErrTokenConsumed
	}
	t.ReplacedBy = replacedBy
	return nil
}

// flakyLedger fails on demand.
type flakyLedger struct {
	*memLedger
	recordErr  error
	consumeErr error
}

func (l *flakyLedger) RecordToken(ctx context.Context, t *store.IssuedToken) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	return l.memLedger.RecordToken(ctx, t)
}

func (l *flakyLedger) ConsumeRefreshToken(ctx context.Context, jti, replacedBy string, at time.Time) error {
	if l.consumeErr != nil {
		return l.consumeErr
	}
	return l.memLedger.ConsumeRefreshToken(ctx, jti, replacedBy, at)
}

func newTestManager(t *testing.T, clock *testClock, ledger Ledger) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(ManagerConfig{
		Secret:     testSecret,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		Ledger:     ledger,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return m
}

var testUser = UserInfo{
	Username:    "jdoe",
	InstanceURL: "https://dev12345.service-now.com",
	ClientID:    "client-abc",
}

func TestNewTokenManager_Defaults(t *testing.T) {
	m, err := NewTokenManager(ManagerConfig{Secret: testSecret})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, m.AccessTTL())
	assert.Equal(t, 30*24*time.Hour, m.RefreshTTL())
	assert.False(t, m.HasLedger())
}

func TestNewTokenManager_Rejects(t *testing.T) {
	_, err := NewTokenManager(ManagerConfig{})
	require.Error(t, err)

	for _, alg := range []string{"RS256", "none", "ES256", "bogus"} {
		_, err := NewTokenManager(ManagerConfig{Secret: testSecret, Algorithm: alg})
		assert.Error(t, err, alg)
	}
}

func TestGenerateValidate_RoundTrip(t *testing.T) {
	for _, alg := range []string{"HS256", "HS384", "HS512"} {
		t.Run(alg, func(t *testing.T) {
			clock := newTestClock()
			m, err := NewTokenManager(ManagerConfig{Secret: testSecret, Algorithm: alg, Now: clock.Now})
			require.NoError(t, err)

			token, err := m.Generate(context.Background(), testUser, TokenTypeAccess)
			require.NoError(t, err)

			claims, err := m.Validate(context.Background(), token)
			require.NoError(t, err)
			assert.Equal(t, "jdoe", claims.Subject)
			assert.Equal(t, TokenTypeAccess, claims.Type)
			assert.Equal(t, testUser.InstanceURL, claims.InstanceURL)
			assert.Equal(t, testUser.ClientID, claims.ClientID)
			assert.Equal(t, "servicenow-mcp-server", claims.Issuer)
			assert.Equal(t, jwt.ClaimStrings{"servicenow-api"}, claims.Audience)
			assert.NotEmpty(t, claims.ID)
			assert.Equal(t, clock.Now(), claims.IssuedAt.Time.UTC())
			assert.Equal(t, clock.Now().Add(24*time.Hour), claims.ExpiresAt.Time.UTC())
		})
	}
}

func TestGenerate_RefreshUsesRefreshTTL(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock, nil)

	token, err := m.Generate(context.Background(), testUser, TokenTypeRefresh)
	require.NoError(t, err)

	claims, err := m.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, claims.Type)
	assert.Equal(t, clock.Now().Add(24*time.Hour), claims.ExpiresAt.Time.UTC())
}

func TestGenerate_RequiresUsername(t *testing.T) {
	m := newTestManager(t, newTestClock(), nil)
	_, err := m.Generate(context.Background(), UserInfo{}, TokenTypeAccess)
	require.ErrorIs(t, err, ErrMissingClaim)
}

func TestValidate_ExpiryBoundary(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock, nil)

	token, err := m.Generate(context.Background(), testUser, TokenTypeAccess)
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	_, err = m.Validate(context.Background(), token)
	require.NoError(t, err, "one second before exp is still valid")

	clock.Advance(time.Second)
	_, err = m.Validate(context.Background(), token)
	require.ErrorIs(t, err, ErrExpiredToken, "exp itself is expired")

	clock.Advance(time.Hour)
	_, err = m.Validate(context.Background(), token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidate_Rejects(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock, nil)
	ctx := context.Background()

	good, err := m.Generate(ctx, testUser, TokenTypeAccess)
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	baseClaims := func() Claims {
		return Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "id-1",
				Issuer:    "servicenow-mcp-server",
				Subject:   "jdoe",
				Audience:  jwt.ClaimStrings{"servicenow-api"},
				IssuedAt:  jwt.NewNumericDate(clock.Now()),
				ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
			},
			Type: TokenTypeAccess,
		}
	}

	wrongIssuer := baseClaims()
	wrongIssuer.Issuer = "someone-else"
	wrongAudience := baseClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other-api"}
	noExp := baseClaims()
	noExp.ExpiresAt = nil
	noSub := baseClaims()
	noSub.Subject = ""
	noType := baseClaims()
	noType.Type = ""

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"malformed", "header.payload.signature"},
		{"tampered signature", good[:len(good)-2] + "xx"},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("another-secret-another-secret-00"), baseClaims())},
		{"different hmac size", sign(jwt.SigningMethodHS512, testSecret, baseClaims())},
		{"alg none", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, baseClaims())},
		{"wrong issuer", sign(jwt.SigningMethodHS256, testSecret, wrongIssuer)},
		{"wrong audience", sign(jwt.SigningMethodHS256, testSecret, wrongAudience)},
		{"missing exp", sign(jwt.SigningMethodHS256, testSecret, noExp)},
		{"missing sub", sign(jwt.SigningMethodHS256, testSecret, noSub)},
		{"missing type", sign(jwt.SigningMethodHS256, testSecret, noType)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(ctx, tt.token)
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrExpiredToken)
		})
	}
}

func TestVerify_AccessOnly(t *testing.T) {
	m := newTestManager(t, newTestClock(), nil)
	ctx := context.Background()

	access, err := m.Generate(ctx, testUser, TokenTypeAccess)
	require.NoError(t, err)
	refresh, err := m.Generate(ctx, testUser, TokenTypeRefresh)
	require.NoError(t, err)

	sub, err := m.Verify(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", sub)

	_, err = m.Verify(ctx, refresh)
	require.ErrorIs(t, err, ErrWrongTokenType)
}

func TestIssueInitial(t *testing.T) {
	m := newTestManager(t, newTestClock(), nil)
	ctx := context.Background()

	pair, err := m.IssueInitial(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(3600), pair.ExpiresIn)

	access, err := m.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeAccess, access.Type)

	refresh, err := m.Validate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, refresh.Type)
	assert.NotEqual(t, access.ID, refresh.ID)
}

func TestRefresh_Stateless(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock, nil)
	ctx := context.Background()

	pair, err := m.IssueInitial(ctx, testUser)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour) // access token now expired, refresh still good
	_, err = m.Validate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrExpiredToken)

	next, err := m.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	claims, err := m.Validate(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", claims.Subject)
	assert.Equal(t, testUser.InstanceURL, claims.InstanceURL)
	assert.Equal(t, testUser.ClientID, claims.ClientID)

	// Without a ledger the old refresh token keeps working.
	_, err = m.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	m := newTestManager(t, newTestClock(), nil)
	pair, err := m.IssueInitial(context.Background(), testUser)
	require.NoError(t, err)

	_, err = m.Refresh(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, ErrWrongTokenType)
}

func TestRefresh_ExpiredRefreshToken(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock, nil)
	pair, err := m.IssueInitial(context.Background(), testUser)
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	_, err = m.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestRefresh_RotationWithLedger(t *testing.T) {
	ledger := newMemLedger()
	m := newTestManager(t, newTestClock(), ledger)
	ctx := context.Background()

	pair, err := m.IssueInitial(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, ledger.tokens, 2)

	next, err := m.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Len(t, ledger.tokens, 4)

	_, err = m.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRevokedToken, "a refresh token works once")

	_, err = m.Refresh(ctx, next.RefreshToken)
	require.NoError(t, err, "the rotated refresh token works")
}

func TestRefresh_FailedInsertKeepsRefreshToken(t *testing.T) {
	ledger := &flakyLedger{memLedger: newMemLedger()}
	m := newTestManager(t, newTestClock(), ledger)
	ctx := context.Background()

	pair, err := m.IssueInitial(ctx, testUser)
	require.NoError(t, err)

	ledger.recordErr = errors.New("disk I/O error")
	_, err = m.Refresh(ctx, pair.RefreshToken)
	require.ErrorContains(t, err, "disk I/O error")

	ledger.recordErr = nil
	next, err := m.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err, "the refresh token survives a failed rotation")

	_, err = m.Validate(ctx, next.AccessToken)
	require.NoError(t, err)
}

func TestRefresh_LostRaceRevokesNewPair(t *testing.T) {
	ledger := &flakyLedger{memLedger: newMemLedger()}
	m := newTestManager(t, newTestClock(), ledger)
	ctx := context.Background()

	pair, err := m.IssueInitial(ctx, testUser)
	require.NoError(t, err)
	initial := make(map[string]bool)
	for jti := range ledger.tokens {
		initial[jti] = true
	}

	ledger.consumeErr = store.ErrTokenConsumed
	_, err = m.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRevokedToken)

	require.Len(t, ledger.tokens, 4)
	for jti, tok := range ledger.tokens {
		if initial[jti] {
			assert.Nil(t, tok.RevokedAt)
			continue
		}
		assert.NotNil(t, tok.RevokedAt, "unreturned token %s must be revoked", jti)
	}
}

func TestValidate_UnknownTokenWithLedger(t *testing.T) {
	clock := newTestClock()
	stateless := newTestManager(t, clock, nil)
	token, err := stateless.Generate(context.Background(), testUser, TokenTypeAccess)
	require.NoError(t, err)

	withLedger := newTestManager(t, clock, newMemLedger())
	_, err = withLedger.Validate(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke(t *testing.T) {
	ledger := newMemLedger()
	m := newTestManager(t, newTestClock(), ledger)
	ctx := context.Background()

	token, err := m.Generate(ctx, testUser, TokenTypeAccess)
	require.NoError(t, err)

	jti, err := m.Revoke(ctx, token)
	require.NoError(t, err)
	assert.NotEmpty(t, jti)

	_, err = m.Validate(ctx, token)
	require.ErrorIs(t, err, ErrRevokedToken)

	_, err = m.Revoke(ctx, "garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke_NoLedger(t *testing.T) {
	m := newTestManager(t, newTestClock(), nil)
	token, err := m.Generate(context.Background(), testUser, TokenTypeAccess)
	require.NoError(t, err)

	_, err = m.Revoke(context.Background(), token)
	require.ErrorIs(t, err, ErrNoLedger)
}

func TestInspect(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock, nil)

	token, err := m.Generate(context.Background(), testUser, TokenTypeRefresh)
	require.NoError(t, err)

	info, err := m.Inspect(token)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", info.Username)
	assert.Equal(t, "refresh", info.TokenType)
	assert.Equal(t, testUser.InstanceURL, info.InstanceURL)
	assert.Equal(t, "2026-03-01T12:00:00Z", info.IssuedAt)
	assert.Equal(t, "2026-03-02T12:00:00Z", info.ExpiresAt)
	assert.False(t, info.IsExpired)
	assert.Equal(t, "servicenow-mcp-server", info.Issuer)
	assert.Equal(t, "servicenow-api", info.Audience)

	clock.Advance(48 * time.Hour)
	info, err = m.Inspect(token)
	require.NoError(t, err, "inspection works on expired tokens")
	assert.True(t, info.IsExpired)
}

func TestInspect_ForeignSignatureAndMissingExp(t *testing.T) {
	m := newTestManager(t, newTestClock(), nil)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "someone"},
		Type:             TokenTypeAccess,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-our-secret"))
	require.NoError(t, err)

	info, err := m.Inspect(token)
	require.NoError(t, err)
	assert.Equal(t, "someone", info.Username)
	assert.Empty(t, info.ExpiresAt)
	assert.True(t, info.IsExpired, "no exp counts as expired")

	_, err = m.Inspect("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_WithSQLiteLedger(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m := newTestManager(t, newTestClock(), s)
	ctx := context.Background()

	pair, err := m.IssueInitial(ctx, testUser)
	require.NoError(t, err)

	next, err := m.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = m.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRevokedToken)

	_, err = m.Revoke(ctx, next.AccessToken)
	require.NoError(t, err)
	_, err = m.Verify(ctx, next.AccessToken)
	require.ErrorIs(t, err, ErrRevokedToken)
}
