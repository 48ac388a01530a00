// ABOUTME: Store interfaces and data types for snow-mcp persistence
// ABOUTME: Defines the issued-token ledger, the tool-call audit log, and their interfaces

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrTokenConsumed is returned when a refresh token was already exchanged or revoked.
var ErrTokenConsumed = errors.New("token already used or revoked")

// IssuedToken is one row of the token ledger.
type IssuedToken struct {
	JTI         string
	Subject     string
	TokenType   string // "access" | "refresh"
	InstanceURL string
	ClientID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	ReplacedBy  string // jti of the refresh token that superseded this one
}

// Active reports whether the token is neither revoked, replaced nor expired at now.
func (t *IssuedToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && t.ReplacedBy == "" && now.Before(t.ExpiresAt)
}

// TokenFilter narrows ListTokens.
type TokenFilter struct {
	Subject    *string
	ActiveOnly bool
	Limit      int // default 100, max 1000
}

// TokenStore persists issued tokens.
type TokenStore interface {
	RecordToken(ctx context.Context, t *IssuedToken) error
	GetToken(ctx context.Context, jti string) (*IssuedToken, error)
	RevokeToken(ctx context.Context, jti string, at time.Time) error
	ConsumeRefreshToken(ctx context.Context, jti, replacedBy string, at time.Time) error
	ListTokens(ctx context.Context, f TokenFilter) ([]IssuedToken, error)
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// AuditStore records MCP tool invocations.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
	GetToolStats(ctx context.Context, f StatsFilter) ([]ToolStats, error)
}

// Store is everything the server persists.
type Store interface {
	TokenStore
	AuditStore
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
