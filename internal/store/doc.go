// Package store provides persistent storage for snow-mcp using SQLite.
//
// # Tables
//
//   - issued_tokens: one row per JWT issued, keyed by jti. Revocation sets
//     revoked_at; exchanging a refresh token sets replaced_by to the jti of
//     its successor.
//   - audit_log: one row per MCP tool call with tool name, subject,
//     success flag, error text, duration and sanitized arguments.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/snow-mcp/snow-mcp.db")
//	defer s.Close()
//
// SQLiteStore satisfies auth.Ledger, so passing it to the token manager
// enables revocation and single-use refresh tokens.
//
// Timestamps are stored as RFC 3339 strings in UTC. List methods default
// to 100 rows and cap at 1000.
package store
