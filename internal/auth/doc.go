// Package auth provides the JWT lifecycle for snow-mcp.
//
// # Tokens
//
// Tokens are HMAC-signed (HS256 by default) and carry:
//
//   - iss, aud: configured issuer and audience
//   - sub: the ServiceNow username
//   - iat, exp: issue and expiry times in whole seconds
//   - jti: a UUID per token
//   - type: "access" or "refresh"
//   - snow_instance, client_id: the ServiceNow instance and OAuth client
//
// Access tokens default to 24 hours, refresh tokens to 30 days.
//
// # Operations
//
//	m, _ := auth.NewTokenManager(auth.ManagerConfig{Secret: secret})
//	pair, _ := m.IssueInitial(ctx, auth.UserInfo{Username: "admin"})
//	claims, _ := m.Validate(ctx, pair.AccessToken)
//	next, _ := m.Refresh(ctx, pair.RefreshToken)
//	info, _ := m.Inspect(pair.AccessToken) // no signature check
//
// # Ledger
//
// With a Ledger (the sqlite store) every issued token is recorded. Validate
// then rejects revoked or unknown ids, Revoke becomes available, and a
// refresh token is consumed on use so a replayed refresh token fails.
//
// # HTTP
//
// HTTPAuthMiddleware guards the streamable MCP endpoint with a bearer
// access token and stores the subject in the request context.
package auth
