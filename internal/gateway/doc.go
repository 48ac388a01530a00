// Package gateway serves the MCP server over HTTP.
//
// # Routes
//
//   - GET /health - Liveness check, always "OK"
//   - GET /health/ready - Probes ServiceNow, 503 when unreachable
//   - /mcp - Streamable MCP transport
//
// When server.require_auth is set the /mcp route demands a bearer access
// token issued by this server. Otherwise a valid token, if presented, is
// still attached to the request so tool calls are attributed to its subject.
//
// # Listeners
//
// The gateway listens on server.http_addr, or joins a tailnet through tsnet
// when tailscale.enabled is set. On a tailnet it serves plain HTTP on :80,
// HTTPS with Tailscale certificates on :443, or public HTTPS via Funnel.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, gateway.Deps{MCP: srv.HTTPHandler()}, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run shuts down with a 5 second grace period once the context ends.
package gateway
