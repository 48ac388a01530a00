// Package servicenow is a small client for the ServiceNow Table API.
//
// It covers what the MCP tools need: reading incidents, searching and
// fetching knowledge articles, creating incidents and probing the
// connection. Requests authenticate with basic auth or with an OAuth
// password grant against the instance's oauth_token.do endpoint.
//
// Responses are returned as generic records (map[string]any) so fields are
// passed through to tool callers unchanged.
//
// Lazy holds the single process-wide connection and creates it on first
// use. A failed creation is not remembered; the next call tries again.
package servicenow
