// Package config handles configuration loading for snow-mcp.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file, then layered with
// environment variables, then filled with defaults and validated. When no
// file exists the server runs from the environment alone, which is how most
// desktop MCP clients launch it.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SNOW_MCP_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/snow-mcp/config.yaml
//  3. ~/.config/snow-mcp/config.yaml
//
// A .env file in the working directory is loaded first.
//
// # Environment Variables
//
// File values can reference the environment:
//
//	servicenow:
//	  password: "${SERVICENOW_PASSWORD}"
//
// The following variables override file values when set:
//
//	SERVICENOW_INSTANCE_URL   servicenow.instance_url
//	SERVICENOW_USERNAME       servicenow.username
//	SERVICENOW_PASSWORD       servicenow.password
//	SERVICENOW_AUTH_MODE      servicenow.auth_mode
//	SERVICENOW_CLIENT_SECRET  servicenow.client_secret
//	JWT_CLIENT_ID             servicenow.client_id (also the client_id claim)
//	JWT_SECRET_KEY            auth.jwt_secret (wins over JWT_CLIENT_SECRET)
//	JWT_CLIENT_SECRET         auth.jwt_secret
//	JWT_SECRET_REF            auth.jwt_secret_ref
//	JWT_ALGORITHM             auth.algorithm
//	JWT_EXPIRY_HOURS          auth.access_ttl in hours
//	JWT_REFRESH_EXPIRY_DAYS   auth.refresh_ttl in days
//	JWT_ISSUER                auth.issuer
//	JWT_AUDIENCE              auth.audience
//	SNOW_MCP_DB_PATH          database.path
//
// # Configuration Sections
//
//	server:
//	  transport: "stdio"         # stdio, http
//	  http_addr: "localhost:8080"
//	  require_auth: true         # bearer JWT on /mcp
//
//	servicenow:
//	  instance_url: "https://dev12345.service-now.com"
//	  username: "admin"
//	  password: "${SERVICENOW_PASSWORD}"
//	  auth_mode: "basic"         # basic, oauth
//	  timeout: "30s"
//	  allow_writes: false
//
//	auth:
//	  jwt_secret_ref: "projects/p/secrets/snow-mcp-jwt/versions/latest"
//	  algorithm: "HS256"
//	  access_ttl: "24h"
//	  refresh_ttl: "720h"
//
//	database:
//	  path: "~/.local/share/snow-mcp/snow-mcp.db"
//
//	cache:
//	  article_ttl: "5m"
//	  max_entries: 256
//
// Tailscale and logging sections follow the same shape as the gateway
// configs this project grew out of.
package config
