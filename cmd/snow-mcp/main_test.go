// ABOUTME: Tests for CLI helpers: config paths, logger, init rendering and wiring
// ABOUTME: Token and audit commands run against a temp sqlite database

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/snow-mcp/internal/auth"
	"github.com/2389/snow-mcp/internal/config"
	"github.com/2389/snow-mcp/internal/secrets"
	"github.com/2389/snow-mcp/internal/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testApp writes a config into a temp dir and opens the app from it.
func testApp(t *testing.T, withDB bool) *app {
	t.Helper()
	dir := t.TempDir()

	answers := initAnswers{
		InstanceURL: "https://example.service-now.com",
		Username:    "admin",
		JWTSecret:   "test-signing-secret-0123456789abcdef",
	}
	if withDB {
		answers.DBPath = filepath.Join(dir, "snow.db")
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(renderConfig(answers)), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	a, err := openApp(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SNOW_MCP_CONFIG", "/etc/snow.yaml")
	assert.Equal(t, "/etc/snow.yaml", getConfigPath())

	t.Setenv("SNOW_MCP_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "snow-mcp", "config.yaml"), getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "snow-mcp"), getDataPath())
}

func TestSetupLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.With("component", "tools").WithGroup("req").Warn("shown", "tool", "get_incidents")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN shown")
	assert.Contains(t, out, "component=tools")
	assert.Contains(t, out, "req.tool=get_incidents")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "n", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "DEBUG", rec["level"])
}

func TestRenderConfig_RoundTrips(t *testing.T) {
	t.Setenv("SERVICENOW_PASSWORD", "hunter2")
	path := filepath.Join(t.TempDir(), "config.yaml")

	content := renderConfig(initAnswers{
		InstanceURL:      "https://acme.service-now.com",
		Username:         "svc",
		AuthMode:         "basic",
		AllowWrites:      true,
		Transport:        "http",
		HTTPAddr:         "127.0.0.1:9000",
		RequireAuth:      true,
		DBPath:           "/tmp/snow.db",
		JWTSecret:        "s3cret",
		TailscaleEnabled: true,
		TSHostname:       "snow",
		TSFunnel:         true,
	})
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Server.Transport)
	assert.True(t, cfg.Server.RequireAuth)
	assert.Equal(t, "https://acme.service-now.com", cfg.ServiceNow.InstanceURL)
	assert.Equal(t, "hunter2", cfg.ServiceNow.Password)
	assert.True(t, cfg.ServiceNow.AllowWrites)
	assert.Equal(t, 30*time.Second, cfg.ServiceNow.Timeout)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.AccessTTL)
	assert.Equal(t, 720*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, "/tmp/snow.db", cfg.Database.Path)
	assert.True(t, cfg.Tailscale.Funnel)
	assert.Equal(t, "snow", cfg.Tailscale.Hostname)
}

func TestInitConfig_WritesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	path := filepath.Join(dir, "cfg", "config.yaml")
	dbPath := filepath.Join(dir, "data", "snow.db")

	input := strings.Join([]string{
		path,                           // config path
		"https://acme.service-now.com", // instance
		"svc",                          // username
		"",                             // auth mode (basic)
		"",                             // allow writes (no)
		"",                             // transport (stdio)
		dbPath,                         // database
		"debug",                        // log level
		"json",                         // log format
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, initConfig(bufio.NewReader(strings.NewReader(input)), &out))
	assert.Contains(t, out.String(), "Config written to "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "svc", cfg.ServiceNow.Username)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Auth.JWTSecret)

	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err)
}

func TestInitConfig_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0600))

	var out bytes.Buffer
	input := path + "\nno\n"
	require.NoError(t, initConfig(bufio.NewReader(strings.NewReader(input)), &out))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	assert.Contains(t, out.String(), "Aborted.")
}

func TestOpenApp(t *testing.T) {
	a := testApp(t, true)
	assert.Equal(t, secrets.SourceConfig, a.secretSource)
	assert.NotNil(t, a.store)
	assert.True(t, a.tokens.HasLedger())

	srv, err := a.mcpServer(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, srv.HTTPHandler())
}

func TestOpenApp_NoDatabase(t *testing.T) {
	a := testApp(t, false)
	assert.Nil(t, a.store)
	assert.False(t, a.tokens.HasLedger())

	var out bytes.Buffer
	err := tokenCommand(context.Background(), a, "list", nil, &out)
	assert.ErrorContains(t, err, "needs a database")
}

func issuePair(t *testing.T, a *app, user string) *auth.TokenPair {
	t.Helper()
	pair, err := a.tokens.IssueInitial(context.Background(), auth.UserInfo{
		Username:    user,
		InstanceURL: a.cfg.ServiceNow.InstanceURL,
	})
	require.NoError(t, err)
	return pair
}

func TestTokenCommand_Issue(t *testing.T) {
	a := testApp(t, true)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, tokenCommand(ctx, a, "issue", []string{"--user", "alice"}, &out))
	assert.Contains(t, out.String(), "Tokens issued")

	tokens, err := a.store.ListTokens(ctx, store.TokenFilter{})
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	for _, tok := range tokens {
		assert.Equal(t, "alice", tok.Subject)
		assert.Equal(t, "https://example.service-now.com", tok.InstanceURL)
	}

	err = tokenCommand(ctx, a, "issue", nil, &out)
	assert.ErrorContains(t, err, "--user flag is required")

	err = tokenCommand(ctx, a, "issue", []string{"--bogus"}, &out)
	assert.ErrorContains(t, err, "unknown flag")
}

func TestTokenCommand_ValidateInspectRevoke(t *testing.T) {
	a := testApp(t, true)
	ctx := context.Background()
	pair := issuePair(t, a, "bob")

	var out bytes.Buffer
	require.NoError(t, tokenCommand(ctx, a, "validate", []string{pair.AccessToken}, &out))
	assert.Contains(t, out.String(), "Subject:   bob")

	out.Reset()
	require.NoError(t, tokenCommand(ctx, a, "inspect", []string{pair.RefreshToken}, &out))
	var info auth.TokenInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, "bob", info.Username)
	assert.Equal(t, "refresh", info.TokenType)
	assert.False(t, info.IsExpired)

	out.Reset()
	require.NoError(t, tokenCommand(ctx, a, "revoke", []string{pair.AccessToken}, &out))
	assert.Contains(t, out.String(), "revoked")

	err := tokenCommand(ctx, a, "validate", []string{pair.AccessToken}, &out)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)

	err = tokenCommand(ctx, a, "validate", nil, &out)
	assert.ErrorContains(t, err, "usage:")
}

func TestTokenCommand_RefreshRotates(t *testing.T) {
	a := testApp(t, true)
	ctx := context.Background()
	pair := issuePair(t, a, "carol")

	var out bytes.Buffer
	require.NoError(t, tokenCommand(ctx, a, "refresh", []string{pair.RefreshToken}, &out))
	assert.Contains(t, out.String(), "Tokens refreshed")

	err := tokenCommand(ctx, a, "refresh", []string{pair.RefreshToken}, &out)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)

	err = tokenCommand(ctx, a, "refresh", []string{pair.AccessToken}, &out)
	assert.ErrorIs(t, err, auth.ErrWrongTokenType)
}

func TestTokenCommand_ListAndPrune(t *testing.T) {
	a := testApp(t, true)
	ctx := context.Background()
	issuePair(t, a, "dave")
	issuePair(t, a, "erin")

	var out bytes.Buffer
	require.NoError(t, tokenCommand(ctx, a, "list", []string{"--user", "dave", "--active"}, &out))
	assert.Contains(t, out.String(), "dave")
	assert.NotContains(t, out.String(), "erin")
	assert.Contains(t, out.String(), "active")

	out.Reset()
	require.NoError(t, tokenCommand(ctx, a, "prune", nil, &out))
	assert.Contains(t, out.String(), "Removed 0 expired token(s)")
}

func TestTokenStatus(t *testing.T) {
	now := time.Now()
	revoked := now.Add(-time.Minute)

	tests := []struct {
		name string
		tok  store.IssuedToken
		want string
	}{
		{"active", store.IssuedToken{ExpiresAt: now.Add(time.Hour)}, "active"},
		{"expired at exp", store.IssuedToken{ExpiresAt: now}, "expired"},
		{"revoked", store.IssuedToken{ExpiresAt: now.Add(time.Hour), RevokedAt: &revoked}, "revoked"},
		{"rotated", store.IssuedToken{ExpiresAt: now.Add(time.Hour), ReplacedBy: "next"}, "rotated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenStatus(&tt.tok, now))
		})
	}
}

func TestParseAuditArgs(t *testing.T) {
	opts, err := parseAuditArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, 20, opts.limit)
	assert.False(t, opts.stats)

	opts, err = parseAuditArgs([]string{"--limit", "5", "--stats", "--tool", "get_incidents", "--failures", "--since", "1h"})
	require.NoError(t, err)
	assert.Equal(t, 5, opts.limit)
	assert.True(t, opts.stats)
	assert.Equal(t, "get_incidents", opts.tool)
	assert.True(t, opts.failureOnly)
	assert.Equal(t, time.Hour, opts.since)

	_, err = parseAuditArgs([]string{"--limit", "zero"})
	assert.Error(t, err)
	_, err = parseAuditArgs([]string{"--limit"})
	assert.Error(t, err)
	_, err = parseAuditArgs([]string{"--verbose"})
	assert.Error(t, err)
}

func TestPrintAuditLogAndStats(t *testing.T) {
	a := testApp(t, true)
	ctx := context.Background()
	now := time.Now()

	entries := []*store.AuditEntry{
		{Tool: "get_incidents", Subject: "alice", Success: true, DurationMS: 40, Timestamp: now.Add(-2 * time.Minute)},
		{Tool: "get_incidents", Subject: "alice", Success: false, Error: "Failed to retrieve incidents", DurationMS: 60, Timestamp: now.Add(-time.Minute)},
		{Tool: "search_knowledge_base", Success: true, DurationMS: 10, Timestamp: now},
	}
	for _, e := range entries {
		require.NoError(t, a.store.AppendAuditLog(ctx, e))
	}

	var out bytes.Buffer
	require.NoError(t, printAuditLog(ctx, a.store, auditOptions{limit: 10, failureOnly: true}, now, &out))
	assert.Contains(t, out.String(), "Failed to retrieve incidents")
	assert.NotContains(t, out.String(), "search_knowledge_base")

	out.Reset()
	require.NoError(t, printToolStats(ctx, a.store, auditOptions{}, now, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4) // header, rule, two tools
	assert.Contains(t, lines[2], "get_incidents")
	assert.Contains(t, lines[2], "50ms")

	empty := testApp(t, true)
	out.Reset()
	require.NoError(t, printAuditLog(ctx, empty.store, auditOptions{limit: 10}, now, &out))
	assert.Contains(t, out.String(), "No tool calls recorded")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}
