// ABOUTME: Tests for MCP server assembly over in-memory and Streamable HTTP transports.
// ABOUTME: Verifies tool listing and that HTTP sessions carry the authenticated subject.

package mcp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/snow-mcp/internal/auth"
	"github.com/2389/snow-mcp/internal/servicenow"
	"github.com/2389/snow-mcp/internal/store"
	"github.com/2389/snow-mcp/internal/tools"
)

// memAudit collects audit entries in memory.
type memAudit struct {
	mu      sync.Mutex
	entries []store.AuditEntry
}

func (m *memAudit) AppendAuditLog(_ context.Context, e *store.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAudit) ListAuditLog(context.Context, store.AuditFilter) ([]store.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.AuditEntry(nil), m.entries...), nil
}

func (m *memAudit) GetToolStats(context.Context, store.StatsFilter) ([]store.ToolStats, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *memAudit) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tm, err := auth.NewTokenManager(auth.ManagerConfig{Secret: []byte("mcp-server-test-secret-32-bytes!")})
	require.NoError(t, err)

	audit := &memAudit{}
	ts, err := tools.New(tools.Config{
		ServiceNow: servicenow.NewLazy(servicenow.Config{}, logger),
		Tokens:     tm,
		Audit:      audit,
		Logger:     logger,
	})
	require.NoError(t, err)

	srv, err := NewServer(Config{Tools: ts, Version: "test", Logger: logger})
	require.NoError(t, err)
	return srv, audit
}

func TestNewServer_RequiresTools(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestServer_InMemory(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	st, ct := sdk.NewInMemoryTransports()
	ss, err := srv.build(srv.tools).Connect(ctx, st, nil)
	require.NoError(t, err)
	defer ss.Close()

	session, err := sdk.NewClient(&sdk.Implementation{Name: "test", Version: "v1"}, nil).Connect(ctx, ct, nil)
	require.NoError(t, err)
	defer session.Close()

	initRes := session.InitializeResult()
	require.NotNil(t, initRes)
	assert.Equal(t, ServerName, initRes.ServerInfo.Name)
	assert.Equal(t, "test", initRes.ServerInfo.Version)

	res, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, srv.tools.Names(), names)
}

func TestServer_HTTPSubject(t *testing.T) {
	srv, audit := newTestServer(t)

	withSubject := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithAuth(r.Context(), &auth.AuthContext{Subject: "alice"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	httpSrv := httptest.NewServer(withSubject(srv.HTTPHandler()))
	defer httpSrv.Close()

	ctx := context.Background()
	client := sdk.NewClient(&sdk.Implementation{Name: "test", Version: "v1"}, nil)
	session, err := client.Connect(ctx, &sdk.StreamableClientTransport{Endpoint: httpSrv.URL}, nil)
	require.NoError(t, err)
	defer session.Close()

	res, err := session.CallTool(ctx, &sdk.CallToolParams{
		Name:      tools.ToolTestConnection,
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Contains(t, res.Content[0].(*sdk.TextContent).Text, `"success":false`)

	entries, err := audit.ListAuditLog(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Subject)
	assert.Equal(t, tools.ToolTestConnection, entries[0].Tool)
}
