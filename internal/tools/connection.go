// ABOUTME: test_connection tool: probes the configured ServiceNow instance.
// ABOUTME: Reports instance, user and auth mode when the probe succeeds.

package tools

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type testConnectionInput struct{}

func (ts *Toolset) registerConnection(srv *sdk.Server) {
	addTool(ts, srv, &sdk.Tool{
		Name:        ToolTestConnection,
		Description: "Test the ServiceNow connection.",
		Annotations: &sdk.ToolAnnotations{ReadOnlyHint: true},
	}, func(testConnectionInput) map[string]any { return nil }, ts.testConnection)
}

func (ts *Toolset) testConnection(ctx context.Context, _ testConnectionInput) (map[string]any, error) {
	c, err := ts.cfg.ServiceNow.Client(ctx)
	if err != nil {
		return nil, err
	}
	status, err := c.TestConnection(ctx)
	if err != nil {
		return nil, err
	}
	ts.logger.Info("servicenow connection test successful", "instance_url", status.InstanceURL)
	return map[string]any{
		"message":            "ServiceNow connection is working",
		"connection_details": status,
	}, nil
}
