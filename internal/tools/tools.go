// ABOUTME: Toolset wiring: dependencies, registration and the shared call envelope.
// ABOUTME: Converts handler errors into success:false results and audits each call.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/snow-mcp/internal/auth"
	"github.com/2389/snow-mcp/internal/cache"
	"github.com/2389/snow-mcp/internal/servicenow"
	"github.com/2389/snow-mcp/internal/store"
	"github.com/2389/snow-mcp/internal/telemetry"
	"github.com/2389/snow-mcp/internal/validation"
)

// Tool names.
const (
	ToolGetIncidents    = "get_servicenow_incidents"
	ToolCreateIncident  = "create_servicenow_incident"
	ToolSearchKB        = "search_knowledge_base"
	ToolGetArticle      = "get_knowledge_article"
	ToolTestConnection  = "test_connection"
	ToolGenerateToken   = "generate_jwt_token"
	ToolValidateToken   = "validate_jwt_token"
	ToolRefreshToken    = "refresh_jwt_token"
	ToolTokenInfo       = "get_jwt_token_info"
	ToolRevokeToken     = "revoke_jwt_token"
	missingCredsMessage = "Missing ServiceNow credentials. Please set SERVICENOW_INSTANCE_URL, SERVICENOW_USERNAME, and SERVICENOW_PASSWORD environment variables."
	authFailedMessage   = "Authentication failed - check username/password or instance URL"
)

// Connector hands out the shared ServiceNow client. *servicenow.Lazy
// implements it.
type Connector interface {
	Client(ctx context.Context) (*servicenow.Client, error)
}

// CredentialVerifier checks a username/password pair against an instance
// before tokens are issued. *servicenow.CredentialVerifier implements it.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, instanceURL, username, password string) error
}

// Config holds the toolset's dependencies. Only ServiceNow and Tokens are
// required.
type Config struct {
	ServiceNow  Connector
	Tokens      *auth.TokenManager
	Credentials CredentialVerifier                  // optional
	Audit       store.AuditStore                    // optional
	Articles    *cache.Cache[servicenow.Record]     // optional
	Telemetry   *telemetry.Instruments              // optional, no-op when nil
	Logger      *slog.Logger

	// InstanceURL is used by generate_jwt_token when the caller omits one.
	InstanceURL string
	// ClientID is embedded in issued tokens.
	ClientID string
	// AllowWrites registers create_servicenow_incident.
	AllowWrites bool

	Now func() time.Time
}

// Toolset registers tools on MCP servers.
type Toolset struct {
	cfg     Config
	logger  *slog.Logger
	inst    *telemetry.Instruments
	now     func() time.Time
	subject string
}

// New validates cfg and returns a Toolset.
func New(cfg Config) (*Toolset, error) {
	if cfg.ServiceNow == nil {
		return nil, errors.New("servicenow connector is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inst := cfg.Telemetry
	if inst == nil {
		inst = telemetry.Noop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Toolset{
		cfg:    cfg,
		logger: logger.With("component", "tools"),
		inst:   inst,
		now:    now,
	}, nil
}

// WithSubject returns a copy that attributes calls to subject when the call
// context carries no authenticated identity. The HTTP transport creates one
// per session.
func (ts *Toolset) WithSubject(subject string) *Toolset {
	cp := *ts
	cp.subject = subject
	return &cp
}

// Register adds every enabled tool to srv.
func (ts *Toolset) Register(srv *sdk.Server) {
	ts.registerIncidents(srv)
	ts.registerKnowledge(srv)
	ts.registerConnection(srv)
	ts.registerTokens(srv)
}

// Names lists the tools Register adds, in registration order.
func (ts *Toolset) Names() []string {
	names := []string{ToolGetIncidents}
	if ts.cfg.AllowWrites {
		names = append(names, ToolCreateIncident)
	}
	names = append(names, ToolSearchKB, ToolGetArticle, ToolTestConnection,
		ToolGenerateToken, ToolValidateToken, ToolRefreshToken, ToolTokenInfo)
	if ts.cfg.Tokens.HasLedger() {
		names = append(names, ToolRevokeToken)
	}
	return names
}

// handlerFunc computes the success payload of a tool. success and timestamp
// are added by the caller.
type handlerFunc[In any] func(ctx context.Context, in In) (map[string]any, error)

// addTool registers fn under tool with validation, telemetry, auditing and
// the success envelope. detail picks the arguments safe to audit.
//
// Arguments are decoded and checked here rather than by the SDK so missing
// or mistyped values come back as a success:false result.
func addTool[In any](ts *Toolset, srv *sdk.Server, tool *sdk.Tool, detail func(In) map[string]any, fn handlerFunc[In]) {
	tool.InputSchema = inputSchema[In]()
	srv.AddTool(tool, func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		var in In
		decodeErr := decodeArgs(req.Params.Arguments, &in)
		out := ts.call(ctx, tool.Name, detail(in), func(ctx context.Context) (map[string]any, error) {
			if decodeErr != nil {
				return nil, decodeErr
			}
			if err := validation.Struct(in); err != nil {
				return nil, err
			}
			return fn(ctx, in)
		})
		res := textResult(out)
		res.StructuredContent = out
		return res, nil
	})
}

// inputSchema describes In to clients without marking any property
// required. Presence is enforced by the validate tags.
func inputSchema[In any]() *jsonschema.Schema {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		panic(fmt.Sprintf("input schema for %T: %v", *new(In), err))
	}
	schema.Required = nil
	return schema
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fail("Invalid arguments", err)
	}
	return nil
}

func (ts *Toolset) call(ctx context.Context, name string, detail map[string]any, fn func(context.Context) (map[string]any, error)) map[string]any {
	subject := auth.SubjectFromContext(ctx)
	if subject == "" {
		subject = ts.subject
	}

	ctx, span := ts.inst.StartTool(ctx, name, subject)
	payload, err := fn(ctx)

	var out map[string]any
	errMsg := ""
	if err != nil {
		errMsg = userMessage(err)
		out = map[string]any{"success": false, "error": errMsg}
		ts.logger.Warn("tool failed", "tool", name, "subject", subject, "error", err)
	} else {
		out = payload
		if out == nil {
			out = map[string]any{}
		}
		out["success"] = true
		ts.logger.Debug("tool succeeded", "tool", name, "subject", subject)
	}
	out["timestamp"] = ts.now().UTC().Format(time.RFC3339)

	elapsed := span.End(ctx, errMsg, nil)
	ts.audit(ctx, &store.AuditEntry{
		Tool:       name,
		Subject:    subject,
		Success:    err == nil,
		Error:      errMsg,
		DurationMS: elapsed.Milliseconds(),
		Detail:     detail,
	})
	return out
}

func (ts *Toolset) audit(ctx context.Context, e *store.AuditEntry) {
	if ts.cfg.Audit == nil {
		return
	}
	if err := ts.cfg.Audit.AppendAuditLog(context.WithoutCancel(ctx), e); err != nil {
		ts.logger.Warn("failed to write audit entry", "tool", e.Tool, "error", err)
	}
}

func textResult(out map[string]any) *sdk.CallToolResult {
	data, err := json.Marshal(out)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(data)}},
	}
}

// failure is a tool error with the exact message the caller sees. When err
// is set its user message is appended after a colon.
type failure struct {
	msg string
	err error
}

func (f *failure) Error() string {
	if f.err == nil {
		return f.msg
	}
	return f.msg + ": " + userMessage(f.err)
}

func (f *failure) Unwrap() error { return f.err }

func fail(msg string, err error) error {
	return &failure{msg: msg, err: err}
}

// userMessage maps well-known errors to the messages tool callers expect.
func userMessage(err error) string {
	var f *failure
	if errors.As(err, &f) {
		return f.Error()
	}
	switch {
	case errors.Is(err, servicenow.ErrMissingCredentials):
		return missingCredsMessage
	case errors.Is(err, servicenow.ErrUnauthorized):
		return authFailedMessage
	case errors.Is(err, auth.ErrExpiredToken):
		return "JWT token has expired"
	case errors.Is(err, auth.ErrRevokedToken):
		return "JWT token has been revoked"
	}
	return err.Error()
}

// limitOr returns n, or def when n is zero.
func limitOr(n, def int) int {
	if n == 0 {
		return def
	}
	return n
}
