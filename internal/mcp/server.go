// ABOUTME: MCP server assembly on the official go-sdk for stdio and Streamable HTTP.
// ABOUTME: HTTP sessions get a server bound to the caller's authenticated subject.

package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/snow-mcp/internal/auth"
	"github.com/2389/snow-mcp/internal/tools"
)

// ServerName is advertised to clients during initialize.
const ServerName = "servicenow-mcp"

const instructions = "Tools for querying ServiceNow incidents and knowledge base articles, " +
	"and for issuing and checking the JWTs used to authenticate to this server."

// Config holds configuration for the MCP server.
type Config struct {
	Tools   *tools.Toolset
	Version string
	Logger  *slog.Logger
}

// Server builds go-sdk servers with the snow-mcp tools registered.
type Server struct {
	tools   *tools.Toolset
	version string
	logger  *slog.Logger
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Tools == nil {
		return nil, errors.New("toolset is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		tools:   cfg.Tools,
		version: version,
		logger:  logger.With("component", "mcp"),
	}, nil
}

func (s *Server) build(ts *tools.Toolset) *sdk.Server {
	srv := sdk.NewServer(&sdk.Implementation{Name: ServerName, Version: s.version}, &sdk.ServerOptions{
		Instructions: instructions,
	})
	ts.Register(srv)
	return srv
}

// RunStdio serves one session over stdin/stdout until the client
// disconnects or ctx is cancelled.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio", "tools", len(s.tools.Names()))
	err := s.build(s.tools).Run(ctx, &sdk.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HTTPHandler returns a Streamable HTTP handler. Run it behind
// auth.HTTPAuthMiddleware to attribute sessions to token subjects.
func (s *Server) HTTPHandler() http.Handler {
	return sdk.NewStreamableHTTPHandler(func(r *http.Request) *sdk.Server {
		subject := auth.SubjectFromContext(r.Context())
		s.logger.Info("MCP session started", "subject", subject, "remote_addr", r.RemoteAddr)
		return s.build(s.tools.WithSubject(subject))
	}, nil)
}
