// ABOUTME: Wires configuration into the store, token manager, ServiceNow client and MCP server
// ABOUTME: Shared by serve and the offline token/audit subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/snow-mcp/internal/auth"
	"github.com/2389/snow-mcp/internal/cache"
	"github.com/2389/snow-mcp/internal/config"
	"github.com/2389/snow-mcp/internal/mcp"
	"github.com/2389/snow-mcp/internal/secrets"
	"github.com/2389/snow-mcp/internal/servicenow"
	"github.com/2389/snow-mcp/internal/store"
	"github.com/2389/snow-mcp/internal/telemetry"
	"github.com/2389/snow-mcp/internal/tools"
)

// app holds the long-lived components built from one Config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.SQLiteStore // nil when database.path is empty
	tokens *auth.TokenManager
	snow   *servicenow.Lazy

	secretSource secrets.Source

	closers []func(context.Context) error
}

// openApp resolves the signing secret and opens the store. The ServiceNow
// connection is not attempted until a tool needs it.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	resolver := &secrets.Resolver{Logger: logger.With("component", "secrets")}
	secret, source, err := resolver.Resolve(ctx, cfg.Auth.JWTSecret, cfg.Auth.JWTSecretRef)
	if err != nil {
		return nil, fmt.Errorf("resolving JWT secret: %w", err)
	}
	logger.Debug("JWT secret resolved", "source", source)
	a.secretSource = source

	var ledger auth.Ledger
	if cfg.Database.Path != "" {
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.store = s
		ledger = s
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	}

	a.tokens, err = auth.NewTokenManager(auth.ManagerConfig{
		Secret:     secret,
		Algorithm:  cfg.Auth.Algorithm,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		Ledger:     ledger,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("creating token manager: %w", err)
	}

	a.snow = servicenow.NewLazy(serviceNowConfig(cfg.ServiceNow), logger.With("component", "servicenow"))
	if !cfg.ServiceNow.HasCredentials() {
		logger.Warn("ServiceNow credentials not configured; ServiceNow tools will report missing credentials",
			"hint", "set SERVICENOW_INSTANCE_URL, SERVICENOW_USERNAME and SERVICENOW_PASSWORD")
	}

	return a, nil
}

func serviceNowConfig(c config.ServiceNowConfig) servicenow.Config {
	return servicenow.Config{
		InstanceURL:  c.InstanceURL,
		Username:     c.Username,
		Password:     c.Password,
		AuthMode:     c.AuthMode,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Timeout:      c.Timeout,
	}
}

// mcpServer builds the toolset and the MCP server around it, starting
// telemetry when enabled.
func (a *app) mcpServer(ctx context.Context) (*mcp.Server, error) {
	inst := telemetry.Noop()
	if a.cfg.Telemetry.Enabled {
		i, shutdown, err := telemetry.Init(ctx, a.cfg.Telemetry.ServiceName, version)
		if err != nil {
			return nil, fmt.Errorf("starting telemetry: %w", err)
		}
		inst = i
		a.closers = append(a.closers, shutdown)
		a.logger.Info("telemetry enabled", "service_name", a.cfg.Telemetry.ServiceName)
	}

	articles := cache.New[servicenow.Record](a.cfg.Cache.ArticleTTL, a.cfg.Cache.MaxEntries)
	a.closers = append(a.closers, func(context.Context) error {
		articles.Close()
		return nil
	})

	toolCfg := tools.Config{
		ServiceNow:  a.snow,
		Tokens:      a.tokens,
		Articles:    articles,
		Telemetry:   inst,
		Logger:      a.logger,
		InstanceURL: a.cfg.ServiceNow.InstanceURL,
		ClientID:    a.cfg.ServiceNow.ClientID,
		AllowWrites: a.cfg.ServiceNow.AllowWrites,
	}
	if a.store != nil {
		toolCfg.Audit = a.store
	}
	if a.cfg.Auth.VerifyCredentials {
		toolCfg.Credentials = servicenow.NewCredentialVerifier(nil, a.cfg.ServiceNow.Timeout)
	}

	ts, err := tools.New(toolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating toolset: %w", err)
	}

	srv, err := mcp.NewServer(mcp.Config{Tools: ts, Version: version, Logger: a.logger})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}
	return srv, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	ctx := context.Background()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
