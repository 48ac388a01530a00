// ABOUTME: Entry point for the snow-mcp ServiceNow MCP server
// ABOUTME: Dispatches serve/init/token/audit/health/version subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/snow-mcp/internal/config"
	"github.com/2389/snow-mcp/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `

  ___ _ __   _____      __      _ __ ___   ___ _ __
 / __| '_ \ / _ \ \ /\ / /____ | '_ ' _ \ / __| '_ \
 \__ \ | | | (_) \ V  V /_____|| | | | | | (__| |_) |
 |___/_| |_|\___/ \_/\_/       |_| |_| |_|\___| .__/
                                              |_|
`

// getConfigPath returns the path to the config file.
// Priority: SNOW_MCP_CONFIG env var > XDG_CONFIG_HOME/snow-mcp/config.yaml > ~/.config/snow-mcp/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SNOW_MCP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "snow-mcp", "config.yaml")
}

// getDataPath returns the path to the snow-mcp data directory.
// Priority: XDG_DATA_HOME/snow-mcp > ~/.local/share/snow-mcp
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "snow-mcp")
}

func printUsage() {
	fmt.Println("Usage: snow-mcp <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve [--http]              Start the MCP server (stdio by default)")
	fmt.Println("  init                        Create a new config file interactively")
	fmt.Println("  token issue --user U        Issue an access/refresh token pair")
	fmt.Println("  token validate|refresh|inspect|revoke TOKEN")
	fmt.Println("  token list [--user U] [--active]")
	fmt.Println("  token prune                 Delete expired tokens from the ledger")
	fmt.Println("  audit [--limit N] [--stats] Show recent tool calls or per-tool statistics")
	fmt.Println("        [--tool T] [--subject S] [--failures] [--since 24h]")
	fmt.Println("  health                      Check a running HTTP server")
	fmt.Println("  version                     Print the version")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit()
	case "token":
		err = runToken(ctx, args)
	case "audit":
		err = runAudit(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "version", "--version", "-v":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.LoadOrEnv(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context, args []string) error {
	useHTTP := false
	for _, arg := range args {
		switch arg {
		case "--http":
			useHTTP = true
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if useHTTP {
		cfg.Server.Transport = "http"
	}

	logger := setupLogger(cfg.Logging, os.Stderr)

	// stdout is the protocol stream for stdio; the banner only goes out for HTTP
	if cfg.Server.Transport == "http" {
		printStartup(cfg, configPath)
	}

	logger.Info("starting snow-mcp",
		"version", version,
		"config", configPath,
		"transport", cfg.Server.Transport,
		"instance", cfg.ServiceNow.InstanceURL,
	)

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing resources", "error", err)
		}
	}()

	srv, err := a.mcpServer(ctx)
	if err != nil {
		return err
	}

	if cfg.Server.Transport != "http" {
		return srv.RunStdio(ctx)
	}

	gw, err := gateway.New(cfg, gateway.Deps{
		MCP:       srv.HTTPHandler(),
		Verifier:  a.tokens,
		Readiness: a.snow,
	}, logger.With("component", "gateway"))
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func printStartup(cfg *config.Config, configPath string) {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Instance:  %s\n", valueOr(cfg.ServiceNow.InstanceURL, "(not configured)"))
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.RequireAuth {
		green.Print("    ▶ ")
		fmt.Println("Auth:      bearer token required")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Tailscale.Enabled {
		return errors.New("health checks a local http_addr; query the tailnet hostname directly")
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
