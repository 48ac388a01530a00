// ABOUTME: Interactive `snow-mcp init` that writes a YAML config file
// ABOUTME: Generates a random JWT signing secret and prompts for ServiceNow and transport settings

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/snow-mcp/internal/secrets"
)

// initAnswers are the values collected by runInit.
type initAnswers struct {
	InstanceURL string
	Username    string
	AuthMode    string
	ClientID    string
	AllowWrites bool

	Transport   string
	HTTPAddr    string
	RequireAuth bool

	DBPath    string
	JWTSecret string

	TailscaleEnabled bool
	TSHostname       string
	TSAuthKey        string
	TSEphemeral      bool
	TSFunnel         bool

	LogLevel  string
	LogFormat string
}

func runInit() error {
	return initConfig(bufio.NewReader(os.Stdin), os.Stdout)
}

func initConfig(reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "snow-mcp configuration setup")
	fmt.Fprintln(out, "============================")
	fmt.Fprintln(out)

	defaultDbPath := filepath.Join(getDataPath(), "snow-mcp.db")

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- ServiceNow ---")
	a.InstanceURL = prompt(reader, out, "Instance URL (https://<name>.service-now.com)", "")
	a.Username = prompt(reader, out, "Username", "")
	a.AuthMode = prompt(reader, out, "Auth mode (basic/oauth)", "basic")
	if a.AuthMode == "oauth" {
		a.ClientID = prompt(reader, out, "OAuth client ID", "")
	}
	a.AllowWrites = yes(prompt(reader, out, "Allow creating incidents?", "no"))

	fmt.Fprintln(out, "\n--- Server ---")
	a.Transport = prompt(reader, out, "Transport (stdio/http)", "stdio")
	if a.Transport == "http" {
		a.HTTPAddr = prompt(reader, out, "HTTP address", "localhost:8080")
		a.RequireAuth = yes(prompt(reader, out, "Require bearer tokens on /mcp?", "yes"))

		fmt.Fprintln(out, "\n--- Tailscale ---")
		a.TailscaleEnabled = yes(prompt(reader, out, "Enable Tailscale?", "no"))
		if a.TailscaleEnabled {
			a.TSHostname = prompt(reader, out, "Tailscale hostname", "snow-mcp")
			a.TSAuthKey = prompt(reader, out, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
			a.TSEphemeral = yes(prompt(reader, out, "Ephemeral node?", "no"))
			a.TSFunnel = yes(prompt(reader, out, "Enable Funnel (public HTTPS)?", "no"))
		}
	}

	fmt.Fprintln(out, "\n--- Storage ---")
	a.DBPath = prompt(reader, out, "SQLite database path (token ledger and audit log, empty to disable)", defaultDbPath)

	fmt.Fprintln(out, "\n--- Logging ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

	secret, err := secrets.Generate()
	if err != nil {
		return err
	}
	a.JWTSecret = secret

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// 0600: the file holds the signing secret
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if a.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(a.DBPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "Set SERVICENOW_PASSWORD in the environment (or a .env file) before starting.")
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  snow-mcp serve")

	return nil
}

// renderConfig produces the YAML written by init.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# snow-mcp configuration\n")
	cfg.WriteString("# Generated by snow-mcp init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  transport: %q\n", valueOr(a.Transport, "stdio")))
	if a.HTTPAddr != "" {
		cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	}
	cfg.WriteString(fmt.Sprintf("  require_auth: %t\n", a.RequireAuth))
	cfg.WriteString("\n")

	cfg.WriteString("servicenow:\n")
	cfg.WriteString(fmt.Sprintf("  instance_url: %q\n", a.InstanceURL))
	cfg.WriteString(fmt.Sprintf("  username: %q\n", a.Username))
	cfg.WriteString("  password: \"${SERVICENOW_PASSWORD}\"\n")
	cfg.WriteString(fmt.Sprintf("  auth_mode: %q\n", valueOr(a.AuthMode, "basic")))
	if a.ClientID != "" {
		cfg.WriteString(fmt.Sprintf("  client_id: %q\n", a.ClientID))
		cfg.WriteString("  client_secret: \"${SERVICENOW_CLIENT_SECRET}\"\n")
	}
	cfg.WriteString(fmt.Sprintf("  allow_writes: %t\n", a.AllowWrites))
	cfg.WriteString("  timeout: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", a.JWTSecret))
	cfg.WriteString("  access_ttl: \"24h\"\n")
	cfg.WriteString("  refresh_ttl: \"720h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.DBPath))
	cfg.WriteString("\n")

	if a.TailscaleEnabled {
		cfg.WriteString("tailscale:\n")
		cfg.WriteString("  enabled: true\n")
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", a.TSHostname))
		if a.TSAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", a.TSAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", a.TSEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", a.TSFunnel))
		cfg.WriteString("\n")
	}

	cfg.WriteString("cache:\n")
	cfg.WriteString("  max_entries: 256\n")
	cfg.WriteString("  article_ttl: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", valueOr(a.LogLevel, "info")))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", valueOr(a.LogFormat, "text")))
	cfg.WriteString("\n")

	cfg.WriteString("telemetry:\n")
	cfg.WriteString("  enabled: false\n")

	return cfg.String()
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
