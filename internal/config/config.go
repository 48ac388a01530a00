// ABOUTME: Configuration loading and parsing for snow-mcp
// ABOUTME: Supports YAML or TOML files, .env files, env var expansion/overrides and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/snow-mcp/internal/validation"
)

// Defaults mirror the environment defaults the server has always shipped with.
const (
	DefaultIssuer     = "servicenow-mcp-server"
	DefaultAudience   = "servicenow-api"
	DefaultAlgorithm  = "HS256"
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Config represents the complete snow-mcp configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	ServiceNow ServiceNowConfig `yaml:"servicenow" toml:"servicenow"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Cache      CacheConfig      `yaml:"cache" toml:"cache"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
}

// ServerConfig selects the MCP transport.
type ServerConfig struct {
	Transport   string `yaml:"transport" toml:"transport" validate:"oneof=stdio http"`
	HTTPAddr    string `yaml:"http_addr" toml:"http_addr"`
	RequireAuth bool   `yaml:"require_auth" toml:"require_auth"` // bearer JWT on /mcp
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname" validate:"required_if=Enabled true"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel (implies HTTPS)
}

// ServiceNowConfig holds the instance connection settings.
type ServiceNowConfig struct {
	InstanceURL  string `yaml:"instance_url" toml:"instance_url" validate:"omitempty,url"`
	Username     string `yaml:"username" toml:"username"`
	Password     string `yaml:"password" toml:"password"`
	AuthMode     string `yaml:"auth_mode" toml:"auth_mode" validate:"oneof=basic oauth"`
	ClientID     string `yaml:"client_id" toml:"client_id" validate:"required_if=AuthMode oauth"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret" validate:"required_if=AuthMode oauth"`
	AllowWrites  bool   `yaml:"allow_writes" toml:"allow_writes"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// AuthConfig holds JWT issuing configuration
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret" toml:"jwt_secret"`
	JWTSecretRef string `yaml:"jwt_secret_ref" toml:"jwt_secret_ref"` // GCP Secret Manager version name
	Algorithm    string `yaml:"algorithm" toml:"algorithm" validate:"oneof=HS256 HS384 HS512"`
	Issuer       string `yaml:"issuer" toml:"issuer"`
	Audience     string `yaml:"audience" toml:"audience"`

	// VerifyCredentials checks username/password against ServiceNow before issuing tokens.
	VerifyCredentials bool `yaml:"verify_credentials" toml:"verify_credentials"`

	AccessTTL  time.Duration `yaml:"-" toml:"-"`
	RefreshTTL time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	AccessTTLRaw  string `yaml:"access_ttl" toml:"access_ttl"`
	RefreshTTLRaw string `yaml:"refresh_ttl" toml:"refresh_ttl"`
}

// DatabaseConfig holds database configuration. An empty path disables
// the token ledger and the audit log.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// CacheConfig sizes the knowledge article cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" toml:"max_entries" validate:"gte=0"`

	ArticleTTL    time.Duration `yaml:"-" toml:"-"`
	ArticleTTLRaw string        `yaml:"article_ttl" toml:"article_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=text json"`
}

// TelemetryConfig toggles OTLP export. Endpoints come from the standard
// OTEL_EXPORTER_OTLP_* environment variables.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, and the
// well-known SERVICENOW_* / JWT_* variables override file values.
func Load(path string) (*Config, error) {
	loadDotEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(&cfg)
}

// LoadFromEnv builds a Config from environment variables and defaults only.
func LoadFromEnv() (*Config, error) {
	loadDotEnv()
	return finish(&Config{})
}

// LoadOrEnv loads path if it exists and falls back to LoadFromEnv otherwise.
func LoadOrEnv(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return LoadFromEnv()
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads .env from the working directory. A missing file is fine.
func loadDotEnv() {
	_ = godotenv.Load(".env")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// setFromEnv overwrites *dst when the variable is set and non-empty.
func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// applyEnv layers the environment on top of file values.
func applyEnv(cfg *Config) error {
	sn := &cfg.ServiceNow
	setFromEnv(&sn.InstanceURL, "SERVICENOW_INSTANCE_URL")
	setFromEnv(&sn.Username, "SERVICENOW_USERNAME")
	setFromEnv(&sn.Password, "SERVICENOW_PASSWORD")
	setFromEnv(&sn.ClientSecret, "SERVICENOW_CLIENT_SECRET")
	setFromEnv(&sn.AuthMode, "SERVICENOW_AUTH_MODE")
	setFromEnv(&sn.ClientID, "JWT_CLIENT_ID")

	a := &cfg.Auth
	setFromEnv(&a.JWTSecret, "JWT_CLIENT_SECRET")
	setFromEnv(&a.JWTSecret, "JWT_SECRET_KEY")
	setFromEnv(&a.JWTSecretRef, "JWT_SECRET_REF")
	setFromEnv(&a.Algorithm, "JWT_ALGORITHM")
	setFromEnv(&a.Issuer, "JWT_ISSUER")
	setFromEnv(&a.Audience, "JWT_AUDIENCE")

	if v := os.Getenv("JWT_EXPIRY_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			return fmt.Errorf("JWT_EXPIRY_HOURS must be a positive integer, got %q", v)
		}
		a.AccessTTL = time.Duration(hours) * time.Hour
	}
	if v := os.Getenv("JWT_REFRESH_EXPIRY_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return fmt.Errorf("JWT_REFRESH_EXPIRY_DAYS must be a positive integer, got %q", v)
		}
		a.RefreshTTL = time.Duration(days) * 24 * time.Hour
	}

	setFromEnv(&cfg.Database.Path, "SNOW_MCP_DB_PATH")
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "stdio"
	}
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = "localhost:8080"
	}

	cfg.ServiceNow.InstanceURL = strings.TrimRight(cfg.ServiceNow.InstanceURL, "/")
	if cfg.ServiceNow.AuthMode == "" {
		cfg.ServiceNow.AuthMode = "basic"
	}
	if cfg.ServiceNow.Timeout == 0 {
		cfg.ServiceNow.Timeout = 30 * time.Second
	}

	if cfg.Auth.Algorithm == "" {
		cfg.Auth.Algorithm = DefaultAlgorithm
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = DefaultIssuer
	}
	if cfg.Auth.Audience == "" {
		cfg.Auth.Audience = DefaultAudience
	}
	if cfg.Auth.AccessTTL == 0 {
		cfg.Auth.AccessTTL = DefaultAccessTTL
	}
	if cfg.Auth.RefreshTTL == 0 {
		cfg.Auth.RefreshTTL = DefaultRefreshTTL
	}

	if cfg.Cache.ArticleTTL == 0 {
		cfg.Cache.ArticleTTL = 5 * time.Minute
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 256
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "snow-mcp"
	}
}

// Validate checks that all required configuration fields are present and valid.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}

	if c.Server.Transport == "http" && !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required for the http transport (or enable tailscale)")
	}

	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("auth.access_ttl and auth.refresh_ttl must be positive")
	}

	if c.Auth.JWTSecret != "" && c.Auth.JWTSecretRef != "" {
		return fmt.Errorf("auth.jwt_secret and auth.jwt_secret_ref are mutually exclusive")
	}

	return nil
}

// HasCredentials reports whether enough is configured to reach ServiceNow.
func (c ServiceNowConfig) HasCredentials() bool {
	return c.InstanceURL != "" && c.Username != "" && c.Password != ""
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"servicenow.timeout", cfg.ServiceNow.TimeoutRaw, &cfg.ServiceNow.Timeout},
		{"auth.access_ttl", cfg.Auth.AccessTTLRaw, &cfg.Auth.AccessTTL},
		{"auth.refresh_ttl", cfg.Auth.RefreshTTLRaw, &cfg.Auth.RefreshTTL},
		{"cache.article_ttl", cfg.Cache.ArticleTTLRaw, &cfg.Cache.ArticleTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
