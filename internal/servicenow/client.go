// ABOUTME: HTTP client for the ServiceNow Table API with basic or OAuth auth.
// ABOUTME: Requests go through an OpenTelemetry transport for tracing.

package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// Auth modes.
const (
	AuthBasic = "basic"
	AuthOAuth = "oauth"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 10 << 20
)

// Config describes how to reach one ServiceNow instance.
type Config struct {
	InstanceURL  string
	Username     string
	Password     string
	AuthMode     string // basic (default) or oauth
	ClientID     string
	ClientSecret string
	Timeout      time.Duration

	// Transport is the base round tripper. Nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// HasCredentials reports whether instance URL, username and password are set.
func (c Config) HasCredentials() bool {
	return c.InstanceURL != "" && c.Username != "" && c.Password != ""
}

// Record is a single Table API row.
type Record = map[string]any

// TableQuery holds the sysparm_* options of a Table API read.
type TableQuery struct {
	Query        string
	Limit        int
	Offset       int
	Fields       []string
	DisplayValue string // "true", "false" or "all"
}

func (q TableQuery) values() url.Values {
	v := url.Values{}
	if q.Query != "" {
		v.Set("sysparm_query", q.Query)
	}
	if q.Limit > 0 {
		v.Set("sysparm_limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("sysparm_offset", strconv.Itoa(q.Offset))
	}
	if len(q.Fields) > 0 {
		v.Set("sysparm_fields", strings.Join(q.Fields, ","))
	}
	if q.DisplayValue != "" {
		v.Set("sysparm_display_value", q.DisplayValue)
	}
	return v
}

// Client talks to one ServiceNow instance.
type Client struct {
	baseURL    string
	username   string
	authMode   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a client. In oauth mode it performs the password grant
// immediately so bad credentials surface here rather than on first use.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if !cfg.HasCredentials() {
		return nil, ErrMissingCredentials
	}
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.InstanceURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid instance url %q: %w", cfg.InstanceURL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := instrumentedTransport(cfg.Transport)

	mode := cfg.AuthMode
	if mode == "" {
		mode = AuthBasic
	}

	var rt http.RoundTripper
	switch mode {
	case AuthBasic:
		rt = &basicAuthTransport{username: cfg.Username, password: cfg.Password, base: transport}
	case AuthOAuth:
		ts, err := passwordGrant(ctx, cfg, base, &http.Client{Transport: transport, Timeout: timeout})
		if err != nil {
			return nil, err
		}
		rt = &oauth2.Transport{Source: ts, Base: transport}
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}

	return &Client{
		baseURL:    base,
		username:   cfg.Username,
		authMode:   mode,
		httpClient: &http.Client{Transport: rt, Timeout: timeout},
		logger:     logger,
	}, nil
}

// InstanceURL returns the instance base URL without a trailing slash.
func (c *Client) InstanceURL() string { return c.baseURL }

// Username returns the account requests are made as.
func (c *Client) Username() string { return c.username }

// AuthMode returns basic or oauth.
func (c *Client) AuthMode() string { return c.authMode }

func instrumentedTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "servicenow " + r.Method
		}),
	)
}

// passwordGrant exchanges username/password for a token at oauth_token.do.
// The returned source refreshes the token with the background context since
// it outlives the request that created it.
func passwordGrant(ctx context.Context, cfg Config, base string, hc *http.Client) (oauth2.TokenSource, error) {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  base + "/oauth_token.do",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	tok, err := oc.PasswordCredentialsToken(context.WithValue(ctx, oauth2.HTTPClient, hc), cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("oauth password grant: %w", err)
	}
	return oc.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, hc), tok), nil
}

type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(r)
}

// do sends a request and decodes the "result" member of the response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("servicenow request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, newAPIError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return resp.StatusCode, nil
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Result) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode result: %w", err)
	}
	return resp.StatusCode, nil
}

// GetTable reads rows from a table.
func (c *Client) GetTable(ctx context.Context, table string, q TableQuery) ([]Record, error) {
	records := []Record{}
	if _, err := c.do(ctx, http.MethodGet, tablePath(table), q.values(), nil, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// GetRecord reads one row by sys_id. A 404 is reported as ErrNotFound.
func (c *Client) GetRecord(ctx context.Context, table, sysID string, q TableQuery) (Record, error) {
	var rec Record
	if _, err := c.do(ctx, http.MethodGet, tablePath(table)+"/"+url.PathEscape(sysID), q.values(), nil, &rec); err != nil {
		return nil, err
	}
	if len(rec) == 0 {
		return nil, ErrNotFound
	}
	return rec, nil
}

// CreateRecord inserts a row and returns it as stored.
func (c *Client) CreateRecord(ctx context.Context, table string, fields map[string]any) (Record, error) {
	var rec Record
	if _, err := c.do(ctx, http.MethodPost, tablePath(table), nil, fields, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func tablePath(table string) string {
	return "/api/now/table/" + url.PathEscape(table)
}
