// ABOUTME: Connection probe and credential verification against an instance.
// ABOUTME: Both issue a one-row incident read and report the HTTP outcome.

package servicenow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ConnectionStatus describes a successful probe.
type ConnectionStatus struct {
	InstanceURL string `json:"instance_url"`
	Username    string `json:"username"`
	AuthMode    string `json:"auth_mode"`
	StatusCode  int    `json:"status_code"`
}

var probeQuery = TableQuery{Limit: 1, Fields: []string{"sys_id"}}

// TestConnection reads a single incident to prove the instance is reachable
// and the credentials are accepted.
func (c *Client) TestConnection(ctx context.Context) (*ConnectionStatus, error) {
	var rows []Record
	status, err := c.do(ctx, http.MethodGet, tablePath(incidentTable), probeQuery.values(), nil, &rows)
	if err != nil {
		return nil, fmt.Errorf("connection test failed: %w", err)
	}
	return &ConnectionStatus{
		InstanceURL: c.baseURL,
		Username:    c.username,
		AuthMode:    c.authMode,
		StatusCode:  status,
	}, nil
}

// CredentialVerifier checks username/password pairs against any instance
// with basic auth. It holds no credentials of its own.
type CredentialVerifier struct {
	httpClient *http.Client
}

// NewCredentialVerifier creates a verifier. A nil transport means
// http.DefaultTransport.
func NewCredentialVerifier(transport http.RoundTripper, timeout time.Duration) *CredentialVerifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CredentialVerifier{
		httpClient: &http.Client{Transport: instrumentedTransport(transport), Timeout: timeout},
	}
}

// VerifyCredentials returns nil when the instance accepts the credentials.
// A rejected login is reported as ErrUnauthorized.
func (v *CredentialVerifier) VerifyCredentials(ctx context.Context, instanceURL, username, password string) error {
	base := strings.TrimRight(instanceURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return fmt.Errorf("invalid instance url %q: %w", instanceURL, err)
	}
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		base+tablePath(incidentTable)+"?"+probeQuery.values().Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(username, password)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("verify credentials: HTTP %d", resp.StatusCode)
	}
	return nil
}
