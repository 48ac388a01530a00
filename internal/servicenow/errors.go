// ABOUTME: Error types for ServiceNow API failures.
// ABOUTME: Parses the {"error": {"message", "detail"}} body ServiceNow returns.

package servicenow

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound is returned when a record lookup matches nothing.
	ErrNotFound = errors.New("record not found")

	// ErrMissingCredentials is returned when instance URL, username or
	// password is not configured.
	ErrMissingCredentials = errors.New("missing ServiceNow credentials: set SERVICENOW_INSTANCE_URL, SERVICENOW_USERNAME and SERVICENOW_PASSWORD")

	// ErrUnauthorized matches APIErrors with status 401.
	ErrUnauthorized = errors.New("authentication failed - check username/password or instance URL")
)

// APIError is a non-2xx response from ServiceNow.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized.Error()
	}
	msg := fmt.Sprintf("HTTP %d", e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Is lets errors.Is match ErrUnauthorized and ErrNotFound by status code.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
}

// newAPIError builds an APIError from a response body. Bodies that are not
// the ServiceNow error shape are used as the message, trimmed.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		apiErr.Message = eb.Error.Message
		apiErr.Detail = eb.Error.Detail
		return apiErr
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	apiErr.Message = text
	return apiErr
}
