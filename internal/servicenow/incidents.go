// ABOUTME: Incident table reads and writes.
// ABOUTME: Builds encoded queries from the filter fields the tools expose.

package servicenow

import (
	"context"
	"strings"
)

const incidentTable = "incident"

// DefaultIncidentLimit is used when IncidentFilter.Limit is not set.
const DefaultIncidentLimit = 20

// IncidentFilter narrows an incident listing. Empty fields are ignored.
type IncidentFilter struct {
	State           string
	Priority        string
	AssignmentGroup string // matched against assignment_group.name
	CallerID        string // matched against caller_id.email
	Limit           int
}

// Query returns the encoded query for the filter, conditions joined with ^.
func (f IncidentFilter) Query() string {
	var parts []string
	if f.State != "" {
		parts = append(parts, "state="+EscapeQueryValue(f.State))
	}
	if f.Priority != "" {
		parts = append(parts, "priority="+EscapeQueryValue(f.Priority))
	}
	if f.AssignmentGroup != "" {
		parts = append(parts, "assignment_group.name="+EscapeQueryValue(f.AssignmentGroup))
	}
	if f.CallerID != "" {
		parts = append(parts, "caller_id.email="+EscapeQueryValue(f.CallerID))
	}
	return strings.Join(parts, "^")
}

// EscapeQueryValue escapes the encoded-query separator so a value cannot
// add conditions of its own.
func EscapeQueryValue(v string) string {
	return strings.ReplaceAll(v, "^", "^^")
}

// ListIncidents returns incidents matching the filter.
func (c *Client) ListIncidents(ctx context.Context, f IncidentFilter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultIncidentLimit
	}
	return c.GetTable(ctx, incidentTable, TableQuery{Query: f.Query(), Limit: limit})
}

// CreateIncident inserts an incident and returns the stored row.
func (c *Client) CreateIncident(ctx context.Context, fields map[string]any) (Record, error) {
	return c.CreateRecord(ctx, incidentTable, fields)
}
