// ABOUTME: Incident tools: filtered incident listing and optional incident creation.
// ABOUTME: Filters map onto ServiceNow encoded-query conditions joined with ^.

package tools

import (
	"context"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/snow-mcp/internal/servicenow"
)

type getIncidentsInput struct {
	State           string `json:"state,omitempty" jsonschema:"Incident state, e.g. 1 (New), 2 (In Progress), 6 (Resolved)"`
	Priority        string `json:"priority,omitempty" jsonschema:"Incident priority, 1 (Critical) to 5 (Planning)" validate:"omitempty,oneof=1 2 3 4 5"`
	AssignmentGroup string `json:"assignment_group,omitempty" jsonschema:"Assignment group name"`
	CallerID        string `json:"caller_id,omitempty" jsonschema:"Caller email address"`
	Limit           int    `json:"limit,omitempty" jsonschema:"Maximum number of incidents to return (default 20)" validate:"omitempty,min=1,max=1000"`
}

type createIncidentInput struct {
	ShortDescription string `json:"short_description" jsonschema:"One-line summary of the issue" validate:"required,max=160"`
	Description      string `json:"description,omitempty" jsonschema:"Full description"`
	Urgency          string `json:"urgency,omitempty" jsonschema:"1 (High), 2 (Medium) or 3 (Low)" validate:"omitempty,oneof=1 2 3"`
	Impact           string `json:"impact,omitempty" jsonschema:"1 (High), 2 (Medium) or 3 (Low)" validate:"omitempty,oneof=1 2 3"`
	CallerID         string `json:"caller_id,omitempty" jsonschema:"Caller sys_id or user name"`
	AssignmentGroup  string `json:"assignment_group,omitempty" jsonschema:"Assignment group sys_id or name"`
	Category         string `json:"category,omitempty" jsonschema:"Incident category"`
}

func (ts *Toolset) registerIncidents(srv *sdk.Server) {
	addTool(ts, srv, &sdk.Tool{
		Name:        ToolGetIncidents,
		Description: "Retrieve ServiceNow incidents filtered by state, priority, assignment group or caller.",
		Annotations: &sdk.ToolAnnotations{ReadOnlyHint: true},
	}, func(in getIncidentsInput) map[string]any {
		return map[string]any{
			"state":            in.State,
			"priority":         in.Priority,
			"assignment_group": in.AssignmentGroup,
			"caller_id":        in.CallerID,
			"limit":            in.Limit,
		}
	}, ts.getIncidents)

	if !ts.cfg.AllowWrites {
		return
	}
	addTool(ts, srv, &sdk.Tool{
		Name:        ToolCreateIncident,
		Description: "Create a ServiceNow incident.",
	}, func(in createIncidentInput) map[string]any {
		return map[string]any{
			"short_description": in.ShortDescription,
			"urgency":           in.Urgency,
			"impact":            in.Impact,
			"assignment_group":  in.AssignmentGroup,
			"category":          in.Category,
		}
	}, ts.createIncident)
}

func (ts *Toolset) getIncidents(ctx context.Context, in getIncidentsInput) (map[string]any, error) {
	c, err := ts.cfg.ServiceNow.Client(ctx)
	if err != nil {
		return nil, err
	}

	incidents, err := c.ListIncidents(ctx, servicenow.IncidentFilter{
		State:           in.State,
		Priority:        in.Priority,
		AssignmentGroup: in.AssignmentGroup,
		CallerID:        in.CallerID,
		Limit:           limitOr(in.Limit, servicenow.DefaultIncidentLimit),
	})
	if err != nil {
		return nil, fail("Failed to retrieve incidents", err)
	}

	ts.logger.Info("retrieved incidents", "count", len(incidents))
	return map[string]any{
		"count":     len(incidents),
		"incidents": incidents,
	}, nil
}

func (ts *Toolset) createIncident(ctx context.Context, in createIncidentInput) (map[string]any, error) {
	c, err := ts.cfg.ServiceNow.Client(ctx)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{"short_description": in.ShortDescription}
	for k, v := range map[string]string{
		"description":      in.Description,
		"urgency":          in.Urgency,
		"impact":           in.Impact,
		"caller_id":        in.CallerID,
		"assignment_group": in.AssignmentGroup,
		"category":         in.Category,
	} {
		if v != "" {
			fields[k] = v
		}
	}

	rec, err := c.CreateIncident(ctx, fields)
	if err != nil {
		return nil, fail("Failed to create incident", err)
	}

	number, _ := rec["number"].(string)
	ts.logger.Info("created incident", "number", number)
	return map[string]any{
		"message":  fmt.Sprintf("Incident %s created", number),
		"incident": rec,
	}, nil
}
