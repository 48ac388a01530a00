// Package tools defines the MCP tools snow-mcp exposes and their handlers.
//
// Every tool answers with a JSON object carrying "success" and "timestamp".
// Failures never surface as protocol errors; they come back as
//
//	{"success": false, "error": "...", "timestamp": "..."}
//
// Tools are grouped the same way the handlers are:
//
//   - incidents: get_servicenow_incidents, create_servicenow_incident (writes enabled only)
//   - knowledge: search_knowledge_base, get_knowledge_article
//   - connection: test_connection
//   - tokens: generate_jwt_token, validate_jwt_token, refresh_jwt_token,
//     get_jwt_token_info, revoke_jwt_token (ledger only)
//
// Each call is traced, counted and, when an audit store is configured,
// written to the audit log with its non-secret arguments.
package tools
