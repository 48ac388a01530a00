// Package mcp assembles the snow-mcp Model Context Protocol server.
//
// # Transports
//
// RunStdio serves a single session over stdin/stdout, which is how desktop
// assistants launch local MCP servers. HTTPHandler returns a Streamable
// HTTP handler for the gateway; each HTTP session gets its own server
// instance bound to the authenticated caller, so tool calls are attributed
// to the bearer token's subject in the audit log.
//
// # Usage
//
//	srv, err := mcp.NewServer(mcp.Config{Tools: toolset, Version: version})
//	// stdio
//	err = srv.RunStdio(ctx)
//	// or HTTP, behind the bearer middleware
//	router.Handle("/mcp", auth.HTTPAuthMiddleware(tokens)(srv.HTTPHandler()))
//
// # Claude Desktop
//
//	{
//	  "mcpServers": {
//	    "servicenow": {
//	      "command": "snow-mcp",
//	      "args": ["serve"]
//	    }
//	  }
//	}
package mcp
