// Package mcp exposes the engine over the Model Context Protocol so agent
// frontends can drive it: inspect status, trigger ticks, flip the switch,
// retarget, and read the audit trail.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/herald/internal/auditlog"
	"github.com/hpungsan/herald/internal/engine"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"herald_status": {
		def: mcp.NewTool("herald_status",
			mcp.WithDescription("Report the engine state: active flag, monitor target, progress marker, daily quota usage, and the most recent tick outcome."),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"herald_tick": {
		def: mcp.NewTool("herald_tick",
			mcp.WithDescription("Run one decision cycle now. Returns the outcome reason (posted, no_changes, batching, rate_limited, ...) and the decision trail. Reports tick_in_progress when another tick is running."),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTick },
	},
	"herald_enable": {
		def: mcp.NewTool("herald_enable",
			mcp.WithDescription("Turn the engine on. Until enabled, ticks are no-ops and nothing is published."),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEnable },
	},
	"herald_disable": {
		def: mcp.NewTool("herald_disable",
			mcp.WithDescription("Turn the engine off. State and history are kept; publishing stops immediately."),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDisable },
	},
	"herald_target": {
		def: mcp.NewTool("herald_target",
			mcp.WithDescription("Point the engine at a repository. Mode local watches the configured checkout; mode remote polls a hosted repository and needs owner and name. Changing target resets progress markers."),
			mcp.WithString("mode",
				mcp.Required(),
				mcp.Description("Monitor mode: local or remote."),
				mcp.Enum("local", "remote"),
			),
			mcp.WithString("owner",
				mcp.Description("Repository owner, required in remote mode."),
			),
			mcp.WithString("name",
				mcp.Description("Repository name, required in remote mode."),
			),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTarget },
	},
	"herald_log": {
		def: mcp.NewTool("herald_log",
			mcp.WithDescription("Read the audit trail, newest first. Pass id to fetch one record with its full content."),
			mcp.WithString("id",
				mcp.Description("Fetch a single audit record by id."),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum records to return (default 50)."),
			),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLog },
	},
}

// AllToolNames returns a list of all tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// NewServer creates an MCP server with the herald tools registered.
func NewServer(runner *engine.Runner, log *auditlog.Log, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"herald",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(runner, log)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(runner *engine.Runner, log *auditlog.Log, version string) error {
	return server.ServeStdio(NewServer(runner, log, version))
}
