package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/herald/internal/auditlog"
	"github.com/hpungsan/herald/internal/engine"
	"github.com/hpungsan/herald/internal/errors"
	"github.com/hpungsan/herald/internal/state"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	runner *engine.Runner
	log    *auditlog.Log
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(runner *engine.Runner, log *auditlog.Log) *Handlers {
	return &Handlers{runner: runner, log: log}
}

// TargetRequest represents the arguments for herald_target.
type TargetRequest struct {
	Mode  string `json:"mode"`
	Owner string `json:"owner,omitempty"`
	Name  string `json:"name,omitempty"`
}

// LogRequest represents the arguments for herald_log.
type LogRequest struct {
	ID    string `json:"id,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// StatusResponse is the herald_status payload.
type StatusResponse struct {
	Active      bool            `json:"active"`
	Mode        state.Mode      `json:"mode"`
	Target      string          `json:"target"`
	Marker      string          `json:"last_processed_marker,omitempty"`
	PostsToday  int             `json:"posts_today"`
	QuotaDate   string          `json:"quota_date,omitempty"`
	LastPostAt  string          `json:"last_post_at,omitempty"`
	LastOutcome *engine.Outcome `json:"last_outcome,omitempty"`
}

// HandleStatus handles the herald_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, last, err := h.runner.Snapshot()
	if err != nil {
		return errorResult(err), nil
	}

	resp := StatusResponse{
		Active:      st.Active,
		Mode:        st.Mode,
		Target:      st.RepoKey(),
		Marker:      st.LastProcessedMarker,
		PostsToday:  st.PostsToday,
		QuotaDate:   st.QuotaDate,
		LastOutcome: last,
	}
	if !st.LastPostAt.IsZero() {
		resp.LastPostAt = st.LastPostAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return successResult(resp)
}

// HandleTick handles the herald_tick tool call.
func (h *Handlers) HandleTick(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := h.runner.Tick(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleEnable handles the herald_enable tool call.
func (h *Handlers) HandleEnable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.setActive(true)
}

// HandleDisable handles the herald_disable tool call.
func (h *Handlers) HandleDisable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.setActive(false)
}

func (h *Handlers) setActive(active bool) (*mcp.CallToolResult, error) {
	st, err := h.runner.SetActive(active)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"active": st.Active})
}

// HandleTarget handles the herald_target tool call.
func (h *Handlers) HandleTarget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TargetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	st, err := h.runner.SetTarget(state.Mode(input.Mode), input.Owner, input.Name)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"mode":   st.Mode,
		"target": st.RepoKey(),
	})
}

// HandleLog handles the herald_log tool call.
func (h *Handlers) HandleLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LogRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if input.ID != "" {
		rec, err := h.log.Get(ctx, input.ID)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(rec)
	}

	recs, err := h.log.Recent(ctx, input.Limit)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"records": recs,
		"count":   len(recs),
	})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if hErr, ok := err.(*errors.HeraldError); ok {
		errorObj := map[string]any{
			"code":    hErr.Code,
			"message": hErr.Message,
			"status":  hErr.Status,
		}
		if hErr.Code != errors.ErrInternal && hErr.Details != nil {
			errorObj["details"] = hErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
