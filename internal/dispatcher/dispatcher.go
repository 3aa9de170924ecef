// Package dispatcher implements the Tool Dispatcher (spec §4.3):
// call(toolCall, signal) -> ToolResult. It looks up the owning MCP
// client, injects conversation-scoped headers, applies a hard wall-clock
// timeout, and normalizes every outcome (success, reported error,
// timeout, transport failure) into a ToolResultPart — never an error
// returned to the reasoning loop (spec §9 "result-type discipline").
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/mcppool"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/contracts"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

const defaultCallTimeout = 60 * time.Second

// ToolClient is the subset of *mcppool.Client the dispatcher depends on,
// named as an interface so tests can substitute a fake MCP endpoint.
type ToolClient interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	SetCallHeaders(headers map[string]string)
}

// Pool is the subset of *mcppool.Pool the dispatcher depends on.
type Pool interface {
	Lookup(toolName string) (ToolClient, bool)
}

// poolAdapter narrows *mcppool.Pool.Lookup's concrete *mcppool.Client
// return value to the ToolClient interface, since Go interface
// satisfaction requires exact method signatures.
type poolAdapter struct{ pool *mcppool.Pool }

// WrapPool adapts a concrete *mcppool.Pool to the Pool interface.
func WrapPool(p *mcppool.Pool) Pool { return poolAdapter{pool: p} }

func (a poolAdapter) Lookup(toolName string) (ToolClient, bool) {
	client, ok := a.pool.Lookup(toolName)
	if !ok {
		return nil, false
	}
	return client, true
}

// Catalog returns the pool's merged tool catalog in registration order, for
// callers (the reasoning loop) that need it alongside Lookup.
func (a poolAdapter) Catalog() []models.ToolDefinition {
	return a.pool.Catalog().List()
}

// Dispatcher routes ToolCallParts to the MCP client that owns each tool
// name, sequentially within one turn (spec §4.3: "concurrent dispatch per
// turn is explicitly forbidden").
type Dispatcher struct {
	timeout  time.Duration
	reporter contracts.ErrorReporter
}

func New(timeout time.Duration, reporter contracts.ErrorReporter) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Dispatcher{timeout: timeout, reporter: reporter}
}

// CallContext carries the conversation-scoped values the local MCP server
// needs to resolve per-scope browser state (spec §4.3(b), §4.9).
type CallContext struct {
	Scope          string
	ActiveWindowID int
}

func (cc CallContext) headers() map[string]string {
	headers := map[string]string{models.ScopeHeader: cc.Scope}
	if cc.ActiveWindowID != 0 {
		headers[models.ActiveWindowHeader] = fmt.Sprintf("%d", cc.ActiveWindowID)
	}
	return headers
}

// Call executes one tool call and always returns a ToolResultPart —
// reported errors, timeouts, and transport failures are normalized into
// the result rather than returned as a Go error (spec §4.3).
func (d *Dispatcher) Call(ctx context.Context, pool Pool, call models.ToolCallPart, cc CallContext) models.ToolResultPart {
	client, ok := pool.Lookup(call.ToolName)
	if !ok {
		return errorResult(call, fmt.Sprintf("unknown tool %q", call.ToolName))
	}

	client.SetCallHeaders(cc.headers())

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var input map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &input); err != nil {
			return errorResult(call, fmt.Sprintf("malformed input for tool %q: %v", call.ToolName, err))
		}
	}

	result, err := client.CallTool(callCtx, &mcp.CallToolParams{Name: call.ToolName, Arguments: input})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return errorResult(call, fmt.Sprintf("Tool %s timed out after %ds", call.ToolName, int(d.timeout.Seconds())))
		}
		d.reportTransportFailure(ctx, call, err)
		return errorResult(call, err.Error())
	}

	return normalizeResult(call, result)
}

func (d *Dispatcher) reportTransportFailure(ctx context.Context, call models.ToolCallPart, err error) {
	log.Warn().Err(err).Str("tool", call.ToolName).Str("callId", call.CallID).Msg("dispatcher: tool call transport failure")
	if d.reporter == nil {
		return
	}
	d.reporter.ReportError(ctx, fmt.Errorf("tool %s: %w", call.ToolName, err), map[string]string{
		"tool":   call.ToolName,
		"callId": call.CallID,
	})
}

func errorResult(call models.ToolCallPart, message string) models.ToolResultPart {
	return models.ToolResultPart{
		CallID:   call.CallID,
		ToolName: call.ToolName,
		Output:   models.ErrorTextOutput(message),
	}
}

// normalizeResult maps an MCP CallToolResult onto ToolOutput (spec
// §4.3): a reported server error becomes error-text; structured content
// becomes json; anything else collapses to text.
func normalizeResult(call models.ToolCallPart, result *mcp.CallToolResult) models.ToolResultPart {
	text := flattenContent(result.Content)

	if result.IsError {
		return models.ToolResultPart{CallID: call.CallID, ToolName: call.ToolName, Output: models.ErrorTextOutput(text)}
	}

	if result.StructuredContent != nil {
		if raw, err := json.Marshal(result.StructuredContent); err == nil && len(raw) > 0 && string(raw) != "null" {
			return models.ToolResultPart{CallID: call.CallID, ToolName: call.ToolName, Output: models.JSONOutput(raw)}
		}
	}

	return models.ToolResultPart{CallID: call.CallID, ToolName: call.ToolName, Output: models.TextOutput(text)}
}

func flattenContent(content []mcp.Content) string {
	var out string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			out += tc.Text
			continue
		}
		if raw, err := json.Marshal(c); err == nil {
			out += string(raw)
		}
	}
	return out
}

