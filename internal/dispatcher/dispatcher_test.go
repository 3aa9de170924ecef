package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type fakeClient struct {
	result      *mcp.CallToolResult
	err         error
	delay       time.Duration
	lastHeaders map[string]string
}

func (f *fakeClient) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeClient) SetCallHeaders(headers map[string]string) {
	f.lastHeaders = headers
}

type fakePool struct {
	clients map[string]ToolClient
}

func (p *fakePool) Lookup(toolName string) (ToolClient, bool) {
	c, ok := p.clients[toolName]
	return c, ok
}

func call(toolName string, input string) models.ToolCallPart {
	return models.ToolCallPart{CallID: "call-1", ToolName: toolName, Input: json.RawMessage(input)}
}

func TestCallUnknownTool(t *testing.T) {
	d := New(time.Second, nil)
	pool := &fakePool{clients: map[string]ToolClient{}}

	result := d.Call(context.Background(), pool, call("browser_navigate", `{}`), CallContext{Scope: "conv-1"})

	if result.Output.Kind != models.ToolOutputErrorText {
		t.Fatalf("kind = %v, want ToolOutputErrorText", result.Output.Kind)
	}
	if result.Output.Text == "" {
		t.Errorf("expected non-empty error message")
	}
}

func TestCallSuccessTextResult(t *testing.T) {
	fc := &fakeClient{result: &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok"}}}}
	pool := &fakePool{clients: map[string]ToolClient{"browser_navigate": fc}}
	d := New(time.Second, nil)

	result := d.Call(context.Background(), pool, call("browser_navigate", `{"url":"https://example.com"}`), CallContext{Scope: "conv-1", ActiveWindowID: 7})

	if result.Output.Kind != models.ToolOutputText {
		t.Fatalf("kind = %v, want ToolOutputText", result.Output.Kind)
	}
	if result.Output.Text != "ok" {
		t.Errorf("text = %q, want %q", result.Output.Text, "ok")
	}
	if fc.lastHeaders[models.ScopeHeader] != "conv-1" {
		t.Errorf("scope header = %q, want %q", fc.lastHeaders[models.ScopeHeader], "conv-1")
	}
	if fc.lastHeaders[models.ActiveWindowHeader] != "7" {
		t.Errorf("active window header = %q, want %q", fc.lastHeaders[models.ActiveWindowHeader], "7")
	}
}

func TestCallReportedError(t *testing.T) {
	fc := &fakeClient{result: &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: "element not found"}}}}
	pool := &fakePool{clients: map[string]ToolClient{"browser_click": fc}}
	d := New(time.Second, nil)

	result := d.Call(context.Background(), pool, call("browser_click", `{}`), CallContext{Scope: "conv-1"})

	if result.Output.Kind != models.ToolOutputErrorText {
		t.Fatalf("kind = %v, want ToolOutputErrorText", result.Output.Kind)
	}
	if result.Output.Text != "element not found" {
		t.Errorf("error text = %q, want %q", result.Output.Text, "element not found")
	}
}

func TestCallStructuredContentBecomesJSON(t *testing.T) {
	fc := &fakeClient{result: &mcp.CallToolResult{StructuredContent: map[string]any{"title": "Example"}}}
	pool := &fakePool{clients: map[string]ToolClient{"browser_get_page_info": fc}}
	d := New(time.Second, nil)

	result := d.Call(context.Background(), pool, call("browser_get_page_info", `{}`), CallContext{Scope: "conv-1"})

	if result.Output.Kind != models.ToolOutputJSON {
		t.Fatalf("kind = %v, want ToolOutputJSON", result.Output.Kind)
	}
	if len(result.Output.JSON) == 0 {
		t.Errorf("expected non-empty JSON payload")
	}
}

func TestCallTimeout(t *testing.T) {
	fc := &fakeClient{delay: 50 * time.Millisecond}
	pool := &fakePool{clients: map[string]ToolClient{"browser_wait": fc}}
	d := New(5*time.Millisecond, nil)

	result := d.Call(context.Background(), pool, call("browser_wait", `{}`), CallContext{Scope: "conv-1"})

	if result.Output.Kind != models.ToolOutputErrorText {
		t.Fatalf("kind = %v, want ToolOutputErrorText", result.Output.Kind)
	}
	if result.Output.Text == "" {
		t.Errorf("expected non-empty timeout message")
	}
}

func TestCallTransportFailure(t *testing.T) {
	fc := &fakeClient{err: errors.New("connection reset")}
	pool := &fakePool{clients: map[string]ToolClient{"browser_navigate": fc}}
	d := New(time.Second, nil)

	result := d.Call(context.Background(), pool, call("browser_navigate", `{}`), CallContext{Scope: "conv-1"})

	if result.Output.Kind != models.ToolOutputErrorText {
		t.Fatalf("kind = %v, want ToolOutputErrorText", result.Output.Kind)
	}
	if result.Output.Text != "connection reset" {
		t.Errorf("error text = %q, want %q", result.Output.Text, "connection reset")
	}
}

func TestCallMalformedInput(t *testing.T) {
	fc := &fakeClient{result: &mcp.CallToolResult{}}
	pool := &fakePool{clients: map[string]ToolClient{"browser_navigate": fc}}
	d := New(time.Second, nil)

	result := d.Call(context.Background(), pool, call("browser_navigate", `not-json`), CallContext{Scope: "conv-1"})

	if result.Output.Kind != models.ToolOutputErrorText {
		t.Fatalf("kind = %v, want ToolOutputErrorText", result.Output.Kind)
	}
}
