package localmcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolDeps is what every tool handler closure needs: the per-scope state
// store, the bridge to the extension, and the scope/window resolved for
// the HTTP request the handler's mcp.Server was built for.
type toolDeps struct {
	store    *Store
	bridge   BrowserBridge
	scope    string
	windowID int
}

type navigateInput struct {
	URL string `json:"url" jsonschema:"the URL to navigate the active tab to"`
}

type snapshotInput struct{}

type clickInput struct {
	Selector string `json:"selector" jsonschema:"CSS selector or accessibility ref of the element to click"`
}

type typeInput struct {
	Selector string `json:"selector" jsonschema:"CSS selector or accessibility ref of the element to type into"`
	Text     string `json:"text" jsonschema:"text to type"`
	Submit   bool   `json:"submit,omitempty" jsonschema:"press Enter after typing"`
}

type extractContentInput struct {
	Format string `json:"format,omitempty" jsonschema:"text or markdown, defaults to text"`
}

type screenshotInput struct {
	FullPage bool `json:"fullPage,omitempty" jsonschema:"capture the full scrollable page rather than the viewport"`
}

type switchTabInput struct {
	TabID string `json:"tabId" jsonschema:"id of the tab to make active"`
}

type listBookmarksInput struct {
	Query string `json:"query,omitempty" jsonschema:"optional substring filter over bookmark titles and URLs"`
}

type searchHistoryInput struct {
	Query      string `json:"query,omitempty" jsonschema:"substring to search for in visited page titles and URLs"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"maximum number of entries to return, defaults to 20"`
}

type executeScriptInput struct {
	Script string `json:"script" jsonschema:"JavaScript to evaluate in the active tab and return the result of"`
}

// registerTools adds the browser-control surface to srv, each handler
// closing over deps so it dispatches against the caller's resolved scope
// (spec §4.9: "navigation, DOM snapshot, click/type, content extraction,
// screenshot, bookmarks, history, scripting, etc."). Grounded on
// dorcha-inc-orla's registerTool/mcp.AddTool wiring, generalized from
// shelling out to local executables to forwarding over the extension
// bridge.
func registerTools(srv *mcp.Server, deps toolDeps) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "browser_navigate",
		Description: "Navigate the active tab to a URL.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in navigateInput) (*mcp.CallToolResult, any, error) {
		deps.store.Touch(deps.scope)
		raw, err := deps.bridge.Dispatch(ctx, deps.scope, "navigate", map[string]any{"url": in.URL, "windowId": deps.windowID})
		result, out := bridgeResult(raw, err)
		if pageID := stringField(raw, "pageId"); pageID != "" {
			deps.store.SetActivePage(deps.scope, pageID)
		}
		return result, out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "browser_snapshot",
		Description: "Capture an accessibility-tree snapshot of the active tab's DOM, with stable refs for click/type.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in snapshotInput) (*mcp.CallToolResult, any, error) {
		raw, err := deps.bridge.Dispatch(ctx, deps.scope, "snapshot", deps.activeTabArgs(nil))
		result, out := bridgeResult(raw, err)
		return result, out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "browser_click",
		Description: "Click an element identified by CSS selector or accessibility ref in the active tab.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in clickInput) (*mcp.CallToolResult, any, error) {
		raw, err := deps.bridge.Dispatch(ctx, deps.scope, "click", deps.activeTabArgs(map[string]any{"selector": in.Selector}))
		result, out := bridgeResult(raw, err)
		return result, out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "browser_type",
		Description: "Type text into an element in the active tab, optionally submitting with Enter.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in typeInput) (*mcp.CallToolResult, any, error) {
		raw, err := deps.bridge.Dispatch(ctx, deps.scope, "type", deps.activeTabArgs(map[string]any{
			"selector": in.Selector, "text": in.Text, "submit": in.Submit,
		}))
		result, out := bridgeResult(raw, err)
		return result, out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "browser_extract_content",
		Description: "Extract the active tab's main content as readable text or markdown.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in extractContentInput) (*mcp.CallToolResult, any, error) {
		format := in.Format
		if format == "" {
			format = "text"
		}
		raw, err := deps.bridge.Dispatch(ctx, deps.scope, "extractContent", deps.activeTabArgs(map[string]any{"format": format}))
		result, out := bridgeResult(raw, err)
		return result, out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "browser_screenshot",
		Description: "Capture a screenshot of the active tab as a base64-encoded PNG.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in screenshotInput) (*mcp.CallToolResult, any, error) {
		raw, err := deps.bridge.Dispatch(ctx, deps.scope, "screenshot", deps.activeTabArgs(map[string]any{"fullPage": in.FullPage}))
		result, out := bridgeResult(raw, err)
		return result, out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "browser_switch_tab",
		Description: "Make another open tab the active tab for this conversation.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in switchTabInput) (*mcp.CallToolResult, any, error) {
		raw, err := deps.bridge.Dispatch(ctx, deps.scope, "switchTab", map[string]any{"tabId": in.TabID, "windowId": deps.windowID})
		if err == nil {
			deps.store.SetActivePage(deps.scope, in.TabID)
		}
		result, out := bridgeResult(raw, err)
		return result, out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "browser_list_bookmarks",
		Description: "List the user's bookmarks, optionally filtered by a query substring.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in listBookmarksInput) (*mcp.CallToolResult, any, error) {
		raw, err := deps.bridge.Dispatch(ctx, deps.scope, "listBookmarks", map[string]any{"query": in.Query})
		result, out := bridgeResult(raw, err)
		return result, out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "browser_search_history",
		Description: "Search the user's browsing history.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in searchHistoryInput) (*mcp.CallToolResult, any, error) {
		maxResults := in.MaxResults
		if maxResults <= 0 {
			maxResults = 20
		}
		raw, err := deps.bridge.Dispatch(ctx, deps.scope, "searchHistory", map[string]any{"query": in.Query, "maxResults": maxResults})
		result, out := bridgeResult(raw, err)
		return result, out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "browser_execute_script",
		Description: "Evaluate JavaScript in the active tab and return its result.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in executeScriptInput) (*mcp.CallToolResult, any, error) {
		raw, err := deps.bridge.Dispatch(ctx, deps.scope, "executeScript", deps.activeTabArgs(map[string]any{"script": in.Script}))
		result, out := bridgeResult(raw, err)
		return result, out, nil
	})
}

// activeTabArgs merges the scope's resolved active page/window into a
// command's arguments so the extension knows which tab to act on (spec
// §4.9: "resolves a per-scope browser state ... so that tool invocations
// target the right tab").
func (d toolDeps) activeTabArgs(extra map[string]any) map[string]any {
	d.store.Touch(d.scope)
	state := d.store.Get(d.scope)
	args := map[string]any{"pageId": state.ActivePageID, "windowId": d.windowID}
	for k, v := range extra {
		args[k] = v
	}
	return args
}

// bridgeResult turns a bridge round trip into MCP result/structured-output
// values: a transport or extension-reported failure becomes an IsError
// result rather than a Go error, matching the dispatcher's result-type
// discipline (spec §9) one layer further out.
func bridgeResult(raw json.RawMessage, err error) (*mcp.CallToolResult, any) {
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		}, nil
	}

	var out any
	if len(raw) > 0 {
		if jsonErr := json.Unmarshal(raw, &out); jsonErr != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("malformed extension response: %v", jsonErr)}},
			}, nil
		}
	}
	return &mcp.CallToolResult{}, out
}

func stringField(raw json.RawMessage, field string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	v, _ := m[field].(string)
	return v
}
