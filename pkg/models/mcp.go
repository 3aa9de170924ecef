package models

import "time"

// MCPTransportKind is the transport an MCPClient negotiated with its server.
type MCPTransportKind string

const (
	MCPTransportStreamableHTTP MCPTransportKind = "streamable-http"
	MCPTransportSSE            MCPTransportKind = "sse"
)

// MCPServerSource identifies which of the three sources (spec §4.2) a
// server spec came from.
type MCPServerSource string

const (
	MCPSourceLocal    MCPServerSource = "local"
	MCPSourceExternal MCPServerSource = "external-aggregator"
	MCPSourceCustom   MCPServerSource = "custom"
)

// MCPServerSpec describes one MCP endpoint the pool should connect to.
type MCPServerSpec struct {
	Source  MCPServerSource
	URL     string
	Headers map[string]string

	// ReListInterval, when non-zero, tells the pool to periodically
	// re-list this server's tools (spec §4.2: "the external aggregator
	// re-lists every few minutes").
	ReListInterval time.Duration
}

// ScopeHeader is the header name the local MCP server and tool dispatcher
// use to namespace browser state per conversation (spec glossary "Scope").
const ScopeHeader = "X-BrowserOS-Scope"

// ActiveWindowHeader carries the active window id injected by the
// dispatcher into local-MCP tool calls (spec §4.3(b)).
const ActiveWindowHeader = "X-BrowserOS-Active-Window"
