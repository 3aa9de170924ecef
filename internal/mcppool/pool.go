// Package mcppool implements the MCP Client Pool (spec §4.2): per
// conversation, it opens a client to each of the three MCP server-spec
// sources (local, external-aggregator, custom), probes transport, lists
// tools, and merges everything into one name-keyed catalog. Grounded on
// internal/integrations/picoclaw/{gateway.go,heartbeat.go}'s
// mutex-guarded active-handle map and periodic re-list loop.
package mcppool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// AggregatorClient negotiates the external-integrations MCP endpoint once
// per conversation (spec §4.2 source 2: "negotiated once per Conversation
// via an external brokerage call"). A nil spec with a nil error means the
// tenant has no integrations enabled.
type AggregatorClient interface {
	Negotiate(ctx context.Context, tenantID string) (*models.MCPServerSpec, error)
}

// headerInjector is an http.RoundTripper that stamps the current
// conversation-scoped headers onto every outgoing request. The pool's
// HTTP-based transports are built on top of one of these so the
// dispatcher can change the active-window header between calls without
// reconnecting (spec §4.3(b): "the local MCP this includes the active
// window identifier from browser context").
type headerInjector struct {
	mu      sync.RWMutex
	headers map[string]string
	base    http.RoundTripper
}

func (h *headerInjector) RoundTrip(req *http.Request) (*http.Response, error) {
	h.mu.RLock()
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	h.mu.RUnlock()
	return h.base.RoundTrip(req)
}

func (h *headerInjector) set(headers map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.headers = headers
}

// Client wraps one connected MCP endpoint: its transport session, the
// spec it was built from, and the tool names it contributed to the merged
// catalog (so Pool can drop them cleanly on reconnect).
type Client struct {
	Spec      models.MCPServerSpec
	session   *mcp.ClientSession
	toolNames []string
	headers   *headerInjector
}

// CallTool issues one MCP tool call against this client's session.
func (c *Client) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	return c.session.CallTool(ctx, params)
}

// SetCallHeaders updates the per-request headers stamped onto this
// client's outgoing HTTP requests (scope, active window id), letting the
// dispatcher target the right tab without reconnecting between calls.
func (c *Client) SetCallHeaders(headers map[string]string) {
	if c.headers != nil {
		c.headers.set(headers)
	}
}

func (c *Client) close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

// Pool owns every MCPClient opened for one Conversation and the catalog
// merged from their tool lists (spec §3: "Shared by exactly one
// Conversation").
type Pool struct {
	mu       sync.RWMutex
	clients  []*Client
	catalog  *models.ToolCatalog
	toolHome map[string]*Client // tool name -> owning client, first-registered-wins

	implementation *mcp.Implementation
	probeCache     *ProbeCache

	relistCancel context.CancelFunc
	relistWG     sync.WaitGroup
}

// New creates an empty pool, ready for Build.
func New(cache *ProbeCache) *Pool {
	return &Pool{
		catalog:  models.NewToolCatalog(),
		toolHome: make(map[string]*Client),
		implementation: &mcp.Implementation{
			Name:    "browseros-agent-runtime",
			Version: "1.0.0",
		},
		probeCache: cache,
	}
}

// Build assembles the three spec sources (spec §4.2) and connects each:
// the always-present local spec, the negotiated aggregator spec (if
// aggregator is non-nil and the tenant has integrations), and the
// caller-supplied custom URLs. Partial failures are logged and skipped —
// one broken custom URL must not prevent the conversation from starting.
func (p *Pool) Build(ctx context.Context, localSpec models.MCPServerSpec, aggregator AggregatorClient, tenantID string, customURLs []string) error {
	specs := []models.MCPServerSpec{localSpec}

	if aggregator != nil {
		aggSpec, err := aggregator.Negotiate(ctx, tenantID)
		if err != nil {
			log.Warn().Err(err).Msg("mcppool: aggregator negotiation failed, continuing without it")
		} else if aggSpec != nil {
			specs = append(specs, *aggSpec)
		}
	}

	for _, u := range customURLs {
		specs = append(specs, models.MCPServerSpec{Source: models.MCPSourceCustom, URL: u})
	}

	for _, spec := range specs {
		if err := p.connect(ctx, spec); err != nil {
			log.Warn().Err(err).Str("url", spec.URL).Str("source", string(spec.Source)).Msg("mcppool: failed to connect, skipping")
			continue
		}
	}

	for _, spec := range specs {
		if spec.ReListInterval > 0 {
			p.startRelist(ctx, spec, aggregator, tenantID)
		}
	}

	if len(p.clients) == 0 {
		return fmt.Errorf("mcppool: no MCP server could be reached")
	}
	return nil
}

// connect probes transport, opens a client, lists tools, and merges them
// into the catalog first-registered-wins (spec §4.2).
func (p *Pool) connect(ctx context.Context, spec models.MCPServerSpec) error {
	injector := &headerInjector{headers: spec.Headers, base: http.DefaultTransport}
	transport, err := p.buildTransport(ctx, spec, injector)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}

	mcpClient := mcp.NewClient(p.implementation, nil)
	session, err := mcpClient.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	client := &Client{Spec: spec, session: session, headers: injector}

	if err := p.listAndMerge(ctx, client); err != nil {
		_ = session.Close()
		return err
	}

	p.mu.Lock()
	p.clients = append(p.clients, client)
	p.mu.Unlock()
	return nil
}

func (p *Pool) listAndMerge(ctx context.Context, client *Client) error {
	result, err := client.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range result.Tools {
		def := models.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: marshalSchema(t.InputSchema),
			ClientID:    client.Spec.URL,
		}
		if p.catalog.Register(def) {
			client.toolNames = append(client.toolNames, t.Name)
			p.toolHome[t.Name] = client
		} else {
			log.Warn().Str("tool", t.Name).Str("url", client.Spec.URL).Msg("mcppool: duplicate tool name, first-registered-wins")
		}
	}
	return nil
}

// buildTransport probes streamable-HTTP first, falling back to SSE, per
// spec §4.2, consulting the 1h probe cache.
func (p *Pool) buildTransport(ctx context.Context, spec models.MCPServerSpec, injector *headerInjector) (mcp.Transport, error) {
	kind, err := p.probeCache.detect(ctx, spec.URL, spec.Headers)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second, Transport: injector}
	switch kind {
	case models.MCPTransportSSE:
		return &mcp.SSEClientTransport{Endpoint: spec.URL, HTTPClient: httpClient}, nil
	default:
		return &mcp.StreamableClientTransport{Endpoint: spec.URL, HTTPClient: httpClient}, nil
	}
}

// startRelist launches the periodic re-list goroutine for one spec (spec
// §4.2: "the external aggregator re-lists every few minutes and
// disconnects/reconnects if the authenticated-integration set changes").
func (p *Pool) startRelist(ctx context.Context, spec models.MCPServerSpec, aggregator AggregatorClient, tenantID string) {
	ctx, cancel := context.WithCancel(ctx)
	p.relistCancel = cancel
	p.relistWG.Add(1)

	go func() {
		defer p.relistWG.Done()
		ticker := time.NewTicker(spec.ReListInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.relist(ctx, spec, aggregator, tenantID)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *Pool) relist(ctx context.Context, spec models.MCPServerSpec, aggregator AggregatorClient, tenantID string) {
	if aggregator != nil {
		fresh, err := aggregator.Negotiate(ctx, tenantID)
		if err != nil {
			log.Warn().Err(err).Msg("mcppool: relist negotiation failed")
			return
		}
		if fresh == nil || fresh.URL != spec.URL {
			log.Info().Msg("mcppool: aggregator integration set changed, reconnecting")
			p.disconnectSpec(spec)
			if fresh != nil {
				if err := p.connect(ctx, *fresh); err != nil {
					log.Warn().Err(err).Msg("mcppool: reconnect after relist failed")
				}
			}
			return
		}
	}

	p.mu.RLock()
	var target *Client
	for _, c := range p.clients {
		if c.Spec.URL == spec.URL {
			target = c
			break
		}
	}
	p.mu.RUnlock()
	if target == nil {
		return
	}
	if err := p.listAndMerge(ctx, target); err != nil {
		log.Warn().Err(err).Str("url", spec.URL).Msg("mcppool: relist failed")
	}
}

// disconnectSpec closes and forgets every client connected to spec.URL,
// purging their tool names from both toolHome and the merged catalog so a
// subsequent connect()+listAndMerge() for a changed integration set isn't
// blocked by stale first-registered-wins entries (spec §4.2 reconnect).
func (p *Pool) disconnectSpec(spec models.MCPServerSpec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.clients[:0]
	for _, c := range p.clients {
		if c.Spec.URL == spec.URL {
			for _, name := range c.toolNames {
				delete(p.toolHome, name)
				p.catalog.Remove(name)
			}
			_ = c.close()
			continue
		}
		kept = append(kept, c)
	}
	p.clients = kept
}

// Catalog returns the merged tool catalog built so far.
func (p *Pool) Catalog() *models.ToolCatalog {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.catalog
}

// Lookup returns the client owning toolName, if any.
func (p *Pool) Lookup(toolName string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.toolHome[toolName]
	return c, ok
}

// Close releases every client's transport (spec §4.2: "errors are
// swallowed (best-effort release)").
func (p *Pool) Close() {
	if p.relistCancel != nil {
		p.relistCancel()
	}
	p.relistWG.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if err := c.close(); err != nil {
			log.Debug().Err(err).Str("url", c.Spec.URL).Msg("mcppool: close failed, ignoring")
		}
	}
	p.clients = nil
}

// marshalSchema re-serializes the go-sdk's parsed JSON-schema type back
// into raw bytes for models.ToolDefinition.InputSchema, which keeps this
// package's own schema representation independent of the MCP SDK's type.
func marshalSchema(schema any) json.RawMessage {
	if schema == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(schema)
	if err != nil || len(b) == 0 {
		return json.RawMessage("{}")
	}
	return b
}
