package mcppool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// testToolInput is the (unused) input type for every stub tool registered
// by newTestMCPServer: these tests only exercise ListTools and the
// pool's tool-name merge behavior, never an actual tool call.
type testToolInput struct{}

// newTestMCPServer starts a real in-process MCP endpoint over
// StreamableHTTP, advertising one no-op tool per name in toolNames. This
// lets Pool.connect exercise the real probe, transport, and ListTools
// round trip instead of a hand-rolled fake.
func newTestMCPServer(t *testing.T, toolNames ...string) *httptest.Server {
	t.Helper()

	srv := mcp.NewServer(&mcp.Implementation{Name: "test-mcp-server", Version: "1.0.0"}, nil)
	for _, name := range toolNames {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        name,
			Description: "stub tool " + name,
		}, func(ctx context.Context, req *mcp.CallToolRequest, in testToolInput) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok"}}}, nil, nil
		})
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, &mcp.StreamableHTTPOptions{Stateless: true})
	httpSrv := httptest.NewServer(handler)
	t.Cleanup(httpSrv.Close)
	return httpSrv
}

func TestPoolBuildMergesToolsFromMultipleClients(t *testing.T) {
	localSrv := newTestMCPServer(t, "tool_a", "tool_b")
	customSrv := newTestMCPServer(t, "tool_c")

	p := New(NewProbeCache())
	localSpec := models.MCPServerSpec{Source: models.MCPSourceLocal, URL: localSrv.URL}

	if err := p.Build(context.Background(), localSpec, nil, "tenant-1", []string{customSrv.URL}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got, want := p.Catalog().Len(), 3; got != want {
		t.Fatalf("catalog len = %d, want %d", got, want)
	}
	for _, name := range []string{"tool_a", "tool_b", "tool_c"} {
		if _, ok := p.Catalog().Lookup(name); !ok {
			t.Errorf("catalog missing tool %q", name)
		}
	}
}

func TestPoolConnectDuplicateToolNameFirstWins(t *testing.T) {
	localSrv := newTestMCPServer(t, "shared_tool")
	customSrv := newTestMCPServer(t, "shared_tool")

	p := New(NewProbeCache())
	localSpec := models.MCPServerSpec{Source: models.MCPSourceLocal, URL: localSrv.URL}

	if err := p.Build(context.Background(), localSpec, nil, "tenant-1", []string{customSrv.URL}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got, want := p.Catalog().Len(), 1; got != want {
		t.Fatalf("catalog len = %d, want %d (duplicate name must collapse to one entry)", got, want)
	}
	def, ok := p.Catalog().Lookup("shared_tool")
	if !ok {
		t.Fatal("catalog missing shared_tool")
	}
	if def.ClientID != localSrv.URL {
		t.Errorf("shared_tool owner = %q, want local server %q (first-registered-wins)", def.ClientID, localSrv.URL)
	}
}

// fakeAggregator lets relist tests swap the negotiated spec under a fixed
// mutex-guarded pointer, simulating the aggregator's integration set
// changing between re-lists (spec §4.2).
type fakeAggregator struct {
	mu   sync.Mutex
	spec *models.MCPServerSpec
}

func (f *fakeAggregator) Negotiate(ctx context.Context, tenantID string) (*models.MCPServerSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spec, nil
}

func (f *fakeAggregator) set(spec *models.MCPServerSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spec = spec
}

func TestPoolRelistReconnectPurgesStaleCatalogEntries(t *testing.T) {
	localSrv := newTestMCPServer(t, "local_tool")
	aggSrvOld := newTestMCPServer(t, "old_integration_tool")
	aggSrvNew := newTestMCPServer(t, "new_integration_tool")

	oldSpec := &models.MCPServerSpec{Source: models.MCPSourceExternal, URL: aggSrvOld.URL, ReListInterval: time.Hour}
	agg := &fakeAggregator{spec: oldSpec}

	p := New(NewProbeCache())
	localSpec := models.MCPServerSpec{Source: models.MCPSourceLocal, URL: localSrv.URL}

	// Build without starting the real relist goroutine: connect the
	// aggregator spec directly so the test controls exactly when relist
	// runs.
	if err := p.connect(context.Background(), localSpec); err != nil {
		t.Fatalf("connect local: %v", err)
	}
	if err := p.connect(context.Background(), *oldSpec); err != nil {
		t.Fatalf("connect aggregator (old): %v", err)
	}

	if _, ok := p.Catalog().Lookup("old_integration_tool"); !ok {
		t.Fatal("catalog missing old_integration_tool before relist")
	}

	newSpec := &models.MCPServerSpec{Source: models.MCPSourceExternal, URL: aggSrvNew.URL, ReListInterval: time.Hour}
	agg.set(newSpec)

	p.relist(context.Background(), *oldSpec, agg, "tenant-1")

	if _, ok := p.Catalog().Lookup("old_integration_tool"); ok {
		t.Error("catalog still has old_integration_tool after the integration set changed, want it purged")
	}
	if _, ok := p.Catalog().Lookup("new_integration_tool"); !ok {
		t.Error("catalog missing new_integration_tool after reconnect")
	}
	if _, ok := p.Catalog().Lookup("local_tool"); !ok {
		t.Error("relist must not disturb the unrelated local client's tools")
	}
}
