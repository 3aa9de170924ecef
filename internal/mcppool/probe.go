package mcppool

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

const probeTTL = time.Hour

type probeEntry struct {
	kind      models.MCPTransportKind
	expiresAt time.Time
}

// ProbeCache remembers which transport an MCP URL negotiated, for one
// hour per URL, refusing to cache a probe that failed with a 5xx (spec
// §4.2) — grounded on the teacher's internal/catalog.Catalog
// mutex-guarded refresh-cache shape, narrowed to an in-memory-only TTL
// map (no local-file persistence; transport choice isn't worth
// surviving a restart for).
type ProbeCache struct {
	mu      sync.Mutex
	entries map[string]probeEntry
	client  *http.Client
	now     func() time.Time
}

// NewProbeCache creates the process-wide transport probe cache (spec §9:
// "the only truly process-wide state is the Session Registry, the
// MCP-transport probe cache, and the metrics/analytics client"). Share
// one instance across every conversation's Pool.
func NewProbeCache() *ProbeCache {
	return &ProbeCache{
		entries: make(map[string]probeEntry),
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
}

// detect returns the cached transport kind for url if still fresh,
// otherwise probes the endpoint with one HEAD request: a response whose
// Content-Type is text/event-stream means SSE, anything else (including a
// network error) means streamable-HTTP.
func (c *ProbeCache) detect(ctx context.Context, url string, headers map[string]string) (models.MCPTransportKind, error) {
	c.mu.Lock()
	entry, ok := c.entries[url]
	c.mu.Unlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.kind, nil
	}

	kind, status, err := c.probe(ctx, url, headers)
	if err != nil {
		return "", err
	}

	// A transient 5xx must not be cached (spec §4.2): the server may be
	// mid-deploy and recover on the next conversation.
	if status >= 500 {
		return kind, nil
	}

	c.mu.Lock()
	c.entries[url] = probeEntry{kind: kind, expiresAt: c.now().Add(probeTTL)}
	c.mu.Unlock()
	return kind, nil
}

func (c *ProbeCache) probe(ctx context.Context, url string, headers map[string]string) (models.MCPTransportKind, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "text/event-stream, application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors most commonly mean "this endpoint doesn't speak
		// plain HTTP HEAD"; streamable-HTTP is still the default guess.
		return models.MCPTransportStreamableHTTP, 0, nil
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct == "text/event-stream" {
		return models.MCPTransportSSE, resp.StatusCode, nil
	}
	return models.MCPTransportStreamableHTTP, resp.StatusCode, nil
}
