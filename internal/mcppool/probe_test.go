package mcppool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

func TestProbeCacheDetectsStreamableHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewProbeCache()
	kind, err := c.detect(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if kind != models.MCPTransportStreamableHTTP {
		t.Errorf("kind = %v, want streamable-http", kind)
	}
}

func TestProbeCacheDetectsSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewProbeCache()
	kind, err := c.detect(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if kind != models.MCPTransportSSE {
		t.Errorf("kind = %v, want sse", kind)
	}
}

func TestProbeCacheCachesResult(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewProbeCache()
	if _, err := c.detect(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if _, err := c.detect(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("detect (cached): %v", err)
	}
	if calls != 1 {
		t.Errorf("server hit %d times, want 1 (second call should be cached)", calls)
	}
}

func TestProbeCacheDoesNotCache5xx(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewProbeCache()
	if _, err := c.detect(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if _, err := c.detect(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("detect (second): %v", err)
	}
	if calls != 2 {
		t.Errorf("server hit %d times, want 2 (a 5xx probe must not be cached)", calls)
	}
}

func TestProbeCacheExpiresAfterTTL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewProbeCache()
	start := time.Now()
	c.now = func() time.Time { return start }

	if _, err := c.detect(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("detect: %v", err)
	}

	c.now = func() time.Time { return start.Add(2 * time.Hour) }
	if _, err := c.detect(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("detect (after ttl): %v", err)
	}
	if calls != 2 {
		t.Errorf("server hit %d times, want 2 (cache entry should have expired)", calls)
	}
}
