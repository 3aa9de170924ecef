package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestNewErrorReporterNoopWhenDSNEmpty(t *testing.T) {
	r := NewErrorReporter("")
	if _, ok := r.(NoopErrorReporter); !ok {
		t.Fatalf("got %T, want NoopErrorReporter", r)
	}
	r.ReportError(context.Background(), errors.New("boom"), nil)
}

func TestWebhookErrorReporterPostsJSON(t *testing.T) {
	var mu sync.Mutex
	var got map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reporter := NewWebhookErrorReporter(srv.URL)
	reporter.ReportError(context.Background(), errors.New("tool call failed"), map[string]string{"tool": "browser_navigate"})

	mu.Lock()
	defer mu.Unlock()
	if got["message"] != "tool call failed" {
		t.Errorf("message = %v, want %q", got["message"], "tool call failed")
	}
}

func TestNewAnalyticsSinkNoopWhenKeyEmpty(t *testing.T) {
	s := NewAnalyticsSink("http://example.invalid", "")
	if _, ok := s.(NoopAnalyticsSink); !ok {
		t.Fatalf("got %T, want NoopAnalyticsSink", s)
	}
}

func TestAnalyticsWebhookSinkSendsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewAnalyticsWebhookSink(srv.URL, "secret-key")
	sink.Track(context.Background(), "conversation_started", map[string]any{"provider": "anthropic"})

	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer secret-key")
	}
}
