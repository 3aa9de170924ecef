package sseevents

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewWriterSetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	NewWriter(rec)

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}
	if got := rec.Header().Get(streamMarkerHeader); got != streamMarkerValue {
		t.Errorf("marker header = %q, want %q", got, streamMarkerValue)
	}
}

func TestSendFramesAsDataLines(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	w.Send(Event{Type: EventTextDelta, Delta: "hello"})
	w.Done()

	body := rec.Body.String()
	if !strings.Contains(body, `"type":"text-delta"`) {
		t.Errorf("body missing text-delta frame: %q", body)
	}
	if !strings.HasPrefix(body, "data: ") {
		t.Errorf("body doesn't start with data: prefix: %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("body doesn't end with DONE sentinel: %q", body)
	}
}

func TestSendAfterWriteFailureIsSilent(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	w.failed = true

	w.Send(Event{Type: EventError, ErrorText: "boom"})
	w.Done()

	if rec.Body.Len() != 0 {
		t.Errorf("expected no writes after failure, got %q", rec.Body.String())
	}
}
