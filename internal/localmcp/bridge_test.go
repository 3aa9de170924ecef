package localmcp

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// connectFakeExtension dials wsURL as if it were the browser extension and
// returns the connection; each test reads and answers command frames itself.
func connectFakeExtension(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial extension bridge: %v", err)
	}
	return conn
}

func TestBridgeNotConnectedFailsFast(t *testing.T) {
	b := NewExtensionBridge()
	if b.Connected() {
		t.Fatalf("expected Connected()=false before any extension dials in")
	}

	_, err := b.Dispatch(context.Background(), "conv-1", "navigate", map[string]any{"url": "https://example.com"})
	if err == nil {
		t.Fatalf("expected an error when no extension is connected")
	}
}

func TestBridgeRoundTrip(t *testing.T) {
	b := NewExtensionBridge()
	srv := httptest.NewServer(b)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn := connectFakeExtension(t, wsURL)
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for !b.Connected() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !b.Connected() {
		t.Fatalf("expected bridge to observe the extension connecting")
	}

	go func() {
		var frame bridgeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		frame.Result = []byte(`{"pageId":"page-42"}`)
		_ = conn.WriteJSON(frame)
	}()

	raw, err := b.Dispatch(context.Background(), "conv-1", "navigate", map[string]any{"url": "https://example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stringField(raw, "pageId") != "page-42" {
		t.Errorf("result = %s, want pageId=page-42", raw)
	}
}

func TestBridgeExtensionReportedErrorSurfaces(t *testing.T) {
	b := NewExtensionBridge()
	srv := httptest.NewServer(b)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn := connectFakeExtension(t, wsURL)
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for !b.Connected() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	go func() {
		var frame bridgeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		frame.Error = "no active tab"
		_ = conn.WriteJSON(frame)
	}()

	_, err := b.Dispatch(context.Background(), "conv-1", "click", map[string]any{"selector": "#go"})
	if err == nil || !strings.Contains(err.Error(), "no active tab") {
		t.Fatalf("err = %v, want it to contain 'no active tab'", err)
	}
}

func TestBridgeDispatchTimesOutOnContextCancel(t *testing.T) {
	b := NewExtensionBridge()
	srv := httptest.NewServer(b)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn := connectFakeExtension(t, wsURL)
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for !b.Connected() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := b.Dispatch(ctx, "conv-1", "snapshot", map[string]any{})
	if err == nil {
		t.Fatalf("expected context cancellation to surface as an error")
	}
}
