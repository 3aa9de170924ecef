package localmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// DefaultDispatchTimeout bounds how long a tool call waits for the
// extension to answer before the dispatcher's own per-call timeout would
// have fired anyway.
const DefaultDispatchTimeout = 55 * time.Second

// BrowserBridge executes a named browser command against the extension
// connected for the caller's scope and returns its raw JSON result.
type BrowserBridge interface {
	Dispatch(ctx context.Context, scope, command string, args any) (json.RawMessage, error)
	Connected() bool
}

type bridgeFrame struct {
	ID      string          `json:"id"`
	Scope   string          `json:"scope,omitempty"`
	Command string          `json:"command,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ExtensionBridge is the single WebSocket connection from the browser
// extension that actually drives the browser. Grounded on
// haasonsaas-nexus's ws_control_plane.go: an upgraded connection carrying
// JSON frames correlated by request id, trimmed to the one-extension case
// (spec glossary: the extension bridge is a single native-messaging-style
// peer, not a multi-client hub).
type ExtensionBridge struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan bridgeFrame

	writeMu sync.Mutex
}

// NewExtensionBridge creates a bridge with no extension connected yet.
func NewExtensionBridge() *ExtensionBridge {
	return &ExtensionBridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pending: make(map[string]chan bridgeFrame),
	}
}

// Connected reports whether an extension currently holds the bridge
// connection, feeding the /status endpoint (spec §6 supplement).
func (b *ExtensionBridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// ServeHTTP upgrades the inbound request to the extension's WebSocket
// connection. Only one extension connects at a time; a new connection
// replaces the old one.
func (b *ExtensionBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("localmcp: extension bridge upgrade failed")
		return
	}

	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()

	log.Info().Msg("localmcp: browser extension connected")
	b.readLoop(conn)
}

func (b *ExtensionBridge) readLoop(conn *websocket.Conn) {
	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
		log.Info().Msg("localmcp: browser extension disconnected")
	}()

	for {
		var frame bridgeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		b.mu.Lock()
		ch, ok := b.pending[frame.ID]
		if ok {
			delete(b.pending, frame.ID)
		}
		b.mu.Unlock()

		if ok {
			ch <- frame
		}
	}
}

// Dispatch sends command to the connected extension and waits for its
// reply, failing fast if no extension is connected (spec §4.9: tool
// invocations target the active tab resolved for scope).
func (b *ExtensionBridge) Dispatch(ctx context.Context, scope, command string, args any) (json.RawMessage, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("browser extension is not connected")
	}

	argsRaw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}

	frame := bridgeFrame{ID: uuid.NewString(), Scope: scope, Command: command, Args: argsRaw}

	reply := make(chan bridgeFrame, 1)
	b.mu.Lock()
	b.pending[frame.ID] = reply
	b.mu.Unlock()

	b.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = conn.WriteJSON(frame)
	b.writeMu.Unlock()
	if err != nil {
		b.mu.Lock()
		delete(b.pending, frame.ID)
		b.mu.Unlock()
		return nil, fmt.Errorf("send command to extension: %w", err)
	}

	timeout := time.NewTimer(DefaultDispatchTimeout)
	defer timeout.Stop()

	select {
	case result := <-reply:
		if result.Error != "" {
			return nil, fmt.Errorf("%s", result.Error)
		}
		return result.Result, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, frame.ID)
		b.mu.Unlock()
		return nil, ctx.Err()
	case <-timeout.C:
		b.mu.Lock()
		delete(b.pending, frame.ID)
		b.mu.Unlock()
		return nil, fmt.Errorf("browser extension did not respond to %q in time", command)
	}
}
