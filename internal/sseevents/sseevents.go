// Package sseevents implements the UI Event Writer (spec §4.6): it
// serializes the reasoning loop's internal event sequence to the SSE wire
// as `data: <json>\n\n` frames, terminated by a literal `data: [DONE]\n\n`.
// Grounded on the `data: ` line-framing idiom used for SSE parsing in
// antwort-dev-antwort's openaicompat stream reader, mirrored here for the
// write side.
package sseevents

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// EventType tags the wire schema's tagged sum (spec §4.6).
type EventType string

const (
	EventStart               EventType = "start"
	EventStartStep           EventType = "start-step"
	EventFinishStep          EventType = "finish-step"
	EventFinish              EventType = "finish"
	EventAbort               EventType = "abort"
	EventTextDelta           EventType = "text-delta"
	EventReasoningDelta      EventType = "reasoning-delta"
	EventToolInputStart      EventType = "tool-input-start"
	EventToolInputDelta      EventType = "tool-input-delta"
	EventToolInputAvailable  EventType = "tool-input-available"
	EventToolOutputAvailable EventType = "tool-output-available"
	EventToolInputError      EventType = "tool-input-error"
	EventToolOutputError     EventType = "tool-output-error"
	EventError               EventType = "error"
)

// Event is one frame on the UI SSE wire. Only the fields relevant to Type
// are populated, matching the finite tagged sum in spec §4.6.
type Event struct {
	Type EventType `json:"type"`

	Delta          string          `json:"delta,omitempty"`
	InputTextDelta string          `json:"inputTextDelta,omitempty"`
	CallID         string          `json:"callId,omitempty"`
	ToolName       string          `json:"toolName,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	ErrorText      string          `json:"errorText,omitempty"`
	Usage          json.RawMessage `json:"usage,omitempty"`
}

// streamMarkerHeader signals that this response follows the v1 UI-message
// schema (spec §4.6: "an implementation-defined marker").
const streamMarkerHeader = "X-BrowserOS-UI-Message-Schema"
const streamMarkerValue = "v1"

// Writer serializes Events onto an http.ResponseWriter as SSE frames.
// Write failures are swallowed (spec §4.6: "the writer is a silent sink —
// the reasoning loop continues") so a disconnected client can never panic
// or abort the turn; Failed reports whether a write has failed, so
// callers can skip redundant work without treating it as fatal.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

// NewWriter prepares w for SSE streaming: sets the required headers and
// flushes them immediately so proxies don't buffer the response.
func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(streamMarkerHeader, streamMarkerValue)
	w.WriteHeader(http.StatusOK)

	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
		f.Flush()
	}
	return sw
}

// Send writes one event frame. On any write error it marks the writer
// failed and returns silently — the caller keeps running the turn.
func (w *Writer) Send(ev Event) {
	if w.failed {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("type", string(ev.Type)).Msg("sseevents: failed to marshal event, dropping")
		return
	}
	w.write(append(append([]byte("data: "), raw...), '\n', '\n'))
}

// Done writes the terminal `data: [DONE]\n\n` sentinel (spec §4.6).
func (w *Writer) Done() {
	w.write([]byte("data: [DONE]\n\n"))
}

func (w *Writer) write(frame []byte) {
	if w.failed {
		return
	}
	if _, err := w.w.Write(frame); err != nil {
		log.Debug().Err(err).Msg("sseevents: write failed, downgrading to silent sink")
		w.failed = true
		return
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

// Failed reports whether the last write to the client failed.
func (w *Writer) Failed() bool { return w.failed }
