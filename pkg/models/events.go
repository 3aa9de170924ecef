package models

import "encoding/json"

// ModelEventType tags the finite sequence of events a Model Adapter stream
// yields (spec §4.1).
type ModelEventType string

const (
	ModelEventTextDelta        ModelEventType = "text-delta"
	ModelEventReasoningDelta   ModelEventType = "reasoning-delta"
	ModelEventToolInputDelta   ModelEventType = "tool-input-delta"
	ModelEventToolInputReady   ModelEventType = "tool-input-available"
	ModelEventToolInputError   ModelEventType = "tool-input-error"
	ModelEventFinish           ModelEventType = "finish"
	ModelEventError            ModelEventType = "error"
)

// ModelEvent is one element of the Model Adapter's output sequence. Only
// the fields relevant to Type are populated; this keeps Stream() a single
// channel type instead of an interface-per-variant, matching the
// "streaming iterators ... as a channel-backed cursor" guidance (spec §9)
// while still giving the Reasoning Loop an exhaustive switch to drive.
type ModelEvent struct {
	Type ModelEventType

	// text-delta / reasoning-delta
	Delta string

	// tool-input-delta / tool-input-available / tool-input-error
	CallID    string
	ToolName  string
	Input     json.RawMessage
	ErrorText string

	// finish
	Usage TokenUsage

	// error
	Err error
}

// IsTerminal reports whether the event ends the model stream.
func (e ModelEvent) IsTerminal() bool {
	return e.Type == ModelEventFinish || e.Type == ModelEventError
}
