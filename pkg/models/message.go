// Package models holds the wire- and memory-resident types shared across
// the agent runtime: conversations, messages, tool definitions, provider
// configuration, and the event sequences that flow between components.
package models

import "encoding/json"

// Role identifies which side of the conversation produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the sum type described in spec §3: a role plus an ordered
// list of Parts. Which Part variants are legal for a given role is an
// invariant enforced by the compactor and model adapter, not by the type
// system (a tool message must carry only ToolResultPart values).
type Message struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Clone returns a deep-enough copy of the message so that callers can
// mutate Parts without aliasing the original slice.
func (m Message) Clone() Message {
	parts := make([]Part, len(m.Parts))
	copy(parts, m.Parts)
	return Message{ID: m.ID, Role: m.Role, Parts: parts}
}

// ToolCalls returns every ToolCallPart carried by the message, in order.
func (m Message) ToolCalls() []ToolCallPart {
	var out []ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			out = append(out, tc)
		}
	}
	return out
}

// ToolResults returns every ToolResultPart carried by the message, in order.
func (m Message) ToolResults() []ToolResultPart {
	var out []ToolResultPart
	for _, p := range m.Parts {
		if tr, ok := p.(ToolResultPart); ok {
			out = append(out, tr)
		}
	}
	return out
}

// IsToolOnly reports whether every part of the message is a ToolResultPart,
// the invariant required of a tool message (spec §3).
func (m Message) IsToolOnly() bool {
	if len(m.Parts) == 0 {
		return false
	}
	for _, p := range m.Parts {
		if _, ok := p.(ToolResultPart); !ok {
			return false
		}
	}
	return true
}

// Text concatenates every TextPart in the message, in order. Useful for
// compaction size estimates and for rendering a plain-text transcript.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// PartType tags the concrete variant of a Part for wire serialization.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeImage      PartType = "image"
	PartTypeToolCall   PartType = "tool-call"
	PartTypeToolResult PartType = "tool-result"
)

// Part is the sum type backing Message.Parts. Concrete variants are
// TextPart, ImagePart, ToolCallPart, and ToolResultPart. Keeping this as
// an interface (rather than one struct with a string discriminator and a
// pile of optional fields) means each variant carries only its own
// fields, while MarshalJSON/UnmarshalJSON below still produce the
// explicit `type` tag the wire protocol requires. The interface does not
// restrict which variants a given role may carry.
type Part interface {
	PartType() PartType
}

// TextPart carries a plain-text chunk of a message.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) PartType() PartType { return PartTypeText }

// ImagePart carries inline image bytes.
type ImagePart struct {
	Bytes     []byte `json:"bytes"`
	MediaType string `json:"mediaType"`
}

func (ImagePart) PartType() PartType { return PartTypeImage }

// ToolCallPart is assistant-only: a model-requested tool invocation.
type ToolCallPart struct {
	CallID   string          `json:"callId"`
	ToolName string          `json:"toolName"`
	Input    json.RawMessage `json:"input"`
}

func (ToolCallPart) PartType() PartType { return PartTypeToolCall }

// ToolOutputKind tags which variant ToolResultPart.Output holds.
type ToolOutputKind string

const (
	ToolOutputText      ToolOutputKind = "text"
	ToolOutputJSON      ToolOutputKind = "json"
	ToolOutputErrorText ToolOutputKind = "error-text"
	ToolOutputErrorJSON ToolOutputKind = "error-json"
)

// ToolOutput is the sum type a ToolResultPart carries: {text | json |
// error-text | error-json}.
type ToolOutput struct {
	Kind  ToolOutputKind  `json:"kind"`
	Text  string          `json:"text,omitempty"`
	JSON  json.RawMessage `json:"json,omitempty"`
}

// TextOutput builds a successful plain-text tool output.
func TextOutput(s string) ToolOutput { return ToolOutput{Kind: ToolOutputText, Text: s} }

// JSONOutput builds a successful structured tool output.
func JSONOutput(v json.RawMessage) ToolOutput { return ToolOutput{Kind: ToolOutputJSON, JSON: v} }

// ErrorTextOutput builds a tool-reported-error output carried as text.
func ErrorTextOutput(s string) ToolOutput { return ToolOutput{Kind: ToolOutputErrorText, Text: s} }

// ErrorJSONOutput builds a tool-reported-error output carried as structured data.
func ErrorJSONOutput(v json.RawMessage) ToolOutput {
	return ToolOutput{Kind: ToolOutputErrorJSON, JSON: v}
}

// IsError reports whether the output represents a reported tool error.
func (o ToolOutput) IsError() bool {
	return o.Kind == ToolOutputErrorText || o.Kind == ToolOutputErrorJSON
}

// ToolResultPart is tool-message-only: the result half of a tool call.
type ToolResultPart struct {
	CallID   string     `json:"callId"`
	ToolName string     `json:"toolName"`
	Output   ToolOutput `json:"output"`
}

func (ToolResultPart) PartType() PartType { return PartTypeToolResult }

// ── wire (de)serialization ──────────────────────────────────

type wirePart struct {
	Type     PartType        `json:"type"`
	Text     string          `json:"text,omitempty"`
	Bytes    []byte          `json:"bytes,omitempty"`
	MediaType string         `json:"mediaType,omitempty"`
	CallID   string          `json:"callId,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   *ToolOutput     `json:"output,omitempty"`
}

// MarshalPart serializes a Part to its tagged wire form.
func MarshalPart(p Part) ([]byte, error) {
	w := wirePart{Type: p.PartType()}
	switch v := p.(type) {
	case TextPart:
		w.Text = v.Text
	case ImagePart:
		w.Bytes = v.Bytes
		w.MediaType = v.MediaType
	case ToolCallPart:
		w.CallID = v.CallID
		w.ToolName = v.ToolName
		w.Input = v.Input
	case ToolResultPart:
		w.CallID = v.CallID
		w.ToolName = v.ToolName
		out := v.Output
		w.Output = &out
	}
	return json.Marshal(w)
}

// UnmarshalPart parses the tagged wire form back into a concrete Part.
func UnmarshalPart(data []byte) (Part, error) {
	var w wirePart
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case PartTypeText:
		return TextPart{Text: w.Text}, nil
	case PartTypeImage:
		return ImagePart{Bytes: w.Bytes, MediaType: w.MediaType}, nil
	case PartTypeToolCall:
		return ToolCallPart{CallID: w.CallID, ToolName: w.ToolName, Input: w.Input}, nil
	case PartTypeToolResult:
		out := ToolOutput{}
		if w.Output != nil {
			out = *w.Output
		}
		return ToolResultPart{CallID: w.CallID, ToolName: w.ToolName, Output: out}, nil
	default:
		return nil, &UnknownPartTypeError{Type: string(w.Type)}
	}
}

// UnknownPartTypeError is returned by UnmarshalPart for an unrecognized tag.
type UnknownPartTypeError struct{ Type string }

func (e *UnknownPartTypeError) Error() string { return "models: unknown part type " + e.Type }

// MarshalJSON implements explicit tagging for Message.Parts.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID    string            `json:"id"`
		Role  Role              `json:"role"`
		Parts []json.RawMessage `json:"parts"`
	}
	a := alias{ID: m.ID, Role: m.Role, Parts: make([]json.RawMessage, len(m.Parts))}
	for i, p := range m.Parts {
		raw, err := MarshalPart(p)
		if err != nil {
			return nil, err
		}
		a.Parts[i] = raw
	}
	return json.Marshal(a)
}

// UnmarshalJSON implements explicit tag dispatch for Message.Parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID    string            `json:"id"`
		Role  Role              `json:"role"`
		Parts []json.RawMessage `json:"parts"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	parts := make([]Part, len(a.Parts))
	for i, raw := range a.Parts {
		p, err := UnmarshalPart(raw)
		if err != nil {
			return err
		}
		parts[i] = p
	}
	m.ID, m.Role, m.Parts = a.ID, a.Role, parts
	return nil
}
