package reasoning

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/compactor"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/dispatcher"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/modeladapter"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/sseevents"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	"github.com/rs/zerolog/log"
)

const defaultMaxTurns = 48

// Status is the loop's terminal outcome (spec §4.5's state machine
// TERMINAL states plus normal completion).
type Status string

const (
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusError     Status = "error"
)

// ModelStreamer is the subset of *modeladapter.Registry the loop depends on.
type ModelStreamer interface {
	Stream(ctx context.Context, kind models.ProviderKind, cfg models.ProviderConfig, in modeladapter.StreamInput) (<-chan models.ModelEvent, error)
}

// ToolDispatcher is the subset of *dispatcher.Dispatcher the loop depends on.
type ToolDispatcher interface {
	Call(ctx context.Context, pool dispatcher.Pool, call models.ToolCallPart, cc dispatcher.CallContext) models.ToolResultPart
}

// Pool is what the loop needs from a conversation's MCP client pool: tool
// lookup for dispatch plus the merged catalog to hand the model.
type Pool interface {
	dispatcher.Pool
	Catalog() []models.ToolDefinition
}

// UIWriter is the subset of *sseevents.Writer the loop depends on.
type UIWriter interface {
	Send(ev sseevents.Event)
	Done()
}

// Config mirrors internal/config.ReasoningLoopConfig plus the compactor
// settings a turn needs, passed by value to keep this package independent
// of the config loader.
type Config struct {
	MaxTurns      int
	ContextWindow int
	Compactor     compactor.Config
}

// Loop drives one conversation turn through the Compactor, Model Adapter,
// Tool Dispatcher, and UI Event Writer to completion (spec §4.5). Grounded
// on executor.Executor's render → call model → parse tool calls → execute
// → append → repeat shape, generalized from JSON-in-text tool-call parsing
// to the model adapter's native streamed tool-input-available events.
type Loop struct {
	streamer   ModelStreamer
	dispatcher ToolDispatcher
	cfg        Config
}

// New builds a Loop.
func New(streamer ModelStreamer, disp ToolDispatcher, cfg Config) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	return &Loop{streamer: streamer, dispatcher: disp, cfg: cfg}
}

// Run executes turns until the model stops requesting tools, the turn
// budget is exhausted, an error terminates the stream, or ctx is canceled.
// Every appended message and any assistant text/tool results observed
// before a mid-turn error or abort are committed to conv's history (spec
// §5 "partial turns ... still commit").
func (l *Loop) Run(ctx context.Context, conv *models.Conversation, pool Pool, cc dispatcher.CallContext, ui UIWriter) Status {
	ui.Send(sseevents.Event{Type: sseevents.EventStart})

	var totalUsage models.TokenUsage
	tools := pool.Catalog()

	for turn := 0; turn < l.cfg.MaxTurns; turn++ {
		if ctx.Err() != nil {
			return l.abort(ui)
		}

		ui.Send(sseevents.Event{Type: sseevents.EventStartStep})

		compacted := compactor.Compact(conv.History(), l.cfg.ContextWindow, l.cfg.Compactor)

		events, err := l.streamer.Stream(ctx, conv.Config.Provider, conv.Config.ProviderConfig, modeladapter.StreamInput{
			Model:    conv.Config.Model,
			Messages: compacted,
			Tools:    tools,
		})
		if err != nil {
			return l.fail(ui, err.Error())
		}

		text, toolCalls, usage, status := l.drainStream(ctx, events, ui)
		totalUsage.Add(usage)

		if status == StatusError {
			l.commitAssistant(conv, text, toolCalls)
			ui.Done()
			return StatusError
		}
		if status == StatusAborted {
			l.commitAssistant(conv, text, toolCalls)
			return l.abort(ui)
		}

		l.commitAssistant(conv, text, toolCalls)

		if len(toolCalls) == 0 {
			ui.Send(sseevents.Event{Type: sseevents.EventFinish, Usage: usageJSON(totalUsage)})
			ui.Done()
			return StatusCompleted
		}

		if l.dispatchToolCalls(ctx, conv, pool, cc, toolCalls, ui) == StatusAborted {
			return l.abort(ui)
		}

		ui.Send(sseevents.Event{Type: sseevents.EventFinishStep})
	}

	log.Warn().Str("conversationId", conv.ID).Int("maxTurns", l.cfg.MaxTurns).Msg("reasoning: max turns reached")
	ui.Send(sseevents.Event{Type: sseevents.EventFinish, Usage: usageJSON(totalUsage)})
	ui.Done()
	return StatusCompleted
}

// usageJSON marshals accumulated token usage for the finish event's usage
// field (spec §4.1 finish{usage}; supplemented per-turn accounting).
func usageJSON(usage models.TokenUsage) json.RawMessage {
	raw, err := json.Marshal(usage)
	if err != nil {
		return nil
	}
	return raw
}

// drainStream reads one turn's model events, forwarding deltas to the UI
// writer and buffering tool-input-available calls, until finish, error, or
// ctx cancellation (spec §4.5 step 3).
func (l *Loop) drainStream(ctx context.Context, events <-chan models.ModelEvent, ui UIWriter) (text string, toolCalls []models.ToolCallPart, usage models.TokenUsage, status Status) {
	var b strings.Builder

	for {
		select {
		case <-ctx.Done():
			return b.String(), toolCalls, usage, StatusAborted
		case ev, ok := <-events:
			if !ok {
				return b.String(), toolCalls, usage, StatusCompleted
			}

			switch ev.Type {
			case models.ModelEventTextDelta:
				b.WriteString(ev.Delta)
				ui.Send(sseevents.Event{Type: sseevents.EventTextDelta, Delta: ev.Delta})
			case models.ModelEventReasoningDelta:
				ui.Send(sseevents.Event{Type: sseevents.EventReasoningDelta, Delta: ev.Delta})
			case models.ModelEventToolInputDelta:
				ui.Send(sseevents.Event{Type: sseevents.EventToolInputDelta, CallID: ev.CallID, InputTextDelta: ev.Delta})
			case models.ModelEventToolInputReady:
				toolCalls = append(toolCalls, models.ToolCallPart{CallID: ev.CallID, ToolName: ev.ToolName, Input: ev.Input})
				ui.Send(sseevents.Event{Type: sseevents.EventToolInputAvailable, CallID: ev.CallID, ToolName: ev.ToolName, Input: ev.Input})
			case models.ModelEventToolInputError:
				ui.Send(sseevents.Event{Type: sseevents.EventToolInputError, CallID: ev.CallID, ErrorText: ev.ErrorText})
			case models.ModelEventFinish:
				usage = ev.Usage
				return b.String(), toolCalls, usage, StatusCompleted
			case models.ModelEventError:
				msg := ev.ErrorText
				if msg == "" && ev.Err != nil {
					msg = ev.Err.Error()
				}
				ui.Send(sseevents.Event{Type: sseevents.EventError, ErrorText: msg})
				return b.String(), toolCalls, usage, StatusError
			}
		}
	}
}

// dispatchToolCalls executes each buffered tool call sequentially in
// model-emitted order, honoring cancellation between calls (spec §4.3,
// §4.5 step 6), and appends all results as one tool message.
func (l *Loop) dispatchToolCalls(ctx context.Context, conv *models.Conversation, pool Pool, cc dispatcher.CallContext, calls []models.ToolCallPart, ui UIWriter) Status {
	var results []models.Part

	for _, call := range calls {
		if ctx.Err() != nil {
			break
		}

		result := l.dispatcher.Call(ctx, pool, call, cc)
		results = append(results, result)

		if result.Output.IsError() {
			ui.Send(sseevents.Event{Type: sseevents.EventToolOutputError, CallID: result.CallID, ErrorText: result.Output.Text})
		} else {
			ui.Send(sseevents.Event{Type: sseevents.EventToolOutputAvailable, CallID: result.CallID, Output: outputJSON(result.Output)})
		}
	}

	if len(results) > 0 {
		conv.Append(models.Message{ID: conv.GenerateCallID(), Role: models.RoleTool, Parts: results})
	}

	if ctx.Err() != nil {
		return StatusAborted
	}
	return StatusCompleted
}

// commitAssistant appends the assistant message produced this turn (spec
// §4.5 step 4), even when the turn ended in error or abort, so partial
// progress is preserved (spec §5).
func (l *Loop) commitAssistant(conv *models.Conversation, text string, toolCalls []models.ToolCallPart) {
	var parts []models.Part
	if text != "" {
		parts = append(parts, models.TextPart{Text: text})
	}
	for _, tc := range toolCalls {
		parts = append(parts, tc)
	}
	if len(parts) == 0 {
		return
	}
	conv.Append(models.Message{ID: conv.GenerateCallID(), Role: models.RoleAssistant, Parts: parts})
}

func (l *Loop) abort(ui UIWriter) Status {
	ui.Send(sseevents.Event{Type: sseevents.EventAbort})
	ui.Done()
	return StatusAborted
}

func (l *Loop) fail(ui UIWriter, message string) Status {
	ui.Send(sseevents.Event{Type: sseevents.EventError, ErrorText: message})
	ui.Done()
	return StatusError
}

// outputJSON renders a ToolOutput's success payload for the
// tool-output-available wire event: JSON outputs pass their raw bytes
// through, text outputs are wrapped as a JSON string.
func outputJSON(out models.ToolOutput) json.RawMessage {
	if out.Kind == models.ToolOutputJSON && len(out.JSON) > 0 {
		return out.JSON
	}
	quoted, err := json.Marshal(out.Text)
	if err != nil {
		return []byte(`""`)
	}
	return quoted
}
