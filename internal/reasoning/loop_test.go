package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/compactor"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/dispatcher"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/modeladapter"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/sseevents"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

type fakeStreamer struct {
	turns [][]models.ModelEvent
	call  int
}

func (f *fakeStreamer) Stream(ctx context.Context, kind models.ProviderKind, cfg models.ProviderConfig, in modeladapter.StreamInput) (<-chan models.ModelEvent, error) {
	if f.call >= len(f.turns) {
		return nil, errors.New("no more turns scripted")
	}
	turn := f.turns[f.call]
	f.call++

	ch := make(chan models.ModelEvent, len(turn))
	for _, ev := range turn {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type fakeDispatcher struct {
	results map[string]models.ToolResultPart
}

func (f *fakeDispatcher) Call(ctx context.Context, pool dispatcher.Pool, call models.ToolCallPart, cc dispatcher.CallContext) models.ToolResultPart {
	if r, ok := f.results[call.CallID]; ok {
		return r
	}
	return models.ToolResultPart{CallID: call.CallID, ToolName: call.ToolName, Output: models.TextOutput("ok")}
}

type fakePool struct{}

func (fakePool) Lookup(toolName string) (dispatcher.ToolClient, bool) { return nil, false }
func (fakePool) Catalog() []models.ToolDefinition                    { return nil }

type fakeUI struct {
	events []sseevents.Event
	done   bool
}

func (f *fakeUI) Send(ev sseevents.Event) { f.events = append(f.events, ev) }
func (f *fakeUI) Done()                   { f.done = true }

func (f *fakeUI) types() []sseevents.EventType {
	out := make([]sseevents.EventType, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

func newConv() *models.Conversation {
	return models.NewConversation("conv-1", models.Config{
		Provider:      models.ProviderAnthropic,
		Model:         "claude",
		ContextWindow: 100000,
	})
}

func testConfig() Config {
	return Config{MaxTurns: 48, ContextWindow: 100000, Compactor: compactor.Config{MaxToolOutputChars: 15000, CompactionThreshold: 0.6, CharsPerTokenEstimate: 4}}
}

func TestRunCompletesWithoutToolCalls(t *testing.T) {
	streamer := &fakeStreamer{turns: [][]models.ModelEvent{
		{
			{Type: models.ModelEventTextDelta, Delta: "hello "},
			{Type: models.ModelEventTextDelta, Delta: "world"},
			{Type: models.ModelEventFinish, Usage: models.TokenUsage{TotalTokens: 10}},
		},
	}}
	conv := newConv()
	conv.Append(models.Message{ID: "m1", Role: models.RoleUser, Parts: []models.Part{models.TextPart{Text: "hi"}}})

	loop := New(streamer, &fakeDispatcher{}, testConfig())
	ui := &fakeUI{}

	status := loop.Run(context.Background(), conv, fakePool{}, dispatcher.CallContext{Scope: "conv-1"}, ui)

	if status != StatusCompleted {
		t.Fatalf("status = %v, want completed", status)
	}
	if !ui.done {
		t.Errorf("expected ui.Done() to be called")
	}
	last := conv.History()[len(conv.History())-1]
	if last.Role != models.RoleAssistant || last.Text() != "hello world" {
		t.Errorf("assistant message = %+v, want text %q", last, "hello world")
	}
}

func TestRunDispatchesToolCallsAndLoopsAgain(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"url": "https://example.com"})
	streamer := &fakeStreamer{turns: [][]models.ModelEvent{
		{
			{Type: models.ModelEventToolInputReady, CallID: "call-1", ToolName: "browser_navigate", Input: input},
			{Type: models.ModelEventFinish},
		},
		{
			{Type: models.ModelEventTextDelta, Delta: "done"},
			{Type: models.ModelEventFinish},
		},
	}}
	conv := newConv()
	conv.Append(models.Message{ID: "m1", Role: models.RoleUser, Parts: []models.Part{models.TextPart{Text: "go to example.com"}}})

	loop := New(streamer, &fakeDispatcher{}, testConfig())
	ui := &fakeUI{}

	status := loop.Run(context.Background(), conv, fakePool{}, dispatcher.CallContext{Scope: "conv-1"}, ui)

	if status != StatusCompleted {
		t.Fatalf("status = %v, want completed", status)
	}
	if streamer.call != 2 {
		t.Errorf("model stream called %d times, want 2", streamer.call)
	}

	var sawToolResult bool
	for _, m := range conv.History() {
		if m.Role == models.RoleTool {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Errorf("expected a tool message in history")
	}
}

func TestRunTerminatesOnModelError(t *testing.T) {
	streamer := &fakeStreamer{turns: [][]models.ModelEvent{
		{
			{Type: models.ModelEventTextDelta, Delta: "partial"},
			{Type: models.ModelEventError, ErrorText: "provider exploded"},
		},
	}}
	conv := newConv()
	conv.Append(models.Message{ID: "m1", Role: models.RoleUser, Parts: []models.Part{models.TextPart{Text: "hi"}}})

	loop := New(streamer, &fakeDispatcher{}, testConfig())
	ui := &fakeUI{}

	status := loop.Run(context.Background(), conv, fakePool{}, dispatcher.CallContext{Scope: "conv-1"}, ui)

	if status != StatusError {
		t.Fatalf("status = %v, want error", status)
	}
	if !ui.done {
		t.Errorf("expected ui.Done() to be called")
	}

	last := conv.History()[len(conv.History())-1]
	if last.Text() != "partial" {
		t.Errorf("expected partial assistant text committed, got %q", last.Text())
	}
}

func TestRunAbortsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	streamer := &fakeStreamer{turns: [][]models.ModelEvent{{{Type: models.ModelEventFinish}}}}
	conv := newConv()
	conv.Append(models.Message{ID: "m1", Role: models.RoleUser, Parts: []models.Part{models.TextPart{Text: "hi"}}})

	loop := New(streamer, &fakeDispatcher{}, testConfig())
	ui := &fakeUI{}

	status := loop.Run(ctx, conv, fakePool{}, dispatcher.CallContext{Scope: "conv-1"}, ui)

	if status != StatusAborted {
		t.Fatalf("status = %v, want aborted", status)
	}
}

func TestRunRespectsMaxTurns(t *testing.T) {
	turn := []models.ModelEvent{
		{Type: models.ModelEventToolInputReady, CallID: "call-x", ToolName: "noop", Input: json.RawMessage(`{}`)},
		{Type: models.ModelEventFinish},
	}
	streamer := &fakeStreamer{turns: [][]models.ModelEvent{turn, turn, turn}}
	conv := newConv()
	conv.Append(models.Message{ID: "m1", Role: models.RoleUser, Parts: []models.Part{models.TextPart{Text: "loop forever"}}})

	cfg := testConfig()
	cfg.MaxTurns = 3
	loop := New(streamer, &fakeDispatcher{}, cfg)
	ui := &fakeUI{}

	status := loop.Run(context.Background(), conv, fakePool{}, dispatcher.CallContext{Scope: "conv-1"}, ui)

	if status != StatusCompleted {
		t.Fatalf("status = %v, want completed (max turns reached)", status)
	}
	if streamer.call != 3 {
		t.Errorf("model stream called %d times, want 3", streamer.call)
	}
}
