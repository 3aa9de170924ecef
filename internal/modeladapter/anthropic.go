package modeladapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

// AnthropicDriver drives the Claude family over the anthropic-sdk-go
// streaming client.
type AnthropicDriver struct{}

// NewAnthropicDriver returns a stateless Anthropic driver; credentials are
// taken per-call from the Config snapshot, never held on the driver.
func NewAnthropicDriver() *AnthropicDriver { return &AnthropicDriver{} }

func (d *AnthropicDriver) Kind() models.ProviderKind { return models.ProviderAnthropic }

func (d *AnthropicDriver) Stream(ctx context.Context, cfg models.ProviderConfig, in StreamInput) (<-chan models.ModelEvent, error) {
	if cfg.APIKey == "" {
		return nil, models.NewAPIError(models.ErrProviderConfig, "anthropic: missing API key")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	msgParams, err := translateToAnthropic(in.Messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(in.Model),
		MaxTokens: 8192,
		Messages:  msgParams,
		Tools:     anthropicTools(in.Tools),
	}

	stream := client.Messages.NewStreaming(ctx, params)

	// anthropic-sdk-go's streaming call never returns a synchronous error:
	// a failed connection only surfaces via stream.Err() once Next() has
	// been tried at least once. Prime the stream here so a 429/5xx is
	// reported to the caller (and ManagedDriver's retry policy) before the
	// goroutine starts, instead of arriving as an async ModelEventError.
	hasFirst := stream.Next()
	if !hasFirst {
		if err := stream.Err(); err != nil {
			stream.Close()
			return nil, wrapAnthropicError("anthropic", err)
		}
	}

	out := make(chan models.ModelEvent)
	go runAnthropicStream(ctx, stream, hasFirst, out)
	return out, nil
}

func runAnthropicStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], hasFirst bool, out chan<- models.ModelEvent) {
	defer close(out)
	defer stream.Close()

	usage := models.TokenUsage{}
	toolInputBuf := map[int64]*partialToolCall{}

	for hasNext := hasFirst; hasNext; hasNext = stream.Next() {
		select {
		case <-ctx.Done():
			out <- models.ModelEvent{Type: models.ModelEventError, Err: ctx.Err()}
			return
		default:
		}

		processAnthropicEvent(stream.Current(), &usage, toolInputBuf, out)
	}

	if err := stream.Err(); err != nil {
		out <- models.ModelEvent{Type: models.ModelEventError, Err: wrapAnthropicError("anthropic stream", err)}
		return
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	out <- models.ModelEvent{Type: models.ModelEventFinish, Usage: usage}
}

func processAnthropicEvent(event anthropic.MessageStreamEventUnion, usage *models.TokenUsage, toolInputBuf map[int64]*partialToolCall, out chan<- models.ModelEvent) {
	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if toolUse, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			toolInputBuf[variant.Index] = &partialToolCall{callID: toolUse.ID, toolName: toolUse.Name}
		}
	case anthropic.ContentBlockDeltaEvent:
		switch delta := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			out <- models.ModelEvent{Type: models.ModelEventTextDelta, Delta: delta.Text}
		case anthropic.ThinkingDelta:
			out <- models.ModelEvent{Type: models.ModelEventReasoningDelta, Delta: delta.Thinking}
		case anthropic.InputJSONDelta:
			if buf, ok := toolInputBuf[variant.Index]; ok {
				buf.input += delta.PartialJSON
				out <- models.ModelEvent{Type: models.ModelEventToolInputDelta, CallID: buf.callID, Delta: delta.PartialJSON}
			}
		}
	case anthropic.ContentBlockStopEvent:
		if buf, ok := toolInputBuf[variant.Index]; ok {
			raw := json.RawMessage(buf.input)
			if buf.input == "" {
				raw = json.RawMessage("{}")
			}
			if !json.Valid(raw) {
				out <- models.ModelEvent{Type: models.ModelEventToolInputError, CallID: buf.callID, ErrorText: fmt.Sprintf("malformed tool input: %s", buf.input)}
			} else {
				out <- models.ModelEvent{Type: models.ModelEventToolInputReady, CallID: buf.callID, ToolName: buf.toolName, Input: raw}
			}
			delete(toolInputBuf, variant.Index)
		}
	case anthropic.MessageDeltaEvent:
		usage.OutputTokens += int(variant.Usage.OutputTokens)
	case anthropic.MessageStartEvent:
		usage.InputTokens += int(variant.Message.Usage.InputTokens)
	}
}

// wrapAnthropicError lifts the real HTTP status code out of an
// *anthropic.Error (set by the SDK on every non-2xx response) into a
// *models.APIError, so ManagedDriver's retry policy can see it.
func wrapAnthropicError(prefix string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &models.APIError{
			Kind:       models.ErrModelStream,
			Name:       string(models.ErrModelStream),
			Message:    fmt.Sprintf("%s: %s", prefix, apiErr.Error()),
			StatusCode: apiErr.StatusCode,
		}
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

type partialToolCall struct {
	callID   string
	toolName string
	input    string
}

// translateToAnthropic enforces the pairing/adjacency invariants of spec §3
// while converting to anthropic.MessageParam: orphaned tool calls are
// stripped and consecutive tool messages are merged before conversion.
func translateToAnthropic(msgs []models.Message) ([]anthropic.MessageParam, error) {
	paired := PairToolCalls(msgs)
	paired = MergeConsecutiveToolMessages(paired)

	out := make([]anthropic.MessageParam, 0, len(paired))
	for _, m := range paired {
		if m.Role == models.RoleUser && len(out) == 0 {
			// no leading system message in our Message sum type; user text
			// carries the turn-0 context prelude instead (spec §4.5).
		}
		blocks, err := anthropicBlocks(m)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == models.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out, nil
}

func anthropicBlocks(m models.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range m.Parts {
		switch part := p.(type) {
		case models.TextPart:
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case models.ImagePart:
			blocks = append(blocks, anthropic.NewImageBlockBase64(part.MediaType, base64.StdEncoding.EncodeToString(part.Bytes)))
		case models.ToolCallPart:
			var input any
			if len(part.Input) > 0 {
				if err := json.Unmarshal(part.Input, &input); err != nil {
					return nil, fmt.Errorf("tool call %s: %w", part.CallID, err)
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(part.CallID, input, part.ToolName))
		case models.ToolResultPart:
			text := part.Output.Text
			if part.Output.Kind == models.ToolOutputJSON || part.Output.Kind == models.ToolOutputErrorJSON {
				text = string(part.Output.JSON)
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(part.CallID, text, part.Output.IsError()))
		}
	}
	return blocks, nil
}

func anthropicTools(defs []models.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema anthropic.ToolInputSchemaParam
		if len(d.InputSchema) > 0 {
			_ = json.Unmarshal(d.InputSchema, &schema)
		}
		out = append(out, anthropic.ToolUnionParamOfTool(schema, d.Name))
	}
	return out
}
