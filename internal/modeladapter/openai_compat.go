package modeladapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatibleDriver drives any provider that speaks the OpenAI chat
// completions wire format: OpenAI itself, Azure OpenAI, OpenRouter,
// Ollama, LM Studio, and user-declared openai-compatible endpoints
// (spec §9 tagged union). defaultBaseURL is used when the Config snapshot
// doesn't override BaseURL.
type OpenAICompatibleDriver struct {
	kind           models.ProviderKind
	defaultBaseURL string
}

// NewOpenAICompatibleDriver returns a driver for one ProviderKind in the
// OpenAI-compatible family.
func NewOpenAICompatibleDriver(kind models.ProviderKind, defaultBaseURL string) *OpenAICompatibleDriver {
	return &OpenAICompatibleDriver{kind: kind, defaultBaseURL: defaultBaseURL}
}

func (d *OpenAICompatibleDriver) Kind() models.ProviderKind { return d.kind }

func (d *OpenAICompatibleDriver) Stream(ctx context.Context, cfg models.ProviderConfig, in StreamInput) (<-chan models.ModelEvent, error) {
	client, err := d.buildClient(cfg)
	if err != nil {
		return nil, err
	}

	messages, err := translateToOpenAI(in.Messages)
	if err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model:    resolveModel(d.kind, cfg, in.Model),
		Messages: messages,
		Tools:    openaiTools(in.Tools),
		Stream:   true,
	}

	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapOpenAIError(string(d.kind), err)
	}

	out := make(chan models.ModelEvent)
	go runOpenAIStream(ctx, stream, out)
	return out, nil
}

func (d *OpenAICompatibleDriver) buildClient(cfg models.ProviderConfig) (*openai.Client, error) {
	switch d.kind {
	case models.ProviderAzure:
		if cfg.APIKey == "" || cfg.BaseURL == "" {
			return nil, models.NewAPIError(models.ErrProviderConfig, "azure: missing API key or base URL")
		}
		azCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.AzureAPIVersion != "" {
			azCfg.APIVersion = cfg.AzureAPIVersion
		}
		if cfg.AzureDeployment != "" {
			azCfg.AzureModelMapperFunc = func(string) string { return cfg.AzureDeployment }
		}
		return openai.NewClientWithConfig(azCfg), nil

	case models.ProviderOllama, models.ProviderLMStudio, models.ProviderOpenAICompatible:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = d.defaultBaseURL
		}
		if baseURL == "" {
			return nil, models.NewAPIError(models.ErrProviderConfig, fmt.Sprintf("%s: missing base URL", d.kind))
		}
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		clientCfg.BaseURL = baseURL
		return openai.NewClientWithConfig(clientCfg), nil

	default: // openai, openrouter
		if cfg.APIKey == "" {
			return nil, models.NewAPIError(models.ErrProviderConfig, fmt.Sprintf("%s: missing API key", d.kind))
		}
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		} else if d.defaultBaseURL != "" {
			clientCfg.BaseURL = d.defaultBaseURL
		}
		return openai.NewClientWithConfig(clientCfg), nil
	}
}

// wrapOpenAIError lifts the real HTTP status code out of an
// *openai.APIError (set on every non-2xx response body) or an
// *openai.RequestError (set on a failed round trip, e.g. a 503 from a
// proxy) into a *models.APIError, so ManagedDriver's retry policy can see
// it. Errors that are neither fall back to a plain wrap.
func wrapOpenAIError(prefix string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprintf("%v", apiErr.Code)
		}
		return &models.APIError{
			Kind:       models.ErrModelStream,
			Name:       string(models.ErrModelStream),
			Message:    fmt.Sprintf("%s: %s", prefix, apiErr.Message),
			Code:       code,
			StatusCode: apiErr.HTTPStatusCode,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &models.APIError{
			Kind:       models.ErrModelStream,
			Name:       string(models.ErrModelStream),
			Message:    fmt.Sprintf("%s: %s", prefix, reqErr.Error()),
			StatusCode: reqErr.HTTPStatusCode,
		}
	}

	return fmt.Errorf("%s: %w", prefix, err)
}

func resolveModel(kind models.ProviderKind, cfg models.ProviderConfig, model string) string {
	if kind == models.ProviderAzure && cfg.AzureDeployment != "" {
		return cfg.AzureDeployment
	}
	return model
}

func runOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- models.ModelEvent) {
	defer close(out)
	defer stream.Close()

	usage := models.TokenUsage{}
	pending := map[int]*partialToolCall{}
	order := []int{}

	flush := func() {
		for _, idx := range order {
			buf := pending[idx]
			if buf == nil || buf.toolName == "" {
				continue
			}
			raw := json.RawMessage(buf.input)
			if len(raw) == 0 {
				raw = json.RawMessage("{}")
			}
			if !json.Valid(raw) {
				out <- models.ModelEvent{Type: models.ModelEventToolInputError, CallID: buf.callID, ErrorText: fmt.Sprintf("malformed tool input: %s", buf.input)}
				continue
			}
			out <- models.ModelEvent{Type: models.ModelEventToolInputReady, CallID: buf.callID, ToolName: buf.toolName, Input: raw}
		}
		pending = map[int]*partialToolCall{}
		order = nil
	}

	for {
		select {
		case <-ctx.Done():
			out <- models.ModelEvent{Type: models.ModelEventError, Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flush()
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			out <- models.ModelEvent{Type: models.ModelEventFinish, Usage: usage}
			return
		}
		if err != nil {
			out <- models.ModelEvent{Type: models.ModelEventError, Err: wrapOpenAIError("openai stream", err)}
			return
		}

		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			out <- models.ModelEvent{Type: models.ModelEventTextDelta, Delta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			buf, ok := pending[index]
			if !ok {
				buf = &partialToolCall{}
				pending[index] = buf
				order = append(order, index)
			}
			if tc.ID != "" {
				buf.callID = tc.ID
			}
			if tc.Function.Name != "" {
				buf.toolName = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				buf.input += tc.Function.Arguments
				out <- models.ModelEvent{Type: models.ModelEventToolInputDelta, CallID: buf.callID, Delta: tc.Function.Arguments}
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func translateToOpenAI(msgs []models.Message) ([]openai.ChatCompletionMessage, error) {
	paired := MergeConsecutiveToolMessages(PairToolCalls(msgs))
	out := make([]openai.ChatCompletionMessage, 0, len(paired))

	for _, m := range paired {
		switch m.Role {
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text()})
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text()}
			for _, tc := range m.ToolCalls() {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.ToolName,
						Arguments: string(tc.Input),
					},
				})
			}
			out = append(out, msg)
		case models.RoleTool:
			for _, tr := range m.ToolResults() {
				text := tr.Output.Text
				if tr.Output.Kind == models.ToolOutputJSON || tr.Output.Kind == models.ToolOutputErrorJSON {
					text = string(tr.Output.JSON)
				}
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    text,
					ToolCallID: tr.CallID,
				})
			}
		}
	}
	return out, nil
}

func openaiTools(defs []models.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		var schema map[string]any
		if len(d.InputSchema) > 0 {
			_ = json.Unmarshal(d.InputSchema, &schema)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}
