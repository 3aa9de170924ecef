package modeladapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	"google.golang.org/genai"
)

// GoogleDriver drives the Gemini family over google.golang.org/genai.
// Gemini never assigns its own tool-call ids, so calls are stamped with a
// sequential id here and reconciled downstream by SyncToolCallIDs.
type GoogleDriver struct{}

func NewGoogleDriver() *GoogleDriver { return &GoogleDriver{} }

func (d *GoogleDriver) Kind() models.ProviderKind { return models.ProviderGoogle }

func (d *GoogleDriver) Stream(ctx context.Context, cfg models.ProviderConfig, in StreamInput) (<-chan models.ModelEvent, error) {
	if cfg.APIKey == "" {
		return nil, models.NewAPIError(models.ErrProviderConfig, "google: missing API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	contents, err := translateToGoogle(in.Messages)
	if err != nil {
		return nil, err
	}
	genConfig := &genai.GenerateContentConfig{}
	if len(in.Tools) > 0 {
		genConfig.Tools = googleTools(in.Tools)
	}

	streamIter := client.Models.GenerateContentStream(ctx, in.Model, contents, genConfig)

	// genai's Seq2 iterator never reports a connection failure until the
	// first pull, so prime it synchronously here with iter.Pull2: a
	// 429/5xx then surfaces as a normal return error (and reaches
	// ManagedDriver's retry policy) instead of an async ModelEventError.
	next, stop := iter.Pull2(streamIter)
	firstResp, firstErr, hasFirst := next()
	if hasFirst && firstErr != nil {
		stop()
		return nil, wrapGoogleError(firstErr)
	}

	out := make(chan models.ModelEvent)
	go runGoogleStream(ctx, next, stop, firstResp, hasFirst, out)
	return out, nil
}

func runGoogleStream(ctx context.Context, next func() (*genai.GenerateContentResponse, error, bool), stop func(), firstResp *genai.GenerateContentResponse, hasFirst bool, out chan<- models.ModelEvent) {
	defer close(out)
	defer stop()

	usage := models.TokenUsage{}
	callCounter := 0

	resp, err, ok := firstResp, error(nil), hasFirst
	for ok {
		select {
		case <-ctx.Done():
			out <- models.ModelEvent{Type: models.ModelEventError, Err: ctx.Err()}
			return
		default:
		}
		if err != nil {
			out <- models.ModelEvent{Type: models.ModelEventError, Err: wrapGoogleError(err)}
			return
		}
		processGoogleResponse(resp, &usage, &callCounter, out)

		resp, err, ok = next()
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	out <- models.ModelEvent{Type: models.ModelEventFinish, Usage: usage}
}

func processGoogleResponse(resp *genai.GenerateContentResponse, usage *models.TokenUsage, callCounter *int, out chan<- models.ModelEvent) {
	if resp == nil {
		return
	}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				out <- models.ModelEvent{Type: models.ModelEventTextDelta, Delta: part.Text}
			}
			if part.FunctionCall != nil {
				(*callCounter)++
				callID := fmt.Sprintf("google_call_%d", *callCounter)
				argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
				if jsonErr != nil {
					out <- models.ModelEvent{Type: models.ModelEventToolInputError, CallID: callID, ErrorText: jsonErr.Error()}
					continue
				}
				out <- models.ModelEvent{Type: models.ModelEventToolInputReady, CallID: callID, ToolName: part.FunctionCall.Name, Input: argsJSON}
			}
		}
	}
}

// wrapGoogleError lifts the real HTTP status code out of a
// *genai.APIError (set on every non-2xx Gemini API response, per the
// {code, message, status} JSON convention) into a *models.APIError, so
// ManagedDriver's retry policy can see it.
func wrapGoogleError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return &models.APIError{
			Kind:       models.ErrModelStream,
			Name:       string(models.ErrModelStream),
			Message:    fmt.Sprintf("google stream: %s", apiErr.Error()),
			StatusCode: apiErr.Code,
		}
	}
	return fmt.Errorf("google stream: %w", err)
}

func translateToGoogle(msgs []models.Message) ([]*genai.Content, error) {
	paired := MergeConsecutiveToolMessages(SyncToolCallIDs(PairToolCalls(msgs)))
	out := make([]*genai.Content, 0, len(paired))

	for _, m := range paired {
		content := &genai.Content{}
		switch m.Role {
		case models.RoleUser, models.RoleTool:
			content.Role = genai.RoleUser
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			continue
		}

		for _, p := range m.Parts {
			switch part := p.(type) {
			case models.TextPart:
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			case models.ImagePart:
				content.Parts = append(content.Parts, &genai.Part{InlineData: &genai.Blob{Data: part.Bytes, MIMEType: part.MediaType}})
			case models.ToolCallPart:
				var args map[string]any
				if len(part.Input) > 0 {
					if err := json.Unmarshal(part.Input, &args); err != nil {
						return nil, fmt.Errorf("tool call %s: %w", part.CallID, err)
					}
				}
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: part.ToolName, Args: args}})
			case models.ToolResultPart:
				response := map[string]any{"result": part.Output.Text, "error": part.Output.IsError()}
				if part.Output.Kind == models.ToolOutputJSON || part.Output.Kind == models.ToolOutputErrorJSON {
					var parsed any
					if err := json.Unmarshal(part.Output.JSON, &parsed); err == nil {
						response = map[string]any{"result": parsed, "error": part.Output.IsError()}
					}
				}
				content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: part.ToolName, Response: response}})
			}
		}

		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out, nil
}

func googleTools(defs []models.ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		var schema *genai.Schema
		if len(d.InputSchema) > 0 {
			_ = json.Unmarshal(d.InputSchema, &schema)
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}
