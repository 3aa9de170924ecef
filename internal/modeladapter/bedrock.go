package modeladapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/transport/http"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

// BedrockDriver drives foundation models hosted on AWS Bedrock over the
// Converse streaming API. Empty credential fields on the Config snapshot
// mean "use the default AWS credential chain" (spec §9).
type BedrockDriver struct{}

func NewBedrockDriver() *BedrockDriver { return &BedrockDriver{} }

func (d *BedrockDriver) Kind() models.ProviderKind { return models.ProviderBedrock }

func (d *BedrockDriver) Stream(ctx context.Context, cfg models.ProviderConfig, in StreamInput) (<-chan models.ModelEvent, error) {
	region := cfg.AWSRegion
	if region == "" {
		region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSSessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(awsCfg)

	messages, err := translateToBedrock(in.Messages)
	if err != nil {
		return nil, err
	}

	req := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(in.Model),
		Messages: messages,
	}
	if len(in.Tools) > 0 {
		req.ToolConfig = bedrockTools(in.Tools)
	}

	stream, err := client.ConverseStream(ctx, req)
	if err != nil {
		return nil, wrapBedrockError("bedrock", err)
	}

	out := make(chan models.ModelEvent)
	go runBedrockStream(ctx, stream, out)
	return out, nil
}

func runBedrockStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- models.ModelEvent) {
	defer close(out)
	eventStream := stream.GetStream()
	defer eventStream.Close()

	usage := models.TokenUsage{}
	var current *partialToolCall

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			out <- models.ModelEvent{Type: models.ModelEventError, Err: ctx.Err()}
			return
		case event, ok := <-eventChan:
			if !ok {
				if err := eventStream.Err(); err != nil {
					out <- models.ModelEvent{Type: models.ModelEventError, Err: wrapBedrockError("bedrock stream", err)}
					return
				}
				usage.TotalTokens = usage.InputTokens + usage.OutputTokens
				out <- models.ModelEvent{Type: models.ModelEventFinish, Usage: usage}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					current = &partialToolCall{callID: aws.ToString(toolUse.Value.ToolUseId), toolName: aws.ToString(toolUse.Value.Name)}
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						out <- models.ModelEvent{Type: models.ModelEventTextDelta, Delta: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if current != nil && delta.Value.Input != nil {
						current.input += *delta.Value.Input
						out <- models.ModelEvent{Type: models.ModelEventToolInputDelta, CallID: current.callID, Delta: *delta.Value.Input}
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if current != nil {
					raw := json.RawMessage(current.input)
					if len(raw) == 0 {
						raw = json.RawMessage("{}")
					}
					if !json.Valid(raw) {
						out <- models.ModelEvent{Type: models.ModelEventToolInputError, CallID: current.callID, ErrorText: fmt.Sprintf("malformed tool input: %s", current.input)}
					} else {
						out <- models.ModelEvent{Type: models.ModelEventToolInputReady, CallID: current.callID, ToolName: current.toolName, Input: raw}
					}
					current = nil
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage.InputTokens = int(aws.ToInt32(ev.Value.Usage.InputTokens))
					usage.OutputTokens = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				usage.TotalTokens = usage.InputTokens + usage.OutputTokens
				out <- models.ModelEvent{Type: models.ModelEventFinish, Usage: usage}
				return
			}
		}
	}
}

// wrapBedrockError lifts the real HTTP status code out of a smithy
// *http.ResponseError (set on every failed AWS API round trip) into a
// *models.APIError, so ManagedDriver's retry policy can see 429/5xx
// throttling and service-unavailable responses.
func wrapBedrockError(prefix string, err error) error {
	var respErr *http.ResponseError
	if errors.As(err, &respErr) {
		return &models.APIError{
			Kind:       models.ErrModelStream,
			Name:       string(models.ErrModelStream),
			Message:    fmt.Sprintf("%s: %s", prefix, respErr.Error()),
			StatusCode: respErr.HTTPStatusCode(),
		}
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

func translateToBedrock(msgs []models.Message) ([]types.Message, error) {
	paired := MergeConsecutiveToolMessages(PairToolCalls(msgs))
	out := make([]types.Message, 0, len(paired))

	for _, m := range paired {
		var content []types.ContentBlock
		for _, p := range m.Parts {
			switch part := p.(type) {
			case models.TextPart:
				content = append(content, &types.ContentBlockMemberText{Value: part.Text})
			case models.ImagePart:
				format, ok := bedrockImageFormat(part.MediaType)
				if !ok {
					continue
				}
				content = append(content, &types.ContentBlockMemberImage{
					Value: types.ImageBlock{Format: format, Source: &types.ImageSourceMemberBytes{Value: part.Bytes}},
				})
			case models.ToolCallPart:
				var inputDoc any
				if len(part.Input) > 0 {
					if err := json.Unmarshal(part.Input, &inputDoc); err != nil {
						return nil, fmt.Errorf("tool call %s: %w", part.CallID, err)
					}
				} else {
					inputDoc = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(part.CallID),
						Name:      aws.String(part.ToolName),
						Input:     document.NewLazyDocument(inputDoc),
					},
				})
			case models.ToolResultPart:
				text := part.Output.Text
				if part.Output.Kind == models.ToolOutputJSON || part.Output.Kind == models.ToolOutputErrorJSON {
					text = string(part.Output.JSON)
				}
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(part.CallID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: text}},
						Status:    bedrockResultStatus(part.Output.IsError()),
					},
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out, nil
}

func bedrockResultStatus(isError bool) types.ToolResultStatus {
	if isError {
		return types.ToolResultStatusError
	}
	return types.ToolResultStatusSuccess
}

func bedrockImageFormat(mediaType string) (types.ImageFormat, bool) {
	switch mediaType {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func bedrockTools(defs []models.ToolDefinition) *types.ToolConfiguration {
	tools := make([]types.Tool, 0, len(defs))
	for _, d := range defs {
		var schemaDoc any
		if len(d.InputSchema) > 0 {
			_ = json.Unmarshal(d.InputSchema, &schemaDoc)
		}
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: tools}
}
