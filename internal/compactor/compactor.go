// Package compactor implements the deterministic message-history shrinking
// pass run before every model stream call (spec §4.4): tool-output
// truncation followed by a tool-adjacency-aware sliding window. It is a
// pure function of its inputs and config; it never mutates its arguments.
package compactor

import (
	"fmt"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

// Config mirrors internal/config.CompactorConfig, passed by value so the
// package has no dependency on the config loader.
type Config struct {
	MaxToolOutputChars    int
	CompactionThreshold   float64
	CharsPerTokenEstimate int
}

const truncationMarkerFmt = "[... truncated %d characters]"

// Compact returns a new message slice: tool outputs truncated to
// cfg.MaxToolOutputChars, then (if the estimated token count still exceeds
// cfg.CompactionThreshold*contextWindow) a front-truncating sliding window
// that respects tool-call/tool-result adjacency. The input slice and its
// messages are never modified in place.
func Compact(messages []models.Message, contextWindow int, cfg Config) []models.Message {
	truncated := truncateToolOutputs(messages, cfg.MaxToolOutputChars)

	budget := float64(contextWindow) * cfg.CompactionThreshold
	if EstimateTokens(truncated, cfg.CharsPerTokenEstimate) <= budget {
		return truncated
	}

	return slideWindow(truncated, budget, cfg.CharsPerTokenEstimate)
}

// EstimateTokens applies the four-chars-per-token heuristic (spec §4.4.2)
// over every part of every message.
func EstimateTokens(messages []models.Message, charsPerToken int) float64 {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	chars := 0
	for _, m := range messages {
		chars += len(m.Text())
		for _, p := range m.Parts {
			switch part := p.(type) {
			case models.ToolCallPart:
				chars += len(part.ToolName) + len(part.Input)
			case models.ToolResultPart:
				chars += outputLen(part.Output)
			case models.ImagePart:
				chars += len(part.Bytes)
			}
		}
	}
	return float64(chars) / float64(charsPerToken)
}

func outputLen(out models.ToolOutput) int {
	switch out.Kind {
	case models.ToolOutputJSON, models.ToolOutputErrorJSON:
		return len(out.JSON)
	default:
		return len(out.Text)
	}
}

// truncateToolOutputs rewrites any tool-result part whose serialized
// output exceeds maxChars to the first maxChars plus a marker. JSON
// outputs are serialized first, then truncated and downgraded to text
// (spec §4.4.1).
func truncateToolOutputs(messages []models.Message, maxChars int) []models.Message {
	if maxChars <= 0 {
		maxChars = 15000
	}
	out := make([]models.Message, len(messages))
	for i, m := range messages {
		clone := m.Clone()
		for j, p := range clone.Parts {
			tr, ok := p.(models.ToolResultPart)
			if !ok {
				continue
			}
			clone.Parts[j] = truncateToolResult(tr, maxChars)
		}
		out[i] = clone
	}
	return out
}

func truncateToolResult(tr models.ToolResultPart, maxChars int) models.ToolResultPart {
	text := tr.Output.Text
	isErr := tr.Output.IsError()

	switch tr.Output.Kind {
	case models.ToolOutputJSON, models.ToolOutputErrorJSON:
		text = string(tr.Output.JSON)
	}

	if len(text) <= maxChars {
		return tr
	}

	marker := fmt.Sprintf(truncationMarkerFmt, len(text)-maxChars)
	truncated := text[:maxChars] + marker

	out := tr.Output
	if isErr {
		out = models.ErrorTextOutput(truncated)
	} else {
		out = models.TextOutput(truncated)
	}

	return models.ToolResultPart{
		CallID:   tr.CallID,
		ToolName: tr.ToolName,
		Output:   out,
	}
}

// slideWindow discards messages from the front in pairs that respect tool
// adjacency (spec §4.4.3), stopping once the remaining messages fit the
// budget or only the two most recent remain.
func slideWindow(messages []models.Message, budget float64, charsPerToken int) []models.Message {
	window := messages
	for len(window) > 2 && EstimateTokens(window, charsPerToken) > budget {
		drop := dropCount(window)
		window = window[drop:]
	}
	return window
}

// dropCount returns how many leading messages to discard this step,
// respecting tool adjacency: a leading tool message is dropped together
// with the following assistant message; a leading assistant message with
// tool calls is dropped together with the following tool message;
// otherwise a single message is dropped.
func dropCount(window []models.Message) int {
	if len(window) == 0 {
		return 0
	}
	head := window[0]

	if head.Role == models.RoleTool {
		if len(window) > 1 {
			return 2
		}
		return 1
	}

	if head.Role == models.RoleAssistant && len(head.ToolCalls()) > 0 {
		if len(window) > 1 && window[1].Role == models.RoleTool {
			return 2
		}
	}

	return 1
}
