package modeladapter

import (
	"fmt"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

// SyncToolCallIDs guarantees every provider sees matching ids on both
// sides of a tool call, even when the source transcript mixed
// server-assigned and client-assigned identifiers (spec §9 "id
// synchronization"). It runs two passes: first an exact-id match between
// a ToolCallPart and its ToolResultPart, then for anything still
// unmatched, a fallback match by tool name and occurrence order. A call
// with a blank id that is paired by name gets a deterministic
// "__empty_<n>" placeholder id, written to both the call and its result.
// Calls and results that still can't be matched are left unchanged.
func SyncToolCallIDs(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)

	placeholder := 0
	nextPlaceholder := func() string {
		placeholder++
		return fmt.Sprintf("__empty_%d", placeholder)
	}

	for i := range out {
		if out[i].Role != models.RoleAssistant {
			continue
		}
		calls := out[i].ToolCalls()
		if len(calls) == 0 {
			continue
		}
		var results []models.ToolResultPart
		if i+1 < len(out) && out[i+1].Role == models.RoleTool {
			results = out[i+1].ToolResults()
		}

		// Pass 1: exact id match, nothing to rewrite.
		matched := map[string]bool{}
		for _, c := range calls {
			for _, r := range results {
				if r.CallID == c.CallID {
					matched[c.CallID] = true
				}
			}
		}

		// Pass 2: by tool name and order, for the unmatched remainder.
		remainingResults := make([]models.ToolResultPart, 0, len(results))
		for _, r := range results {
			if !matched[r.CallID] {
				remainingResults = append(remainingResults, r)
			}
		}

		for _, c := range calls {
			if matched[c.CallID] {
				continue
			}
			idx := indexByToolName(remainingResults, c.ToolName)
			if idx < 0 {
				continue
			}
			id := c.CallID
			if id == "" {
				id = nextPlaceholder()
			}
			rewriteCallID(out, i, c.CallID, id)
			rewriteResultID(out, i+1, remainingResults[idx].CallID, id)
			remainingResults = append(remainingResults[:idx], remainingResults[idx+1:]...)
		}
	}

	return out
}

func indexByToolName(results []models.ToolResultPart, toolName string) int {
	for i, r := range results {
		if r.ToolName == toolName {
			return i
		}
	}
	return -1
}

func rewriteCallID(msgs []models.Message, idx int, oldID, newID string) {
	for i, p := range msgs[idx].Parts {
		if tc, ok := p.(models.ToolCallPart); ok && tc.CallID == oldID {
			tc.CallID = newID
			msgs[idx].Parts[i] = tc
			return
		}
	}
}

func rewriteResultID(msgs []models.Message, idx int, oldID, newID string) {
	if idx >= len(msgs) {
		return
	}
	for i, p := range msgs[idx].Parts {
		if tr, ok := p.(models.ToolResultPart); ok && tr.CallID == oldID {
			tr.CallID = newID
			msgs[idx].Parts[i] = tr
			return
		}
	}
}
