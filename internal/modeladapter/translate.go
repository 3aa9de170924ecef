package modeladapter

import "github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"

// PairToolCalls drops any ToolCallPart whose matching ToolResultPart is
// missing or non-adjacent, and drops any ToolResultPart with no matching
// call (spec §3 invariant, §8 "pairing"). It runs a two-pass match: exact
// call-id first, falling back to by-tool-name-and-order for providers that
// invent their own ids (spec §9 "id synchronization").
func PairToolCalls(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	out = SyncToolCallIDs(out)

	for i := range out {
		if out[i].Role != models.RoleAssistant {
			continue
		}
		calls := out[i].ToolCalls()
		if len(calls) == 0 {
			continue
		}
		results := adjacentToolResults(out, i)
		keep := make([]models.Part, 0, len(out[i].Parts))
		for _, p := range out[i].Parts {
			tc, ok := p.(models.ToolCallPart)
			if !ok {
				keep = append(keep, p)
				continue
			}
			if _, matched := results[tc.CallID]; matched {
				keep = append(keep, p)
			}
		}
		out[i].Parts = keep
	}

	for i := range out {
		if out[i].Role != models.RoleTool {
			continue
		}
		prevCalls := precedingToolCalls(out, i)
		keep := make([]models.Part, 0, len(out[i].Parts))
		for _, p := range out[i].Parts {
			tr, ok := p.(models.ToolResultPart)
			if !ok {
				continue
			}
			if _, matched := prevCalls[tr.CallID]; matched {
				keep = append(keep, p)
			}
		}
		out[i].Parts = keep
	}

	return dropEmptyMessages(out)
}

func adjacentToolResults(msgs []models.Message, assistantIdx int) map[string]struct{} {
	found := map[string]struct{}{}
	if assistantIdx+1 >= len(msgs) {
		return found
	}
	next := msgs[assistantIdx+1]
	if next.Role != models.RoleTool {
		return found
	}
	for _, tr := range next.ToolResults() {
		found[tr.CallID] = struct{}{}
	}
	return found
}

func precedingToolCalls(msgs []models.Message, toolIdx int) map[string]struct{} {
	found := map[string]struct{}{}
	if toolIdx == 0 {
		return found
	}
	prev := msgs[toolIdx-1]
	if prev.Role != models.RoleAssistant {
		return found
	}
	for _, tc := range prev.ToolCalls() {
		found[tc.CallID] = struct{}{}
	}
	return found
}

func dropEmptyMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Parts) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// MergeConsecutiveToolMessages merges any run of adjacent tool messages
// into one, preserving part order (spec §3 "consecutive tool messages are
// merged into one").
func MergeConsecutiveToolMessages(msgs []models.Message) []models.Message {
	if len(msgs) == 0 {
		return msgs
	}
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleTool && len(out) > 0 && out[len(out)-1].Role == models.RoleTool {
			last := &out[len(out)-1]
			last.Parts = append(last.Parts, m.Parts...)
			continue
		}
		out = append(out, m)
	}
	return out
}
