// Package reasoning implements the Reasoning Loop (spec §4.5): the turn
// state machine that drives the Compactor, Model Adapter, Tool Dispatcher,
// and UI Event Writer to completion for one conversation turn.
package reasoning

import (
	"fmt"
	"strings"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

// InjectContext augments the first user message of a turn with the
// active-tab/selected-tabs prelude and, for a new session carrying a
// client-supplied previous-conversation blob, a <previous_conversation>
// envelope (spec §4.5 "Context injection at turn 0"). Grounded on
// resolver.RenderPrompt's template-substitution idiom, repurposed here to
// assemble a prelude instead of rendering {{var}} placeholders.
func InjectContext(userMessage string, browser models.BrowserContext, previousConversation string, isNewSession bool) string {
	var b strings.Builder

	if prelude := tabPrelude(browser); prelude != "" {
		b.WriteString(prelude)
		b.WriteString("\n\n")
	}

	if isNewSession && previousConversation != "" {
		b.WriteString("<previous_conversation>\n")
		b.WriteString(previousConversation)
		b.WriteString("\n</previous_conversation>\n\n")
	}

	b.WriteString(userMessage)
	return b.String()
}

// tabPrelude renders the active tab and any additional selected tabs as a
// human-readable block the model can read as ambient browser state.
func tabPrelude(browser models.BrowserContext) string {
	if browser.ActiveTab == nil && len(browser.SelectedTabs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<browser_context>\n")
	if browser.ActiveTab != nil {
		b.WriteString(fmt.Sprintf("Active tab: [%d] %q (%s)\n", browser.ActiveTab.ID, browser.ActiveTab.Title, browser.ActiveTab.URL))
	}
	if len(browser.SelectedTabs) > 0 {
		b.WriteString("Selected tabs:\n")
		for _, t := range browser.SelectedTabs {
			b.WriteString(fmt.Sprintf("  - [%d] %q (%s)\n", t.ID, t.Title, t.URL))
		}
	}
	b.WriteString("</browser_context>")
	return b.String()
}
