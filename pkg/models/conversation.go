package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Mode selects whether a conversation runs the full agentic tool loop or a
// plain chat turn.
type Mode string

const (
	ModeChat  Mode = "chat"
	ModeAgent Mode = "agent"
)

// TabRef identifies one browser tab supplied as context by the client.
type TabRef struct {
	ID       int    `json:"id"`
	WindowID int    `json:"windowId"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
}

// BrowserContext is the client-supplied snapshot of browser state used to
// build the turn-0 context prelude and to scope local-MCP tool calls.
type BrowserContext struct {
	ActiveTab    *TabRef  `json:"activeTab,omitempty"`
	ActiveWindow int      `json:"activeWindow,omitempty"`
	SelectedTabs []TabRef `json:"selectedTabs,omitempty"`
	Integrations []string `json:"integrations,omitempty"`
}

// Config is the immutable snapshot of a conversation's provider, model,
// credentials, and mode flags. Changing any field requires a new
// conversation id (spec §3).
type Config struct {
	Provider          ProviderKind    `json:"provider"`
	Model             string          `json:"model"`
	ProviderConfig    ProviderConfig  `json:"providerConfig"`
	ContextWindow     int             `json:"contextWindow"`
	WorkingDir        string          `json:"workingDir"`
	Mode              Mode            `json:"mode"`
	IsScheduledTask   bool            `json:"isScheduledTask"`
	TenantID          string          `json:"tenantId,omitempty"`
	CustomMCPURLs     []string        `json:"customMcpUrls,omitempty"`
}

// Conversation owns an ordered message history and its immutable Config
// (spec §3). The MCP client handles opened for it are held beside it by
// the session registry's Session, not here. The agent runtime and session
// registry compose around this struct; no field here is ever shared
// across two Conversations.
type Conversation struct {
	ID        string
	Config    Config
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time

	// nextCallSeq backs GenerateCallID; each conversation hands out
	// call ids that are unique for its own lifetime (spec §3 invariant).
	nextCallSeq int
}

// NewConversation creates an empty conversation ready to receive its first
// user message.
func NewConversation(id string, cfg Config) *Conversation {
	now := time.Now().UTC()
	return &Conversation{ID: id, Config: cfg, CreatedAt: now, UpdatedAt: now}
}

// Append adds a message to the conversation's history and bumps UpdatedAt.
func (c *Conversation) Append(m Message) {
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = time.Now().UTC()
}

// GenerateCallID returns a call id unique within this conversation's
// lifetime (spec §3: "callIds are unique within a conversation for the
// lifetime of the conversation").
func (c *Conversation) GenerateCallID() string {
	c.nextCallSeq++
	return c.ID + "-call-" + strconv.Itoa(c.nextCallSeq)
}

// History returns a defensive copy of the message slice.
func (c *Conversation) History() []Message {
	out := make([]Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// ToolDefinition describes one callable tool merged into a conversation's
// catalog (spec §3): a unique name, a description, a JSON schema for its
// input, and a reference to the MCPClient that owns it.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	ClientID    string          `json:"-"`
}

// ToolCatalog is the merged, name-keyed view of every ToolDefinition
// available to a conversation. Duplicate names are resolved
// first-registered-wins (spec §4.2).
type ToolCatalog struct {
	byName map[string]ToolDefinition
	order  []string
}

// NewToolCatalog returns an empty catalog.
func NewToolCatalog() *ToolCatalog {
	return &ToolCatalog{byName: make(map[string]ToolDefinition)}
}

// Register adds a tool definition unless a tool with the same name is
// already registered, in which case it is dropped with the caller
// expected to log a warning (first-registered-wins).
func (tc *ToolCatalog) Register(def ToolDefinition) (registered bool) {
	if _, exists := tc.byName[def.Name]; exists {
		return false
	}
	tc.byName[def.Name] = def
	tc.order = append(tc.order, def.Name)
	return true
}

// Lookup returns the tool definition for name, if any.
func (tc *ToolCatalog) Lookup(name string) (ToolDefinition, bool) {
	d, ok := tc.byName[name]
	return d, ok
}

// List returns all tool definitions in registration order.
func (tc *ToolCatalog) List() []ToolDefinition {
	out := make([]ToolDefinition, 0, len(tc.order))
	for _, n := range tc.order {
		out = append(out, tc.byName[n])
	}
	return out
}

// Len reports the number of distinct tools in the catalog.
func (tc *ToolCatalog) Len() int { return len(tc.order) }

// Remove deletes name from the catalog, if present. Used when a client
// disconnects so a later reconnect's Register calls aren't dropped as
// stale duplicates (spec §4.2 re-list/reconnect).
func (tc *ToolCatalog) Remove(name string) {
	if _, exists := tc.byName[name]; !exists {
		return
	}
	delete(tc.byName, name)
	for i, n := range tc.order {
		if n == name {
			tc.order = append(tc.order[:i], tc.order[i+1:]...)
			break
		}
	}
}
