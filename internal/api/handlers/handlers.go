// Package handlers implements the HTTP surface named in spec.md §6: chat
// turns, session disposal, liveness, shutdown, status, and a one-shot
// provider credential probe. Grounded on the teacher's
// internal/api/handlers.Handlers wiring shape (one struct holding every
// collaborator, constructed once in pkg/server and handed to the router),
// with the agent-specific bodies replaced end to end.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/api/middleware"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/dispatcher"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/localmcp"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/mcppool"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/modeladapter"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/ratelimit"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/reasoning"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/sessionregistry"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/sseevents"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/contracts"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	pkgmw "github.com/browseros-ai/BrowserOS-agent-sub003/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// Handlers bundles every collaborator the HTTP layer depends on. Built once
// in pkg/server and never mutated afterward.
type Handlers struct {
	Sessions *sessionregistry.Registry
	Models   *modeladapter.Registry
	Loop     *reasoning.Loop
	ProbeCache *mcppool.ProbeCache
	Limiter    *ratelimit.Limiter
	Bridge     localmcp.BrowserBridge
	BridgeWS   http.Handler
	MCP        http.Handler
	Aggregator mcppool.AggregatorClient

	LocalMCPSpec models.MCPServerSpec

	Analytics contracts.AnalyticsSink
	Errors    contracts.ErrorReporter

	startedAt time.Time
	OnShutdown func()
}

// New builds the Handlers bundle.
func New(
	sessions *sessionregistry.Registry,
	modelRegistry *modeladapter.Registry,
	loop *reasoning.Loop,
	probeCache *mcppool.ProbeCache,
	limiter *ratelimit.Limiter,
	bridge localmcp.BrowserBridge,
	bridgeWS http.Handler,
	mcpHandler http.Handler,
	aggregator mcppool.AggregatorClient,
	localMCPSpec models.MCPServerSpec,
	analytics contracts.AnalyticsSink,
	errs contracts.ErrorReporter,
) *Handlers {
	return &Handlers{
		Sessions:     sessions,
		Models:       modelRegistry,
		Loop:         loop,
		ProbeCache:   probeCache,
		Limiter:      limiter,
		Bridge:       bridge,
		BridgeWS:     bridgeWS,
		MCP:          mcpHandler,
		Aggregator:   aggregator,
		LocalMCPSpec: localMCPSpec,
		Analytics:    analytics,
		Errors:       errs,
		startedAt:    time.Now(),
	}
}

// chatRequest is the POST /chat body (spec §6).
type chatRequest struct {
	ConversationID       string                 `json:"conversationId"`
	Message              string                 `json:"message"`
	Provider             models.ProviderKind    `json:"provider"`
	Model                string                 `json:"model"`
	ProviderConfig       models.ProviderConfig  `json:"providerConfig"`
	ContextWindow        int                    `json:"contextWindow"`
	WorkingDir           string                 `json:"workingDir"`
	Mode                 models.Mode            `json:"mode"`
	IsScheduledTask      bool                   `json:"isScheduledTask"`
	TenantID             string                 `json:"tenantId"`
	CustomMCPURLs        []string               `json:"customMcpUrls"`
	BrowserContext       *models.BrowserContext `json:"browserContext"`
	PreviousConversation []models.Message       `json:"previousConversation"`
}

// Chat implements POST /chat: opens or continues a conversation and
// streams UI events until the turn completes, aborts, or errors (spec
// §4.5, §6).
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, models.NewAPIError(models.ErrValidation, "malformed JSON body: "+err.Error()))
		return
	}
	if req.ConversationID == "" || req.Message == "" || req.Provider == "" || req.Model == "" {
		writeAPIError(w, models.NewAPIError(models.ErrValidation, "conversationId, message, provider, and model are required"))
		return
	}

	tenantID := req.TenantID
	if identity := pkgmw.GetIdentity(r.Context()); identity != nil && identity.TenantID != "" {
		tenantID = identity.TenantID
	}
	if tenantID == "" {
		tenantID = middleware.GetTenant(r.Context())
	}

	if req.Provider == models.ProviderManaged {
		if err := h.Limiter.Check(r.Context(), tenantID); err != nil {
			writeLimiterError(w, err)
			return
		}
	}

	sess, created, err := h.Sessions.GetOrCreate(req.ConversationID, func() (*models.Conversation, *mcppool.Pool, error) {
		conv := models.NewConversation(req.ConversationID, models.Config{
			Provider:        req.Provider,
			Model:           req.Model,
			ProviderConfig:  req.ProviderConfig,
			ContextWindow:   req.ContextWindow,
			WorkingDir:      req.WorkingDir,
			Mode:            req.Mode,
			IsScheduledTask: req.IsScheduledTask,
			TenantID:        tenantID,
			CustomMCPURLs:   req.CustomMCPURLs,
		})
		for _, m := range req.PreviousConversation {
			conv.Append(m)
		}

		pool := mcppool.New(h.ProbeCache)
		if err := pool.Build(r.Context(), h.LocalMCPSpec, h.Aggregator, tenantID, req.CustomMCPURLs); err != nil {
			return nil, nil, err
		}
		return conv, pool, nil
	})
	if err != nil {
		writeAPIError(w, models.NewAPIError(models.ErrProviderConfig, "failed to start session: "+err.Error()))
		return
	}

	var browserCtx models.BrowserContext
	if req.BrowserContext != nil {
		browserCtx = *req.BrowserContext
	}
	message := reasoning.InjectContext(req.Message, browserCtx, renderPreviousConversation(req.PreviousConversation), created)

	sess.Conversation.Append(models.Message{
		ID:    sess.Conversation.GenerateCallID(),
		Role:  models.RoleUser,
		Parts: []models.Part{models.TextPart{Text: message}},
	})

	activeWindow := 0
	if req.BrowserContext != nil {
		activeWindow = req.BrowserContext.ActiveWindow
	}
	cc := dispatcher.CallContext{Scope: req.ConversationID, ActiveWindowID: activeWindow}

	pool, ok := dispatcher.WrapPool(sess.Pool).(reasoning.Pool)
	if !ok {
		writeAPIError(w, models.NewAPIError(models.ErrInternal, "mcp pool does not satisfy reasoning pool contract"))
		return
	}

	ctx := sess.BeginTurn(r.Context())
	defer sess.EndTurn()

	ui := sseevents.NewWriter(w)
	status := h.Loop.Run(ctx, sess.Conversation, pool, cc, ui)

	if req.Provider == models.ProviderManaged {
		if err := h.Limiter.Record(r.Context(), req.ConversationID, tenantID, string(req.Provider)); err != nil {
			log.Warn().Err(err).Str("conversationId", req.ConversationID).Msg("handlers: failed to record managed-gateway usage")
		}
	}

	h.Analytics.Track(r.Context(), "chat_turn_completed", map[string]any{
		"conversationId": req.ConversationID,
		"tenantId":       tenantID,
		"provider":       string(req.Provider),
		"status":         string(status),
	})
}

// renderPreviousConversation flattens a client-supplied conversation
// history into the plain-text blob InjectContext wraps in a
// <previous_conversation> envelope (spec §4.5).
func renderPreviousConversation(msgs []models.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Text())
	}
	return b.String()
}

// DeleteConversation implements DELETE /chat/:conversationId (spec §6, §4.7).
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request, conversationID string) {
	if !h.Sessions.Delete(conversationID) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Health implements GET /health (spec §6: "also feeds the watchdog").
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	})
}

var allProviderKinds = []models.ProviderKind{
	models.ProviderAnthropic, models.ProviderOpenAI, models.ProviderGoogle,
	models.ProviderOpenRouter, models.ProviderAzure, models.ProviderOllama,
	models.ProviderLMStudio, models.ProviderBedrock, models.ProviderManaged,
	models.ProviderOpenAICompatible,
}

// Status implements GET /status: reports the browser-extension bridge's
// connection state (spec §6), supplemented with live session count and
// provider driver availability (SPEC_FULL.md supplemented features).
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	providers := make([]string, 0, len(allProviderKinds))
	for _, kind := range allProviderKinds {
		if _, ok := h.Models.Lookup(kind); ok {
			providers = append(providers, string(kind))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"browserExtensionConnected": h.Bridge.Connected(),
		"activeSessions":            h.Sessions.Count(),
		"availableProviders":        providers,
	})
}

// Shutdown implements POST /shutdown: triggers graceful process stop
// asynchronously so the handler can still respond 200 (spec §6).
func (h *Handlers) Shutdown(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if h.OnShutdown != nil {
		go h.OnShutdown()
	}
}

// testProviderRequest is the POST /test-provider body.
type testProviderRequest struct {
	Provider       models.ProviderKind   `json:"provider"`
	Model          string                `json:"model"`
	ProviderConfig models.ProviderConfig `json:"providerConfig"`
}

// TestProvider implements POST /test-provider: a one-shot probe that a
// provider config can open a model stream (spec §6).
func (h *Handlers) TestProvider(w http.ResponseWriter, r *http.Request) {
	var req testProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, models.NewAPIError(models.ErrValidation, "malformed JSON body: "+err.Error()))
		return
	}
	if req.Provider == "" || req.Model == "" {
		writeAPIError(w, models.NewAPIError(models.ErrValidation, "provider and model are required"))
		return
	}

	events, err := h.Models.Stream(r.Context(), req.Provider, req.ProviderConfig, modeladapter.StreamInput{
		Model: req.Model,
		Messages: []models.Message{
			{ID: "probe", Role: models.RoleUser, Parts: []models.Part{models.TextPart{Text: "ping"}}},
		},
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	for ev := range events {
		if ev.Type == models.ModelEventError {
			msg := ev.ErrorText
			if msg == "" && ev.Err != nil {
				msg = ev.Err.Error()
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": msg})
			return
		}
		if ev.Type == models.ModelEventFinish {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("handlers: failed to encode JSON response")
	}
}

// writeAPIError renders the stable {error: {...}} shape spec §7.7 requires.
func writeAPIError(w http.ResponseWriter, apiErr *models.APIError) {
	writeJSON(w, apiErr.StatusCode, map[string]any{"error": apiErr})
}

// writeLimiterError renders a RateLimitExceededError with its {count,
// limit} payload, or falls back to a generic APIError (spec §7.3).
func writeLimiterError(w http.ResponseWriter, err error) {
	if rle, ok := err.(*models.RateLimitExceededError); ok {
		writeJSON(w, rle.StatusCode, map[string]any{"error": rle})
		return
	}
	if apiErr, ok := err.(*models.APIError); ok {
		writeAPIError(w, apiErr)
		return
	}
	writeAPIError(w, models.NewAPIError(models.ErrInternal, err.Error()))
}
