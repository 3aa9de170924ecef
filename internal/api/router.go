// Package api assembles the HTTP route tree for spec.md §6's external
// interface: chat, session disposal, liveness, shutdown, status, the
// provider probe, and the Local MCP endpoint. Grounded on the teacher's
// NewRouter (chi.Router plus a fixed middleware stack), narrowed from its
// multi-tenant kitchen/agent/RAG route tree to the seven operations named
// in spec.md.
package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/api/handlers"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/api/middleware"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/config"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the HTTP handler for the agent runtime server.
func NewRouter(cfg *config.Config, h *handlers.Handlers, authChain contracts.AuthProviderChain) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.TenantExtractor)
	r.Use(middleware.Telemetry)

	if authChain != nil {
		authMW := middleware.NewAuthMiddleware(authChain)
		r.Use(authMW.Handler)
	}

	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-Id", "X-Request-Id", "X-API-Key", "X-BrowserOS-Scope", "X-BrowserOS-Active-Window"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	r.Post("/shutdown", h.Shutdown)
	r.Post("/test-provider", h.TestProvider)

	r.Post("/chat", h.Chat)
	r.Delete("/chat/{conversationId}", func(w http.ResponseWriter, req *http.Request) {
		h.DeleteConversation(w, req, chi.URLParam(req, "conversationId"))
	})

	r.Handle("/mcp", h.MCP)
	r.Handle("/mcp/*", h.MCP)
	r.Handle("/extension-bridge", h.BridgeWS)

	return r
}

// parseCORSOrigins reads BROWSEROS_CORS_ORIGINS (comma-separated),
// defaulting to "*" for local/extension development.
func parseCORSOrigins() []string {
	raw := os.Getenv("BROWSEROS_CORS_ORIGINS")
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
