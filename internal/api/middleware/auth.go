package middleware

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/contracts"
	pkgmw "github.com/browseros-ai/BrowserOS-agent-sub003/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware authenticates requests using the pluggable AuthProviderChain
// and stores the resulting Identity in context.
type AuthMiddleware struct {
	chain       contracts.AuthProviderChain
	requireAuth bool
}

// NewAuthMiddleware creates the auth middleware.
//
// If requireAuth is true, unauthenticated requests to non-public paths are
// rejected. Config: BROWSEROS_REQUIRE_AUTH env var (default: false).
func NewAuthMiddleware(chain contracts.AuthProviderChain) *AuthMiddleware {
	requireAuth := os.Getenv("BROWSEROS_REQUIRE_AUTH") == "true"
	return &AuthMiddleware{
		chain:       chain,
		requireAuth: requireAuth,
	}
}

// Handler returns the HTTP handler middleware that authenticates requests.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := am.chain.Authenticate(r.Context(), r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="browseros"`)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "authentication_failed",
				"message": err.Error(),
			})
			return
		}

		if identity == nil && am.requireAuth {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="browseros"`)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "authentication_required",
				"message": "this endpoint requires authentication: set Authorization: Bearer <key> or X-API-Key",
			})
			return
		}

		ctx := r.Context()
		if identity != nil {
			ctx = pkgmw.SetIdentity(ctx, identity)
			if identity.TenantID != "" {
				ctx = pkgmw.SetTenant(ctx, identity.TenantID)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isAuthPublicPath returns true for paths that should skip authentication.
func isAuthPublicPath(path string) bool {
	publicPaths := []string{
		"/health",
		"/status",
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	// MCP protocol endpoint (auth handled by MCP layer, see spec §4.9)
	if strings.HasPrefix(path, "/mcp") {
		return true
	}
	return false
}
