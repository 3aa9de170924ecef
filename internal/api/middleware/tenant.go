package middleware

import (
	"context"
	"net/http"
	"strings"

	pkgmw "github.com/browseros-ai/BrowserOS-agent-sub003/pkg/middleware"
)

type contextKey string

const (
	// TenantIDKey is the context key for the tenant ID.
	TenantIDKey contextKey = "tenant_id"
)

// TenantExtractor extracts tenant information from the request.
// It checks the X-Tenant-Id header, then the tenant query parameter,
// and falls back to "default" (spec §3 Config.TenantID).
func TenantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := ""

		if h := r.Header.Get("X-Tenant-Id"); h != "" {
			tenant = strings.TrimSpace(h)
		}

		if tenant == "" {
			if q := r.URL.Query().Get("tenant"); q != "" {
				tenant = strings.TrimSpace(q)
			}
		}

		if tenant == "" {
			tenant = "default"
		}

		ctx := pkgmw.SetTenant(r.Context(), tenant)
		ctx = context.WithValue(ctx, TenantIDKey, tenant)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenant retrieves the tenant id from the request context.
func GetTenant(ctx context.Context) string {
	return pkgmw.GetTenant(ctx)
}

// GetTenantID retrieves the tenant ID from the request context.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		return v
	}
	return "default"
}
