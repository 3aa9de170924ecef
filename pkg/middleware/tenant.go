// Package middleware provides shared middleware helpers for the agent
// runtime's HTTP layer (context accessors used by both the auth chain and
// the handlers).
package middleware

import "context"

type contextKey string

const tenantKey contextKey = "tenant"

// GetTenant extracts the tenant id from the context. Returns "default" if
// no tenant is set (spec §3 Config.TenantID, §4.8 rate limiting keys).
func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey).(string); ok && v != "" {
		return v
	}
	return "default"
}

// SetTenant stores the tenant id in the context.
func SetTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}
