// Package contracts defines the small set of interfaces that let the HTTP
// layer and the reasoning loop depend on external collaborators (a catalog
// service, an error-reporting sink, an analytics sink) without binding to
// one concrete implementation (spec §6 "External Interfaces").
package contracts

import "context"

// CatalogClient fetches the managed-provider daily rate limit for a tenant
// from the external catalog/billing service (spec §4.8). Implementations
// that have no catalog service configured fall back to a static default.
type CatalogClient interface {
	// DailyLimit returns the number of managed-gateway conversations a
	// tenant may start today.
	DailyLimit(ctx context.Context, tenantID string) (int, error)
}

// ErrorReporter forwards unexpected failures to an external error-tracking
// service (spec §6). A nil-op implementation is used when no DSN is
// configured, so the rest of the runtime never branches on its presence.
type ErrorReporter interface {
	ReportError(ctx context.Context, err error, tags map[string]string)
}

// AnalyticsSink records coarse usage events (conversation started,
// conversation finished, tool dispatched) for product analytics (spec §6).
type AnalyticsSink interface {
	Track(ctx context.Context, event string, properties map[string]any)
}
