// Package ratelimit enforces the managed-gateway daily request cap per
// tenant (spec.md §4.8): a tenant may start at most N managed-provider
// conversations per calendar day, where N comes from the catalog client
// (or a dev/test bypass). Direct-credential providers are never limited.
package ratelimit

import (
	"context"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/store"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/contracts"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

// Limiter checks and records managed-gateway usage against the per-tenant
// daily cap.
type Limiter struct {
	store       *store.Store
	catalog     contracts.CatalogClient
	environment string
	devBypass   int
	now         func() time.Time
}

// New builds a Limiter. environment is "development"/"test"/"production"
// (spec §4.8); in the first two, devBypass is used in place of the
// catalog-fetched limit.
func New(st *store.Store, catalog contracts.CatalogClient, environment string, devBypass int) *Limiter {
	return &Limiter{
		store:       st,
		catalog:     catalog,
		environment: environment,
		devBypass:   devBypass,
		now:         time.Now,
	}
}

// Check returns models.RateLimitExceededError (as the error) if tenantID
// has already reached today's limit. Call before starting a new
// managed-gateway conversation.
func (l *Limiter) Check(ctx context.Context, tenantID string) error {
	limit, err := l.limitFor(ctx, tenantID)
	if err != nil {
		return err
	}

	since := startOfDay(l.now())
	count, err := l.store.CountSince(ctx, tenantID, since)
	if err != nil {
		return models.NewAPIError(models.ErrInternal, "rate limit check failed: "+err.Error())
	}
	if count >= limit {
		return models.NewRateLimitExceededError(count, limit)
	}
	return nil
}

// Record marks conversationID as having used a managed-gateway turn for
// tenantID. Idempotent per conversation (spec §4.8).
func (l *Limiter) Record(ctx context.Context, conversationID, tenantID, provider string) error {
	return l.store.Insert(ctx, store.Record{
		ConversationID: conversationID,
		TenantID:       tenantID,
		Provider:       provider,
		CreatedAt:      l.now(),
	})
}

func (l *Limiter) limitFor(ctx context.Context, tenantID string) (int, error) {
	if l.environment == "development" || l.environment == "test" {
		return l.devBypass, nil
	}
	if l.catalog == nil {
		return l.devBypass, nil
	}
	limit, err := l.catalog.DailyLimit(ctx, tenantID)
	if err != nil {
		return 0, models.NewAPIError(models.ErrInternal, "fetch daily limit: "+err.Error())
	}
	return limit, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
