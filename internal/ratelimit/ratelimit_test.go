package ratelimit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/store"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

type fakeCatalog struct {
	limit int
	err   error
}

func (f *fakeCatalog) DailyLimit(ctx context.Context, tenantID string) (int, error) {
	return f.limit, f.err
}

func newTestLimiter(t *testing.T, catalogLimit int, environment string, devBypass int) *Limiter {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ratelimit.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, &fakeCatalog{limit: catalogLimit}, environment, devBypass)
}

func TestCheckAllowsUnderLimit(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 2, "production", 0)

	if err := l.Check(ctx, "tenant-a"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := l.Record(ctx, "conv-1", "tenant-a", "managed"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Check(ctx, "tenant-a"); err != nil {
		t.Fatalf("Check after one recorded turn (limit 2): %v", err)
	}
}

func TestCheckRejectsAtLimit(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 1, "production", 0)

	if err := l.Record(ctx, "conv-1", "tenant-a", "managed"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	err := l.Check(ctx, "tenant-a")
	var rle *models.RateLimitExceededError
	if err == nil {
		t.Fatal("expected rate limit error, got nil")
	}
	if rle, _ = err.(*models.RateLimitExceededError); rle == nil {
		t.Fatalf("expected *models.RateLimitExceededError, got %T: %v", err, err)
	}
	if rle.Count != 1 || rle.Limit != 1 {
		t.Errorf("got count=%d limit=%d, want count=1 limit=1", rle.Count, rle.Limit)
	}
}

func TestRecordIsIdempotentPerConversation(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 1, "production", 0)

	if err := l.Record(ctx, "conv-1", "tenant-a", "managed"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(ctx, "conv-1", "tenant-a", "managed"); err != nil {
		t.Fatalf("Record (repeat): %v", err)
	}

	if err := l.Check(ctx, "tenant-a"); err == nil {
		t.Fatal("expected limit reached after one distinct conversation, got nil error")
	}
}

func TestDevEnvironmentBypassesCatalogLimit(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 0, "development", 5)

	if err := l.Record(ctx, "conv-1", "tenant-a", "managed"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Check(ctx, "tenant-a"); err != nil {
		t.Fatalf("Check: dev bypass should allow up to devBypass, got %v", err)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 1, "production", 0)

	if err := l.Record(ctx, "conv-1", "tenant-a", "managed"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Check(ctx, "tenant-b"); err != nil {
		t.Fatalf("Check tenant-b: %v", err)
	}
}
