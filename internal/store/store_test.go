package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ratelimit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndCount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now()
	if err := s.Insert(ctx, Record{ConversationID: "c1", TenantID: "t1", Provider: "managed", CreatedAt: now}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, Record{ConversationID: "c2", TenantID: "t1", Provider: "managed", CreatedAt: now}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	count, err := s.CountSince(ctx, "t1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestInsertIsIdempotentPerConversation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now()
	rec := Record{ConversationID: "c1", TenantID: "t1", Provider: "managed", CreatedAt: now}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert (repeat): %v", err)
	}

	count, err := s.CountSince(ctx, "t1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (repeated turns in one conversation count once)", count)
	}
}

func TestCountSinceExcludesOtherTenants(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now()
	if err := s.Insert(ctx, Record{ConversationID: "c1", TenantID: "t1", Provider: "managed", CreatedAt: now}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, Record{ConversationID: "c2", TenantID: "t2", Provider: "managed", CreatedAt: now}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	count, err := s.CountSince(ctx, "t1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestCountSinceExcludesBeforeCutoff(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	yesterday := time.Now().Add(-25 * time.Hour)
	if err := s.Insert(ctx, Record{ConversationID: "c1", TenantID: "t1", Provider: "managed", CreatedAt: yesterday}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	count, err := s.CountSince(ctx, "t1", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}
