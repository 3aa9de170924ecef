package sessionregistry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/mcppool"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

func newTestBuilder(id string, callCount *int, mu *sync.Mutex) Builder {
	return func() (*models.Conversation, *mcppool.Pool, error) {
		mu.Lock()
		*callCount++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return models.NewConversation(id, models.Config{}), mcppool.New(mcppool.NewProbeCache()), nil
	}
}

func TestGetOrCreateBuildsOnce(t *testing.T) {
	r := New()
	var calls int
	var mu sync.Mutex

	s, isNew, err := r.GetOrCreate("conv-1", newTestBuilder("conv-1", &calls, &mu))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isNew {
		t.Errorf("expected isNew=true for first call")
	}
	if s.ID != "conv-1" {
		t.Errorf("session id = %q, want conv-1", s.ID)
	}

	s2, isNew2, err := r.GetOrCreate("conv-1", newTestBuilder("conv-1", &calls, &mu))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isNew2 {
		t.Errorf("expected isNew=false for second call")
	}
	if s2 != s {
		t.Errorf("expected the same session instance on second call")
	}
	if calls != 1 {
		t.Errorf("builder called %d times, want 1", calls)
	}
}

func TestGetOrCreateConcurrentCallsShareOneSession(t *testing.T) {
	r := New()
	var calls int
	var mu sync.Mutex

	const n = 20
	results := make([]*Session, n)
	isNewFlags := make([]bool, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			s, isNew, err := r.GetOrCreate("conv-shared", newTestBuilder("conv-shared", &calls, &mu))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = s
			isNewFlags[i] = isNew
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("builder called %d times concurrently, want 1", calls)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("goroutine %d got a different session instance", i)
		}
	}

	newCount := 0
	for _, isNew := range isNewFlags {
		if isNew {
			newCount++
		}
	}
	if newCount != 1 {
		t.Errorf("exactly one caller should see isNew=true, got %d", newCount)
	}
}

func TestGetOrCreatePropagatesBuildError(t *testing.T) {
	r := New()
	wantErr := errors.New("boom")

	_, _, err := r.GetOrCreate("conv-err", func() (*models.Conversation, *mcppool.Pool, error) {
		return nil, nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if r.Has("conv-err") {
		t.Errorf("a failed build must not leave a session registered")
	}
}

func TestDeleteReturnsFalseForUnknownID(t *testing.T) {
	r := New()
	if r.Delete("missing") {
		t.Errorf("expected Delete to return false for an unknown id")
	}
}

func TestDeleteRemovesIdleSession(t *testing.T) {
	r := New()
	var calls int
	var mu sync.Mutex
	s, _, _ := r.GetOrCreate("conv-1", newTestBuilder("conv-1", &calls, &mu))
	_ = s

	if !r.Delete("conv-1") {
		t.Errorf("expected Delete to return true for a known id")
	}
	if r.Has("conv-1") {
		t.Errorf("expected session to be removed")
	}
	if r.Count() != 0 {
		t.Errorf("count = %d, want 0", r.Count())
	}
}

func TestDeleteDuringInFlightTurnDefersDispose(t *testing.T) {
	r := New()
	var calls int
	var mu sync.Mutex
	s, _, _ := r.GetOrCreate("conv-1", newTestBuilder("conv-1", &calls, &mu))

	turnCtx := s.BeginTurn(context.Background())

	if !r.Delete("conv-1") {
		t.Fatalf("expected Delete to return true")
	}
	if r.Has("conv-1") {
		t.Errorf("expected session to be removed from the registry immediately")
	}

	select {
	case <-turnCtx.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected the in-flight turn's context to be canceled by Delete")
	}

	s.EndTurn()
}
