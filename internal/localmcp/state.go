// Package localmcp implements the Local MCP Server (spec §4.9): the
// browser-control tool surface hosted behind the same MCP contract the
// pool consumes via C2. Grounded on dorcha-inc-orla's internal/server
// (mcp.Server + mcp.StreamableHTTPHandler wiring) for the MCP half, and on
// the teacher's internal/retention/janitor.go (ticker-driven periodic
// sweep) for the ephemeral per-scope state half.
package localmcp

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultStateTTL is how long a scope's browser state survives without a
// touch before the sweep reclaims it (spec §4.9: "time-to-live 30 minutes").
const DefaultStateTTL = 30 * time.Minute

// DefaultSweepInterval is how often expired scopes are reclaimed (spec
// §4.9: "swept every 5 minutes").
const DefaultSweepInterval = 5 * time.Minute

// ScopeState is the per-conversation browser state a tool call needs to
// target the right tab: which page and window are "active" for this scope.
type ScopeState struct {
	ActivePageID   string
	ActiveWindowID int
	updatedAt      time.Time
}

// Store holds one ScopeState per conversation scope, expiring entries that
// haven't been touched within ttl.
type Store struct {
	mu     sync.Mutex
	ttl    time.Duration
	scopes map[string]*ScopeState
}

// NewStore creates a Store with the given TTL. ttl <= 0 uses DefaultStateTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &Store{ttl: ttl, scopes: make(map[string]*ScopeState)}
}

// Get returns a copy of scope's current state, zero-valued if unknown.
func (s *Store) Get(scope string) ScopeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.scopes[scope]
	if !ok {
		return ScopeState{}
	}
	return *st
}

// Touch records activity for scope without changing its tab state,
// refreshing its TTL.
func (s *Store) Touch(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entry(scope)
	st.updatedAt = time.Now()
}

// SetActivePage records which page is active for scope.
func (s *Store) SetActivePage(scope, pageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entry(scope)
	st.ActivePageID = pageID
	st.updatedAt = time.Now()
}

// SetActiveWindow records which window is active for scope.
func (s *Store) SetActiveWindow(scope string, windowID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entry(scope)
	st.ActiveWindowID = windowID
	st.updatedAt = time.Now()
}

func (s *Store) entry(scope string) *ScopeState {
	st, ok := s.scopes[scope]
	if !ok {
		st = &ScopeState{}
		s.scopes[scope] = st
	}
	return st
}

// Len reports how many scopes currently hold state.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scopes)
}

// Start runs the sweep loop in the calling goroutine until ctx is
// canceled, reclaiming scopes idle longer than the store's TTL (spec
// §4.9). Mirrors Janitor.Start's immediate-run-then-ticker shape.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	s.sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var reclaimed int
	for scope, st := range s.scopes {
		if st.updatedAt.Before(cutoff) {
			delete(s.scopes, scope)
			reclaimed++
		}
	}
	remaining := len(s.scopes)
	s.mu.Unlock()

	if reclaimed > 0 {
		log.Debug().Int("reclaimed", reclaimed).Int("remaining", remaining).Msg("localmcp: swept expired scope state")
	}
}
