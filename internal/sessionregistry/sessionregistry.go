// Package sessionregistry implements the Session Registry (spec §4.7): the
// process-local, in-memory map from conversation id to the live session
// state — conversation history, the MCP client pool opened for it, and the
// cancellation hook for whichever turn is currently running. Grounded on
// the teacher's sessions.MemorySessionStore, extended from a flat
// mutex-guarded map to single-winner getOrCreate semantics via
// golang.org/x/sync/singleflight, plus delete-during-in-flight-turn
// cancel-then-defer-dispose (spec §4.7, §5).
package sessionregistry

import (
	"context"
	"sync"

	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/mcppool"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	"golang.org/x/sync/singleflight"
)

// Session owns one conversation's in-memory state: its message history and
// config, the MCP client pool opened for it, and a handle on whichever
// turn is presently executing so a concurrent delete can cancel it.
type Session struct {
	ID           string
	Conversation *models.Conversation
	Pool         *mcppool.Pool

	mu             sync.Mutex
	turnCancel     context.CancelFunc
	pendingDispose bool
}

// BeginTurn derives a cancelable context from parent and records its
// cancel func so a concurrent Delete can interrupt the turn (spec §4.7:
// "concurrent delete while a turn is in flight must cancel the in-flight
// turn").
func (s *Session) BeginTurn(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.turnCancel = cancel
	s.mu.Unlock()
	return ctx
}

// EndTurn releases the turn's context and, if a Delete arrived mid-turn,
// performs the deferred disposal now that the turn has settled (spec §4.7:
// "defer actual disposal until the turn's cancellation has settled").
func (s *Session) EndTurn() {
	s.mu.Lock()
	cancel := s.turnCancel
	s.turnCancel = nil
	dispose := s.pendingDispose
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if dispose {
		s.Pool.Close()
	}
}

// Builder constructs the conversation and MCP pool for a new session. It
// runs at most once per id even under concurrent GetOrCreate calls.
type Builder func() (*models.Conversation, *mcppool.Pool, error)

// Registry is the process-wide, in-memory session map (spec §9: one of the
// few truly process-wide pieces of state).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	group    singleflight.Group
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the existing session for id, or builds and inserts a
// new one via build. Concurrent calls with the same id are coalesced by
// singleflight so exactly one build runs and every caller observes the
// same *Session (spec §4.7 "single-winner semantics").
func (r *Registry) GetOrCreate(id string, build Builder) (*Session, bool, error) {
	if s, ok := r.Get(id); ok {
		return s, false, nil
	}

	var created bool
	v, err, _ := r.group.Do(id, func() (any, error) {
		if s, ok := r.Get(id); ok {
			return s, nil
		}

		conv, pool, err := build()
		if err != nil {
			return nil, err
		}
		s := &Session{ID: id, Conversation: conv, Pool: pool}

		r.mu.Lock()
		r.sessions[id] = s
		r.mu.Unlock()

		created = true
		return s, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Session), created, nil
}

// Get returns the session for id, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Has reports whether id has a live session.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Delete removes id from the registry and closes its MCP clients,
// returning whether a session was found. If a turn is currently running,
// the turn is canceled and disposal is deferred to Session.EndTurn (spec
// §4.7).
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	inFlight := s.turnCancel != nil
	if inFlight {
		s.pendingDispose = true
	}
	cancel := s.turnCancel
	s.mu.Unlock()

	if inFlight {
		cancel()
		return true
	}

	s.Pool.Close()
	return true
}
