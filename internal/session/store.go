// Package session owns the mutable workflow session records.
//
// One session is owned exclusively by the orchestrator run that created it.
// All mutations go through Apply, which runs a pure transform under the
// store lock so no partially applied state is ever visible. Readers get
// deep copies.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kaigi/internal/model"
)

// Mutation is a pure transform applied atomically to a session.
type Mutation func(model.WorkflowSession) model.WorkflowSession

type entry struct {
	session   model.WorkflowSession
	expiresAt time.Time
}

// Store is an in-memory session store with TTL eviction.
type Store struct {
	logger *slog.Logger
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry

	sweepCancel context.CancelFunc
	done        chan struct{}
}

// NewStore creates a session store. Sessions expire ttl after their last
// mutation; Start launches the sweep loop.
func NewStore(logger *slog.Logger, ttl time.Duration) *Store {
	return &Store{
		logger:   logger,
		ttl:      ttl,
		sessions: make(map[uuid.UUID]*entry),
	}
}

// Create registers a new session for a subject and returns a copy of it.
func (s *Store) Create(subjectID string) model.WorkflowSession {
	sess := model.NewWorkflowSession(subjectID)

	s.mu.Lock()
	s.sessions[sess.ID] = &entry{
		session:   sess.Clone(),
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	s.logger.Debug("session: created", "session_id", sess.ID, "subject_id", subjectID)
	return sess
}

// Get returns a deep copy of the session and true, or the zero session and
// false when the ID is unknown. Absence is a normal terminal case for
// status polls, not an error.
func (s *Store) Get(id uuid.UUID) (model.WorkflowSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return model.WorkflowSession{}, false
	}
	return e.session.Clone(), true
}

// Apply atomically replaces the session with fn(session) and refreshes its
// TTL. Returns false when the ID is unknown (e.g. already evicted).
func (s *Store) Apply(id uuid.UUID, fn Mutation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return false
	}
	next := fn(e.session.Clone())
	next.UpdatedAt = time.Now().UTC()
	e.session = next
	e.expiresAt = time.Now().Add(s.ttl)
	return true
}

// Evict removes a session. The owning orchestrator run calls this after
// completion; the sweep loop calls it on TTL expiry.
func (s *Store) Evict(id uuid.UUID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Start begins the background TTL sweep. Call Stop to halt it.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.sweepCancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Store) Stop() {
	if s.sweepCancel == nil {
		return
	}
	s.sweepCancel()
	<-s.done
}

func (s *Store) sweep() {
	now := time.Now()

	s.mu.Lock()
	var expired []uuid.UUID
	for id, e := range s.sessions {
		if now.After(e.expiresAt) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.logger.Info("session: swept expired sessions", "count", len(expired))
	}
}
