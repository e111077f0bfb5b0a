package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pictalk/pictalk/backend/internal/model/conversation"
)

// MemoryStore keeps sessions and turns in process memory. Suitable for
// tests and single-instance deployments without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]conversation.Session
	turns    map[string][]conversation.Turn
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]conversation.Session),
		turns:    make(map[string][]conversation.Turn),
	}
}

// CreateSession records a new session, rejecting duplicate ids.
func (s *MemoryStore) CreateSession(_ context.Context, session conversation.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return ErrConflict
	}

	s.sessions[session.ID] = session
	s.turns[session.ID] = make([]conversation.Turn, 0, 16)
	return nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (conversation.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return conversation.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// AppendTurn appends a turn to its session's history.
func (s *MemoryStore) AppendTurn(_ context.Context, turn conversation.Turn) error {
	if turn.SessionID == "" {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[turn.SessionID]; !ok {
		return ErrSessionNotFound
	}

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return nil
}

// ListTurns returns the stored turns for a session in creation order.
func (s *MemoryStore) ListTurns(_ context.Context, sessionID string) ([]conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]conversation.Turn, len(turns))
	copy(copied, turns)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].CreatedAt.Before(copied[j].CreatedAt)
	})
	return copied, nil
}

// UpdateStatus sets the session status and end time.
func (s *MemoryStore) UpdateStatus(_ context.Context, sessionID string, status conversation.Status, endTime *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	session.Status = status
	session.EndTime = endTime
	s.sessions[sessionID] = session
	return nil
}
