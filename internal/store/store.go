package store

import (
	"context"
	"errors"
	"time"

	"github.com/pictalk/pictalk/backend/internal/model/conversation"
)

var (
	// ErrConflict is returned when creating a session whose id already exists.
	ErrConflict = errors.New("session id already exists")
	// ErrSessionNotFound is returned when the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// Store is the durable record of conversations and their ordered turns.
// Implementations must return turns in stable ascending order by creation
// time and must treat turns as append-only.
type Store interface {
	CreateSession(ctx context.Context, session conversation.Session) error
	GetSession(ctx context.Context, sessionID string) (conversation.Session, error)
	AppendTurn(ctx context.Context, turn conversation.Turn) error
	ListTurns(ctx context.Context, sessionID string) ([]conversation.Turn, error)
	UpdateStatus(ctx context.Context, sessionID string, status conversation.Status, endTime *time.Time) error
}
