package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	convmodel "github.com/pictalk/pictalk/backend/internal/model/conversation"
	visionmodel "github.com/pictalk/pictalk/backend/internal/model/vision"
	"github.com/pictalk/pictalk/backend/internal/service/media"
	"github.com/pictalk/pictalk/backend/internal/service/vision"
	"github.com/pictalk/pictalk/backend/internal/store"
)

// DefaultBudget is the conversation time budget.
const DefaultBudget = 60 * time.Second

// Analyzer describes an uploaded image.
type Analyzer interface {
	Analyze(ctx context.Context, imageData []byte) (visionmodel.Analysis, error)
}

// Generator produces the assistant's next reply from bounded context.
type Generator interface {
	Reply(ctx context.Context, imageDescription string, history []convmodel.Turn, userMessage string) (string, error)
}

// Synthesizer converts reply text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

// TurnResult is the outcome of one submitted turn. ReplyAudioURL is
// empty when synthesis or upload failed; that is not an error state.
type TurnResult struct {
	ReplyText     string
	ReplyAudioURL string
}

// Manager owns the conversation protocol: session lifecycle, the turn
// sequence, the time budget, and failure isolation between synthesis
// and persistence. All collaborators are injected.
type Manager struct {
	store     store.Store
	analyzer  Analyzer
	generator Generator
	synth     Synthesizer // nil disables audio replies
	media     media.Store // nil disables audio replies
	budget    time.Duration
	now       func() time.Time
}

// NewManager wires the manager to its collaborators. budget <= 0 selects
// the default 60 seconds.
func NewManager(st store.Store, analyzer Analyzer, generator Generator, synth Synthesizer, mediaStore media.Store, budget time.Duration) *Manager {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Manager{
		store:     st,
		analyzer:  analyzer,
		generator: generator,
		synth:     synth,
		media:     mediaStore,
		budget:    budget,
		now:       time.Now,
	}
}

// AnalyzeImage describes the image and proposes a conversation starter.
func (m *Manager) AnalyzeImage(ctx context.Context, imageData []byte) (visionmodel.Analysis, error) {
	if m.analyzer == nil {
		return visionmodel.Analysis{}, fmt.Errorf("%w: analyzer not configured", ErrAnalysisUnavailable)
	}

	analysis, err := m.analyzer.Analyze(ctx, imageData)
	if err != nil {
		if errors.Is(err, vision.ErrInvalidImage) {
			return visionmodel.Analysis{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return visionmodel.Analysis{}, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	return analysis, nil
}

// StartSession creates an active session. Duplicate session ids are a
// store-level conflict, not an idempotent success.
func (m *Manager) StartSession(ctx context.Context, sessionID, imageURL, imageDescription string) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(imageURL) == "" {
		return fmt.Errorf("%w: session id and image url are required", ErrInvalidRequest)
	}

	session := convmodel.Session{
		ID:               sessionID,
		ImageURL:         imageURL,
		ImageDescription: imageDescription,
		StartTime:        m.now().UTC(),
		Status:           convmodel.StatusActive,
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: %s", ErrConflict, sessionID)
		}
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

// SubmitTurn runs one full exchange: generate a reply from bounded
// context, attempt best-effort speech synthesis, then persist the user
// turn followed by the assistant turn. The user turn is durably written
// before the assistant turn is attempted.
func (m *Manager) SubmitTurn(ctx context.Context, sessionID, transcription string) (TurnResult, error) {
	if strings.TrimSpace(transcription) == "" {
		return TurnResult{}, fmt.Errorf("%w: transcription is required", ErrInvalidRequest)
	}

	session, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if err := m.ensureActive(ctx, session); err != nil {
		return TurnResult{}, err
	}

	history, err := m.store.ListTurns(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return TurnResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return TurnResult{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	replyText, err := m.generator.Reply(ctx, session.ImageDescription, history, transcription)
	if err != nil {
		// No partial turn may be persisted when generation fails.
		return TurnResult{}, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	// Best-effort side path: synthesis or upload failure degrades to a
	// text-only reply and never rolls back or aborts persistence.
	audioURL := m.synthesizeReply(ctx, sessionID, replyText)

	userCreated := m.now().UTC()
	userTurn := convmodel.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      convmodel.RoleUser,
		Content:   transcription,
		CreatedAt: userCreated,
	}
	if err := m.store.AppendTurn(ctx, userTurn); err != nil {
		return TurnResult{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	// Stamped strictly after the user turn so retrieval order is stable
	// even on coarse clocks.
	assistantTurn := convmodel.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      convmodel.RoleAssistant,
		Content:   replyText,
		AudioURL:  audioURL,
		CreatedAt: userCreated.Add(time.Millisecond),
	}
	if err := m.store.AppendTurn(ctx, assistantTurn); err != nil {
		return TurnResult{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	return TurnResult{ReplyText: replyText, ReplyAudioURL: audioURL}, nil
}

// EndSession completes an active session. Ending a terminal session is
// an invalid transition and leaves its end time untouched.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	session, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.ensureActive(ctx, session); err != nil {
		return err
	}

	end := m.now().UTC()
	if err := m.store.UpdateStatus(ctx, sessionID, convmodel.StatusCompleted, &end); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

// GetTranscript returns a session and its turns in creation order.
func (m *Manager) GetTranscript(ctx context.Context, sessionID string) (convmodel.Session, []convmodel.Turn, error) {
	session, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return convmodel.Session{}, nil, err
	}

	turns, err := m.store.ListTurns(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return convmodel.Session{}, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return convmodel.Session{}, nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return session, turns, nil
}

func (m *Manager) loadSession(ctx context.Context, sessionID string) (convmodel.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return convmodel.Session{}, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return convmodel.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return convmodel.Session{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return session, nil
}

// ensureActive rejects operations on terminal sessions and lazily
// expires sessions whose time budget has elapsed.
func (m *Manager) ensureActive(ctx context.Context, session convmodel.Session) error {
	if session.Status.Terminal() {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, session.ID, session.Status)
	}

	deadline := session.StartTime.Add(m.budget)
	if m.now().After(deadline) {
		if err := m.store.UpdateStatus(ctx, session.ID, convmodel.StatusExpired, &deadline); err != nil {
			log.Printf("[manager] failed to mark session %s expired: %v", session.ID, err)
		}
		return fmt.Errorf("%w: session %s has expired", ErrInvalidTransition, session.ID)
	}
	return nil
}

// synthesizeReply runs the best-effort synthesis and upload path. Any
// failure is logged and absorbed; the caller only sees an empty URL.
func (m *Manager) synthesizeReply(ctx context.Context, sessionID, replyText string) string {
	if m.synth == nil || m.media == nil {
		return ""
	}

	audio, _, err := m.synth.Synthesize(ctx, replyText)
	if err != nil {
		log.Printf("[manager] speech synthesis failed for session %s: %v", sessionID, err)
		return ""
	}

	url, err := m.media.Put(ctx, media.AudioKey(sessionID), "audio/mpeg", audio)
	if err != nil {
		log.Printf("[manager] audio upload failed for session %s: %v", sessionID, err)
		return ""
	}
	return url
}
