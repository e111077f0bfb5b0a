package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	convmodel "github.com/pictalk/pictalk/backend/internal/model/conversation"
	visionmodel "github.com/pictalk/pictalk/backend/internal/model/vision"
	"github.com/pictalk/pictalk/backend/internal/store"
)

type fakeAnalyzer struct {
	analysis visionmodel.Analysis
	err      error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ []byte) (visionmodel.Analysis, error) {
	if f.err != nil {
		return visionmodel.Analysis{}, f.err
	}
	return f.analysis, nil
}

type fakeGenerator struct {
	reply       string
	err         error
	gotHistory  []convmodel.Turn
	gotMessage  string
	gotImageDsc string
}

func (f *fakeGenerator) Reply(_ context.Context, imageDescription string, history []convmodel.Turn, userMessage string) (string, error) {
	f.gotImageDsc = imageDescription
	f.gotHistory = history
	f.gotMessage = userMessage
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeSynth struct {
	audio []byte
	err   error
	calls int
}

func (f *fakeSynth) Synthesize(_ context.Context, _ string) ([]byte, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.audio, "mp3", nil
}

type fakeMedia struct {
	url  string
	err  error
	keys []string
}

func (f *fakeMedia) Put(_ context.Context, key, _ string, _ []byte) (string, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore, *fakeGenerator, *fakeSynth, *fakeMedia) {
	t.Helper()

	st := store.NewMemoryStore()
	gen := &fakeGenerator{reply: "A big friendly dog!"}
	synth := &fakeSynth{audio: []byte("mp3")}
	mediaStore := &fakeMedia{url: "https://media.example.com/audio/clip.mp3"}
	m := NewManager(st, &fakeAnalyzer{}, gen, synth, mediaStore, time.Minute)
	return m, st, gen, synth, mediaStore
}

func startSession(t *testing.T, m *Manager, id string) {
	t.Helper()
	if err := m.StartSession(context.Background(), id, "https://media.example.com/images/dog.jpg", "a dog in a park"); err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
}

func TestStartSessionValidation(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.StartSession(ctx, "", "url", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty id, got %v", err)
	}
	if err := m.StartSession(ctx, "s1", "  ", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty url, got %v", err)
	}
}

func TestStartSessionConflict(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)

	startSession(t, m, "s1")
	err := m.StartSession(context.Background(), "s1", "url", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSubmitTurnHappyPath(t *testing.T) {
	m, st, gen, _, _ := newTestManager(t)
	ctx := context.Background()
	startSession(t, m, "s1")

	result, err := m.SubmitTurn(ctx, "s1", "a dog")
	if err != nil {
		t.Fatalf("SubmitTurn err: %v", err)
	}
	if result.ReplyText == "" {
		t.Fatal("expected non-empty reply text")
	}
	if result.ReplyAudioURL == "" {
		t.Fatal("expected audio url")
	}
	if gen.gotImageDsc != "a dog in a park" {
		t.Fatalf("generator missing image description: %q", gen.gotImageDsc)
	}

	turns, err := st.ListTurns(ctx, "s1")
	if err != nil {
		t.Fatalf("ListTurns err: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != convmodel.RoleUser || turns[0].Content != "a dog" {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != convmodel.RoleAssistant || turns[1].Content != result.ReplyText {
		t.Fatalf("unexpected assistant turn: %+v", turns[1])
	}
	if turns[0].AudioURL != "" {
		t.Fatal("user turn must not carry audio")
	}
	if turns[1].AudioURL != result.ReplyAudioURL {
		t.Fatalf("assistant audio url mismatch: %s", turns[1].AudioURL)
	}
	if !turns[0].CreatedAt.Before(turns[1].CreatedAt) {
		t.Fatal("user turn must precede assistant turn")
	}
}

func TestSubmitTurnEmptyTranscriptionWritesNothing(t *testing.T) {
	m, st, _, _, _ := newTestManager(t)
	ctx := context.Background()
	startSession(t, m, "s1")

	if _, err := m.SubmitTurn(ctx, "s1", "   "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	turns, err := st.ListTurns(ctx, "s1")
	if err != nil {
		t.Fatalf("ListTurns err: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected no turns, got %d", len(turns))
	}
}

func TestSubmitTurnUnknownSession(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)

	if _, err := m.SubmitTurn(context.Background(), "ghost", "hello"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSubmitTurnGenerationFailureWritesNothing(t *testing.T) {
	m, st, gen, synth, _ := newTestManager(t)
	ctx := context.Background()
	startSession(t, m, "s1")

	gen.err = fmt.Errorf("model overloaded")

	if _, err := m.SubmitTurn(ctx, "s1", "a dog"); !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}

	turns, _ := st.ListTurns(ctx, "s1")
	if len(turns) != 0 {
		t.Fatalf("expected no turns after generation failure, got %d", len(turns))
	}
	if synth.calls != 0 {
		t.Fatal("synthesis must not run when generation fails")
	}
}

func TestSubmitTurnSynthesisFailureIsIsolated(t *testing.T) {
	m, st, _, synth, _ := newTestManager(t)
	ctx := context.Background()
	startSession(t, m, "s1")

	synth.err = fmt.Errorf("tts down")

	result, err := m.SubmitTurn(ctx, "s1", "a dog")
	if err != nil {
		t.Fatalf("SubmitTurn err: %v", err)
	}
	if result.ReplyAudioURL != "" {
		t.Fatalf("expected absent audio url, got %s", result.ReplyAudioURL)
	}

	turns, _ := st.ListTurns(ctx, "s1")
	if len(turns) != 2 {
		t.Fatalf("expected both turns persisted, got %d", len(turns))
	}
	if turns[1].AudioURL != "" {
		t.Fatalf("assistant turn should have no audio url, got %s", turns[1].AudioURL)
	}
}

func TestSubmitTurnUploadFailureIsIsolated(t *testing.T) {
	m, st, _, _, mediaStore := newTestManager(t)
	ctx := context.Background()
	startSession(t, m, "s1")

	mediaStore.err = fmt.Errorf("bucket unreachable")

	result, err := m.SubmitTurn(ctx, "s1", "a dog")
	if err != nil {
		t.Fatalf("SubmitTurn err: %v", err)
	}
	if result.ReplyAudioURL != "" {
		t.Fatalf("expected absent audio url, got %s", result.ReplyAudioURL)
	}

	turns, _ := st.ListTurns(ctx, "s1")
	if len(turns) != 2 {
		t.Fatalf("expected both turns persisted, got %d", len(turns))
	}
}

func TestSubmitTurnWithoutSynthesizer(t *testing.T) {
	st := store.NewMemoryStore()
	gen := &fakeGenerator{reply: "hi!"}
	m := NewManager(st, &fakeAnalyzer{}, gen, nil, nil, time.Minute)
	ctx := context.Background()

	if err := m.StartSession(ctx, "s1", "url", ""); err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	result, err := m.SubmitTurn(ctx, "s1", "hello")
	if err != nil {
		t.Fatalf("SubmitTurn err: %v", err)
	}
	if result.ReplyAudioURL != "" {
		t.Fatal("expected no audio url without a synthesizer")
	}
}

func TestSubmitTurnPassesFullHistoryToGenerator(t *testing.T) {
	m, st, gen, _, _ := newTestManager(t)
	ctx := context.Background()
	startSession(t, m, "s1")

	base := time.Now().UTC()
	for i := 0; i < 20; i++ {
		turn := convmodel.Turn{
			SessionID: "s1",
			Role:      convmodel.RoleUser,
			Content:   fmt.Sprintf("turn-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := st.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn err: %v", err)
		}
	}

	if _, err := m.SubmitTurn(ctx, "s1", "latest"); err != nil {
		t.Fatalf("SubmitTurn err: %v", err)
	}

	// The manager hands the generator the loaded history untouched;
	// the generator owns the context cap.
	if len(gen.gotHistory) != 20 {
		t.Fatalf("expected full history, got %d", len(gen.gotHistory))
	}
	if gen.gotMessage != "latest" {
		t.Fatalf("unexpected user message: %s", gen.gotMessage)
	}
}

func TestEndSessionCompletesOnce(t *testing.T) {
	m, st, _, _, _ := newTestManager(t)
	ctx := context.Background()
	startSession(t, m, "s1")

	if err := m.EndSession(ctx, "s1"); err != nil {
		t.Fatalf("EndSession err: %v", err)
	}

	session, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if session.Status != convmodel.StatusCompleted {
		t.Fatalf("unexpected status: %s", session.Status)
	}
	if session.EndTime == nil {
		t.Fatal("end time should be set")
	}
	firstEnd := *session.EndTime

	if err := m.EndSession(ctx, "s1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	session, _ = st.GetSession(ctx, "s1")
	if session.EndTime == nil || !session.EndTime.Equal(firstEnd) {
		t.Fatalf("end time must not change: %v vs %v", session.EndTime, firstEnd)
	}
}

func TestSubmitTurnAfterBudgetExpires(t *testing.T) {
	m, st, _, _, _ := newTestManager(t)
	ctx := context.Background()
	startSession(t, m, "s1")

	// Jump the clock past the budget.
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, err := m.SubmitTurn(ctx, "s1", "too late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	session, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if session.Status != convmodel.StatusExpired {
		t.Fatalf("session should be expired, got %s", session.Status)
	}
	if session.EndTime == nil {
		t.Fatal("expired session should carry an end time")
	}

	turns, _ := st.ListTurns(ctx, "s1")
	if len(turns) != 0 {
		t.Fatalf("expected no turns after expiry, got %d", len(turns))
	}
}

func TestAnalyzeImageMapsErrors(t *testing.T) {
	st := store.NewMemoryStore()
	analyzer := &fakeAnalyzer{err: fmt.Errorf("vision model down")}
	m := NewManager(st, analyzer, &fakeGenerator{}, nil, nil, time.Minute)

	if _, err := m.AnalyzeImage(context.Background(), []byte("img")); !errors.Is(err, ErrAnalysisUnavailable) {
		t.Fatalf("expected ErrAnalysisUnavailable, got %v", err)
	}

	analyzer.err = nil
	analyzer.analysis = visionmodel.Analysis{
		Description:         "a dog",
		ConversationStarter: "What's that?",
		SuggestedTopics:     []string{"dogs"},
	}
	analysis, err := m.AnalyzeImage(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("AnalyzeImage err: %v", err)
	}
	if analysis.ConversationStarter != "What's that?" {
		t.Fatalf("unexpected starter: %s", analysis.ConversationStarter)
	}
}

func TestGetTranscript(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	ctx := context.Background()
	startSession(t, m, "s1")

	if _, err := m.SubmitTurn(ctx, "s1", "first message"); err != nil {
		t.Fatalf("SubmitTurn err: %v", err)
	}

	session, turns, err := m.GetTranscript(ctx, "s1")
	if err != nil {
		t.Fatalf("GetTranscript err: %v", err)
	}
	if session.ID != "s1" {
		t.Fatalf("unexpected session: %s", session.ID)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}

	if _, _, err := m.GetTranscript(ctx, "ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
