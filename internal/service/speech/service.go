package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/pictalk/pictalk/backend/internal/config"
)

// Client is a speech synthesis backend.
type Client interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

// Service fronts the configured TTS backend with a per-call timeout.
// Synthesis is always best-effort for callers; the service itself still
// reports errors so they can be logged.
type Service struct {
	client  Client
	timeout time.Duration
}

// NewService selects the backend from configuration.
func NewService(cfg config.SpeechConfig) (*Service, error) {
	var client Client
	switch cfg.Provider {
	case "openai":
		client = NewOpenAIClient(cfg)
	case "volcengine":
		client = NewVolcengineClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported speech provider: %s", cfg.Provider)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Service{client: client, timeout: timeout}, nil
}

// Synthesize converts text to audio bytes, bounding the call duration.
func (s *Service) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Synthesize(callCtx, text)
}
