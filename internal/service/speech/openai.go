package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pictalk/pictalk/backend/internal/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient synthesizes speech through an OpenAI-compatible
// /audio/speech endpoint.
type OpenAIClient struct {
	cfg        config.SpeechConfig
	httpClient *http.Client
}

// NewOpenAIClient builds the HTTP TTS client. The caller controls the
// per-request timeout via context.
func NewOpenAIClient(cfg config.SpeechConfig) *OpenAIClient {
	return &OpenAIClient{cfg: cfg, httpClient: &http.Client{}}
}

type openAISpeechRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	Speed          float32 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

// Synthesize converts text to mp3 audio bytes.
func (c *OpenAIClient) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("tts text is empty")
	}

	baseURL := c.cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	payload, err := json.Marshal(openAISpeechRequest{
		Model:          c.cfg.Model,
		Voice:          c.cfg.Voice,
		Input:          text,
		Speed:          c.cfg.Speed,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("call tts endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("tts endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", fmt.Errorf("tts audio is empty")
	}
	return audio, "mp3", nil
}
