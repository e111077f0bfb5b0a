package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pictalk/pictalk/backend/internal/model/vision"
)

// API is the server surface the controller drives.
type API interface {
	AnalyzeImage(ctx context.Context, image []byte, filename string) (vision.Analysis, error)
	UploadImage(ctx context.Context, image []byte, filename string) (string, error)
	StartConversation(ctx context.Context, sessionID, imageURL, description string) error
	SendVoiceInput(ctx context.Context, sessionID string, audio []byte, transcription string) (message, audioURL string, err error)
	EndConversation(ctx context.Context, sessionID string) error
}

// HTTPClient talks to the conversation API over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the API at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *HTTPClient) AnalyzeImage(ctx context.Context, image []byte, filename string) (vision.Analysis, error) {
	var analysis vision.Analysis
	err := c.postMultipart(ctx, "/api/analyzeImage", map[string]string{}, "image", filename, image, &analysis)
	return analysis, err
}

func (c *HTTPClient) UploadImage(ctx context.Context, image []byte, filename string) (string, error) {
	var data struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := c.postMultipart(ctx, "/api/uploadImage", map[string]string{}, "image", filename, image, &data); err != nil {
		return "", err
	}
	return data.ImageURL, nil
}

func (c *HTTPClient) StartConversation(ctx context.Context, sessionID, imageURL, description string) error {
	payload := map[string]string{
		"sessionId":   sessionID,
		"imageUrl":    imageURL,
		"description": description,
	}
	return c.postJSON(ctx, "/api/startConversation", payload, nil)
}

func (c *HTTPClient) SendVoiceInput(ctx context.Context, sessionID string, audio []byte, transcription string) (string, string, error) {
	fields := map[string]string{
		"sessionId":     sessionID,
		"transcription": transcription,
	}
	var data struct {
		Message  string `json:"message"`
		AudioURL string `json:"audioUrl"`
	}
	if err := c.postMultipart(ctx, "/api/sendVoiceInput", fields, "audio", "clip.webm", audio, &data); err != nil {
		return "", "", err
	}
	return data.Message, data.AudioURL, nil
}

func (c *HTTPClient) EndConversation(ctx context.Context, sessionID string) error {
	return c.postJSON(ctx, "/api/endConversation", map[string]string{"sessionId": sessionID}, nil)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *HTTPClient) postMultipart(ctx context.Context, path string, fields map[string]string, fileField, filename string, file []byte, out any) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("encode form: %w", err)
		}
	}
	if len(file) > 0 {
		part, err := writer.CreateFormFile(fileField, filename)
		if err != nil {
			return fmt.Errorf("encode form: %w", err)
		}
		if _, err := part.Write(file); err != nil {
			return fmt.Errorf("encode form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("encode form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		if envelope.Error != "" {
			return fmt.Errorf("api error: %s", envelope.Error)
		}
		return fmt.Errorf("api error: status %d", resp.StatusCode)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}
