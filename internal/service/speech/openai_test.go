package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pictalk/pictalk/backend/internal/config"
)

func TestOpenAIClientSynthesize(t *testing.T) {
	var gotBody openAISpeechRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	client := NewOpenAIClient(config.SpeechConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "tts-1",
		Voice:   "nova",
		Speed:   0.9,
	})

	audio, format, err := client.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Fatalf("unexpected audio: %q", audio)
	}
	if format != "mp3" {
		t.Fatalf("unexpected format: %s", format)
	}
	if gotBody.Input != "hello there" || gotBody.Voice != "nova" || gotBody.Model != "tts-1" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
}

func TestOpenAIClientSynthesizeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenAIClient(config.SpeechConfig{APIKey: "k", BaseURL: server.URL, Model: "tts-1", Voice: "nova"})

	if _, _, err := client.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestOpenAIClientRejectsEmptyText(t *testing.T) {
	client := NewOpenAIClient(config.SpeechConfig{APIKey: "k", Model: "tts-1"})

	if _, _, err := client.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}
