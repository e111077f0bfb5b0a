package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	visionmodel "github.com/pictalk/pictalk/backend/internal/model/vision"
	"github.com/pictalk/pictalk/backend/internal/service/conversation"
	"github.com/pictalk/pictalk/backend/internal/service/vision"
	"github.com/pictalk/pictalk/backend/internal/store"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

type fakeAnalyzer struct {
	err error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, data []byte) (visionmodel.Analysis, error) {
	if f.err != nil {
		return visionmodel.Analysis{}, f.err
	}
	if !bytes.HasPrefix(data, pngHeader) {
		return visionmodel.Analysis{}, fmt.Errorf("%w: unsupported content type", vision.ErrInvalidImage)
	}
	return visionmodel.Analysis{
		Description:         "a golden retriever in a park",
		ConversationStarter: "What do you think the dog is chasing?",
		SuggestedTopics:     []string{"pets", "parks"},
	}, nil
}

type fakeMediaStore struct {
	lastKey         string
	lastContentType string
}

func (f *fakeMediaStore) Put(_ context.Context, key, contentType string, _ []byte) (string, error) {
	f.lastKey = key
	f.lastContentType = contentType
	return "https://media.example.com/" + key, nil
}

func newTestHandler(analyzer *fakeAnalyzer) (*Handler, *fakeMediaStore) {
	mediaStore := &fakeMediaStore{}
	manager := conversation.NewManager(store.NewMemoryStore(), analyzer, nil, nil, nil, time.Minute)
	return New(manager, mediaStore), mediaStore
}

func imageRequest(t *testing.T, url string, payload []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "photo.png")
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write image err: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, url, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) (map[string]any, string) {
	t.Helper()

	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
		Error   string         `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response err: %v", err)
	}
	return envelope.Data, envelope.Error
}

func TestAnalyzeImage(t *testing.T) {
	handler, _ := newTestHandler(&fakeAnalyzer{})

	// A realistic 2MB photo, well under the limit.
	payload := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 2<<20)...)
	rr := httptest.NewRecorder()
	handler.handleAnalyzeImage(rr, imageRequest(t, "/api/analyzeImage", payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}
	data, _ := decodeEnvelope(t, rr)
	if data["description"] != "a golden retriever in a park" {
		t.Fatalf("unexpected description: %v", data["description"])
	}
	if data["conversationStarter"] == "" {
		t.Fatal("expected a conversation starter")
	}
}

func TestAnalyzeImageRejectsNonImage(t *testing.T) {
	handler, _ := newTestHandler(&fakeAnalyzer{})

	rr := httptest.NewRecorder()
	handler.handleAnalyzeImage(rr, imageRequest(t, "/api/analyzeImage", []byte("plain text payload")))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAnalyzeImageMissingFile(t *testing.T) {
	handler, _ := newTestHandler(&fakeAnalyzer{})

	req := httptest.NewRequest(http.MethodPost, "/api/analyzeImage", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.handleAnalyzeImage(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAnalyzeImageTooLarge(t *testing.T) {
	handler, _ := newTestHandler(&fakeAnalyzer{})

	payload := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, MaxImageBytes+1)...)
	rr := httptest.NewRecorder()
	handler.handleAnalyzeImage(rr, imageRequest(t, "/api/analyzeImage", payload))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestAnalyzeImageUpstreamFailure(t *testing.T) {
	handler, _ := newTestHandler(&fakeAnalyzer{err: fmt.Errorf("model timeout")})

	payload := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)
	rr := httptest.NewRecorder()
	handler.handleAnalyzeImage(rr, imageRequest(t, "/api/analyzeImage", payload))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	_, errMsg := decodeEnvelope(t, rr)
	if errMsg == "" {
		t.Fatal("expected error message in envelope")
	}
}

func TestUploadImage(t *testing.T) {
	handler, mediaStore := newTestHandler(&fakeAnalyzer{})

	payload := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)
	rr := httptest.NewRecorder()
	handler.handleUploadImage(rr, imageRequest(t, "/api/uploadImage", payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}
	data, _ := decodeEnvelope(t, rr)
	url, _ := data["imageUrl"].(string)
	if !strings.HasPrefix(url, "https://media.example.com/images/") {
		t.Fatalf("unexpected image url: %s", url)
	}
	if !strings.HasPrefix(mediaStore.lastKey, "images/") {
		t.Fatalf("unexpected media key: %s", mediaStore.lastKey)
	}
	if mediaStore.lastContentType != "image/png" {
		t.Fatalf("unexpected content type: %s", mediaStore.lastContentType)
	}
}

func TestUploadImageRejectsNonImage(t *testing.T) {
	handler, _ := newTestHandler(&fakeAnalyzer{})

	rr := httptest.NewRecorder()
	handler.handleUploadImage(rr, imageRequest(t, "/api/uploadImage", []byte("not an image")))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
