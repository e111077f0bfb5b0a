package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	visionmodel "github.com/pictalk/pictalk/backend/internal/model/vision"
)

// MaxImageBytes caps the accepted image payload.
const MaxImageBytes = 10 << 20

var (
	// ErrInvalidImage is returned for payloads that are not images or
	// exceed the size ceiling.
	ErrInvalidImage = errors.New("invalid image payload")
	// ErrMalformedAnalysis is returned when the model's reply cannot be
	// validated into the three required fields.
	ErrMalformedAnalysis = errors.New("malformed analysis response")
)

const systemPrompt = `You are a friendly AI assistant for children. Analyze the image and provide a child-friendly description and conversation starter. Respond with JSON only, no prose around it, using exactly these fields: description (simple, engaging), conversationStarter (question to start conversation), suggestedTopics (array of 3-5 topics to discuss).`

// Service analyzes uploaded images with a multimodal chat model. The
// model's reply is treated as untrusted structured data and validated
// before anything downstream sees it.
type Service struct {
	chatModel model.BaseChatModel
	timeout   time.Duration
}

// NewService wires the analyzer to the provided multimodal model.
func NewService(chatModel model.BaseChatModel, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{chatModel: chatModel, timeout: timeout}
}

// Analyze describes the image and proposes a conversation starter.
func (s *Service) Analyze(ctx context.Context, imageData []byte) (visionmodel.Analysis, error) {
	if len(imageData) == 0 || len(imageData) > MaxImageBytes {
		return visionmodel.Analysis{}, ErrInvalidImage
	}

	mimeType := http.DetectContentType(imageData)
	if !strings.HasPrefix(mimeType, "image/") {
		return visionmodel.Analysis{}, ErrInvalidImage
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{
					Type: schema.ChatMessagePartTypeText,
					Text: "Analyze this image for a conversation with a child:",
				},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:    dataURL,
						Detail: schema.ImageURLDetailAuto,
					},
				},
			},
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.chatModel.Generate(callCtx, messages)
	if err != nil {
		return visionmodel.Analysis{}, fmt.Errorf("vision model generate: %w", err)
	}

	analysis, err := ParseAnalysis(response.Content)
	if err != nil {
		log.Printf("[vision] rejecting model output: %v", err)
		return visionmodel.Analysis{}, err
	}
	return analysis, nil
}

// ParseAnalysis validates the model's reply into a typed analysis. Models
// routinely wrap JSON in markdown fences, so fences are stripped first;
// anything else that deviates from the schema is a single named error.
func ParseAnalysis(raw string) (visionmodel.Analysis, error) {
	trimmed := stripCodeFence(strings.TrimSpace(raw))
	if trimmed == "" {
		return visionmodel.Analysis{}, fmt.Errorf("%w: empty response", ErrMalformedAnalysis)
	}

	var analysis visionmodel.Analysis
	decoder := json.NewDecoder(strings.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&analysis); err != nil {
		// Retry tolerating extra fields; unknown additions are harmless,
		// missing required ones are not.
		analysis = visionmodel.Analysis{}
		if err := json.Unmarshal([]byte(trimmed), &analysis); err != nil {
			return visionmodel.Analysis{}, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
		}
	}

	if strings.TrimSpace(analysis.Description) == "" {
		return visionmodel.Analysis{}, fmt.Errorf("%w: missing description", ErrMalformedAnalysis)
	}
	if strings.TrimSpace(analysis.ConversationStarter) == "" {
		return visionmodel.Analysis{}, fmt.Errorf("%w: missing conversationStarter", ErrMalformedAnalysis)
	}
	if len(analysis.SuggestedTopics) == 0 {
		return visionmodel.Analysis{}, fmt.Errorf("%w: missing suggestedTopics", ErrMalformedAnalysis)
	}
	return analysis, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
