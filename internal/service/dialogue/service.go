package dialogue

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/pictalk/pictalk/backend/internal/model/conversation"
)

// historyLimit bounds how many prior turns accompany each request. The
// cap bounds model context cost and is deliberately not configurable.
const historyLimit = 6

// fallbackReply is used when the model returns empty content.
const fallbackReply = "I'm excited to talk more about this! What else do you notice?"

// Service generates conversational replies grounded in the session's
// image via a prompt-template chain.
type Service struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	timeout   time.Duration
}

// NewService compiles the reply chain around the provided chat model.
func NewService(ctx context.Context, chatModel model.BaseChatModel, timeout time.Duration) (*Service, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}

	return &Service{chatModel: chatModel, chain: runnable, timeout: timeout}, nil
}

// Reply produces the assistant's next line for a session. Only the most
// recent turns travel to the model; older ones are discarded.
func (s *Service) Reply(ctx context.Context, imageDescription string, history []conversation.Turn, userMessage string) (string, error) {
	input := map[string]any{
		"system":  buildSystemPrompt(imageDescription),
		"history": buildHistoryMessages(history),
		"query":   userMessage,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.chain.Invoke(callCtx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run reply chain: %w", err)
	}

	reply := strings.TrimSpace(response.Content)
	if reply == "" {
		log.Printf("[dialogue] model returned empty content, using fallback")
		reply = fallbackReply
	}
	return reply, nil
}

func buildSystemPrompt(imageDescription string) string {
	var builder strings.Builder
	builder.WriteString("You are a friendly AI assistant having a conversation with a child about an image.\n")
	if imageDescription != "" {
		builder.WriteString("The image shows: ")
		builder.WriteString(imageDescription)
		builder.WriteString("\n")
	}
	builder.WriteString(`Keep responses:
- Child-friendly and age-appropriate
- Engaging and encouraging
- 1-2 sentences long
- Ask follow-up questions to keep the conversation going
Be warm, enthusiastic, and educational.`)
	return builder.String()
}

func buildHistoryMessages(turns []conversation.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if len(turns) > historyLimit {
		startIdx = len(turns) - historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Role {
		case conversation.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case conversation.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}
