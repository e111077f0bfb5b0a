package vision

// Analysis is the validated result of analyzing an uploaded image. The
// conversation starter seeds the first assistant message client-side; it
// is not persisted as a turn.
type Analysis struct {
	Description         string   `json:"description"`
	ConversationStarter string   `json:"conversationStarter"`
	SuggestedTopics     []string `json:"suggestedTopics"`
}
