package conversation

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	convmodel "github.com/pictalk/pictalk/backend/internal/model/conversation"
	convService "github.com/pictalk/pictalk/backend/internal/service/conversation"
	"github.com/pictalk/pictalk/backend/pkg/utils"
)

// MaxAudioBytes caps uploaded voice clip size.
const MaxAudioBytes = 5 << 20

// Handler serves the conversation lifecycle.
type Handler struct {
	manager *convService.Manager
}

// New creates a conversation handler.
func New(manager *convService.Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes mounts conversation routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/startConversation", h.handleStart)
	r.Post("/sendVoiceInput", h.handleVoiceInput)
	r.Post("/endConversation", h.handleEnd)
	r.Get("/conversations/{sessionID}", h.handleTranscript)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID   string `json:"sessionId"`
		ImageURL    string `json:"imageUrl"`
		Description string `json:"description"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.SessionID == "" || payload.ImageURL == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId and imageUrl are required")
		return
	}

	if err := h.manager.StartSession(r.Context(), payload.SessionID, payload.ImageURL, payload.Description); err != nil {
		respondManagerError(w, err, "failed to start conversation")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"sessionId": payload.SessionID})
}

func (h *Handler) handleVoiceInput(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxAudioBytes)

	if err := r.ParseMultipartForm(MaxAudioBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio exceeds the 5MB limit")
		} else {
			utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		}
		return
	}

	sessionID := r.FormValue("sessionId")
	transcription := r.FormValue("transcription")
	if sessionID == "" || transcription == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId and transcription are required")
		return
	}

	// The audio clip is optional; transcription is produced client-side.
	// When present it only has to look like audio.
	if file, _, err := r.FormFile("audio"); err == nil {
		head := make([]byte, 512)
		n, _ := io.ReadFull(file, head)
		file.Close()
		contentType := http.DetectContentType(head[:n])
		if !strings.HasPrefix(contentType, "audio/") && !strings.HasPrefix(contentType, "video/") &&
			contentType != "application/octet-stream" {
			utils.RespondError(w, http.StatusBadRequest, "only audio files are allowed")
			return
		}
	}

	result, err := h.manager.SubmitTurn(r.Context(), sessionID, transcription)
	if err != nil {
		respondManagerError(w, err, "failed to process voice input")
		return
	}

	data := map[string]string{"message": result.ReplyText}
	if result.ReplyAudioURL != "" {
		data["audioUrl"] = result.ReplyAudioURL
	}
	utils.RespondJSON(w, http.StatusOK, data)
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.manager.EndSession(r.Context(), payload.SessionID); err != nil {
		respondManagerError(w, err, "failed to end conversation")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": string(convmodel.StatusCompleted)})
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, turns, err := h.manager.GetTranscript(r.Context(), sessionID)
	if err != nil {
		respondManagerError(w, err, "failed to load conversation")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"turns":   turns,
	})
}

// respondManagerError maps the service error taxonomy onto HTTP statuses.
func respondManagerError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, convService.ErrInvalidRequest):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, convService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, convService.ErrConflict):
		utils.RespondError(w, http.StatusConflict, "session already exists")
	case errors.Is(err, convService.ErrInvalidTransition):
		utils.RespondError(w, http.StatusConflict, "session is no longer active")
	case errors.Is(err, convService.ErrAnalysisUnavailable),
		errors.Is(err, convService.ErrGenerationUnavailable):
		log.Printf("[conversation] upstream failure: %v", err)
		utils.RespondError(w, http.StatusBadGateway, fallback)
	case errors.Is(err, convService.ErrPersistenceUnavailable):
		log.Printf("[conversation] store failure: %v", err)
		utils.RespondError(w, http.StatusServiceUnavailable, fallback)
	default:
		log.Printf("[conversation] unexpected error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, fallback)
	}
}
