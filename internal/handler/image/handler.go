package image

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pictalk/pictalk/backend/internal/service/conversation"
	"github.com/pictalk/pictalk/backend/internal/service/media"
	"github.com/pictalk/pictalk/backend/pkg/utils"
)

// MaxImageBytes caps uploaded image size.
const MaxImageBytes = 10 << 20

// Handler serves image analysis and upload.
type Handler struct {
	manager *conversation.Manager
	media   media.Store
}

// New creates an image handler.
func New(manager *conversation.Manager, mediaStore media.Store) *Handler {
	return &Handler{manager: manager, media: mediaStore}
}

// RegisterRoutes mounts image routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analyzeImage", h.handleAnalyzeImage)
	r.Post("/uploadImage", h.handleUploadImage)
}

func (h *Handler) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	data, _, ok := readImagePart(w, r)
	if !ok {
		return
	}

	analysis, err := h.manager.AnalyzeImage(r.Context(), data)
	if err != nil {
		if errors.Is(err, conversation.ErrInvalidRequest) {
			utils.RespondError(w, http.StatusBadRequest, "only image files are allowed")
			return
		}
		log.Printf("[image] analysis failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "failed to analyze image")
		return
	}

	utils.RespondJSON(w, http.StatusOK, analysis)
}

func (h *Handler) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := readImagePart(w, r)
	if !ok {
		return
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		utils.RespondError(w, http.StatusBadRequest, "only image files are allowed")
		return
	}

	url, err := h.media.Put(r.Context(), media.ImageKey(filename), contentType, data)
	if err != nil {
		log.Printf("[image] upload failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to upload image")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"imageUrl": url})
}

// readImagePart extracts the multipart "image" field, enforcing the size
// cap. It writes the error response itself when parsing fails.
func readImagePart(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageBytes)

	file, header, err := r.FormFile("image")
	if err != nil {
		if isBodyTooLarge(err) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "image exceeds the 10MB limit")
		} else {
			utils.RespondError(w, http.StatusBadRequest, "no image file provided")
		}
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		if isBodyTooLarge(err) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "image exceeds the 10MB limit")
		} else {
			utils.RespondError(w, http.StatusBadRequest, "failed to read image file")
		}
		return nil, "", false
	}

	return data, header.Filename, true
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
