package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	conversationHandler "github.com/pictalk/pictalk/backend/internal/handler/conversation"
	imageHandler "github.com/pictalk/pictalk/backend/internal/handler/image"
	middlewarePkg "github.com/pictalk/pictalk/backend/internal/middleware"
	conversationService "github.com/pictalk/pictalk/backend/internal/service/conversation"
	"github.com/pictalk/pictalk/backend/internal/service/media"
	"github.com/pictalk/pictalk/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. mediaDir, when non-empty,
// is served under /media for the local storage backend.
func NewRouter(manager *conversationService.Manager, mediaStore media.Store, mediaDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	imgHandler := imageHandler.New(manager, mediaStore)
	convHandler := conversationHandler.New(manager)

	r.Route("/api", func(api chi.Router) {
		imgHandler.RegisterRoutes(api)
		convHandler.RegisterRoutes(api)

		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	if mediaDir != "" {
		fs := http.StripPrefix("/media/", http.FileServer(http.Dir(mediaDir)))
		r.Get("/media/*", fs.ServeHTTP)
	}

	return r
}
