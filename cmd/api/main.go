package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pictalk/pictalk/backend/internal/config"
	"github.com/pictalk/pictalk/backend/internal/handler"
	conversationService "github.com/pictalk/pictalk/backend/internal/service/conversation"
	"github.com/pictalk/pictalk/backend/internal/service/dialogue"
	"github.com/pictalk/pictalk/backend/internal/service/media"
	"github.com/pictalk/pictalk/backend/internal/service/speech"
	"github.com/pictalk/pictalk/backend/internal/service/vision"
	"github.com/pictalk/pictalk/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if !cfg.AI.Enabled() {
		log.Fatal("AI credentials missing: set AI_PROVIDER, AI_API_KEY and AI_MODEL")
	}

	aiTimeout := time.Duration(cfg.AI.TimeoutSec) * time.Second

	visionModel, err := cfg.AI.NewChatModel(ctx, cfg.AI.VisionModel)
	if err != nil {
		log.Fatalf("failed to initialize vision model: %v", err)
	}
	visionSvc := vision.NewService(visionModel, aiTimeout)

	chatModel, err := cfg.AI.NewChatModel(ctx, cfg.AI.Model)
	if err != nil {
		log.Fatalf("failed to initialize chat model: %v", err)
	}
	dialogueSvc, err := dialogue.NewService(ctx, chatModel, aiTimeout)
	if err != nil {
		log.Fatalf("failed to initialize dialogue service: %v", err)
	}

	sessionStore, err := newStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to initialize session store: %v", err)
	}

	mediaStore, mediaDir, err := newMediaStore(ctx, cfg.Media)
	if err != nil {
		log.Fatalf("failed to initialize media store: %v", err)
	}

	var speechSvc *speech.Service
	if cfg.Speech.Enabled {
		speechSvc, err = speech.NewService(cfg.Speech)
		if err != nil {
			log.Printf("warning: failed to initialize speech service: %v", err)
			log.Println("continuing without voice replies")
			speechSvc = nil
		} else {
			log.Printf("speech service initialized (provider=%s)", cfg.Speech.Provider)
		}
	} else {
		log.Println("speech credentials not configured, replies will be text-only")
	}

	budget := time.Duration(cfg.Session.BudgetSeconds) * time.Second
	manager := conversationService.NewManager(sessionStore, visionSvc, dialogueSvc, synthesizer(speechSvc), mediaStore, budget)

	router := handler.NewRouter(manager, mediaStore, mediaDir)

	startServer(ctx, cfg.Server, router)
}

// synthesizer keeps the nil check in one place: a typed nil *speech.Service
// inside the interface would dodge the manager's nil guard.
func synthesizer(svc *speech.Service) conversationService.Synthesizer {
	if svc == nil {
		return nil
	}
	return svc
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		log.Println("using in-memory session store")
		return store.NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		log.Printf("using sqlite session store at %s", cfg.DSN)
		return store.Open("sqlite3", cfg.DSN)
	case "mysql":
		log.Println("using mysql session store")
		return store.Open("mysql", cfg.DSN)
	default:
		return nil, errors.New("unsupported STORE_DRIVER: " + cfg.Driver)
	}
}

func newMediaStore(ctx context.Context, cfg config.MediaConfig) (media.Store, string, error) {
	switch cfg.Backend {
	case "", "local":
		localStore, err := media.NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
		if err != nil {
			return nil, "", err
		}
		log.Printf("serving media from %s", localStore.Dir())
		return localStore, localStore.Dir(), nil
	case "s3":
		s3Store, err := media.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3BaseURL)
		if err != nil {
			return nil, "", err
		}
		log.Printf("storing media in s3 bucket %s", cfg.S3Bucket)
		return s3Store, "", nil
	default:
		return nil, "", errors.New("unsupported MEDIA_BACKEND: " + cfg.Backend)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("PicTalk backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
