package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// Config aggregates every configuration concern of the service.
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Speech  SpeechConfig
	Store   StoreConfig
	Media   MediaConfig
	Session SessionConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Speech:  speech,
		Store:   loadStoreConfig(),
		Media:   loadMediaConfig(),
		Session: session,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the chat and vision model providers.
type AIConfig struct {
	Provider    string // ark, openai, gemini, claude
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	VisionModel string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
	TimeoutSec  int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == "ark" {
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
	return c.APIKey != ""
}

// NewChatModel builds a chat model for the given model name. The vision
// analyzer and the dialogue generator may use different models from the
// same provider.
func (c AIConfig) NewChatModel(ctx context.Context, modelName string) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("AI credentials or model configuration missing")
	}
	if modelName == "" {
		modelName = c.Model
	}

	switch c.Provider {
	case "ark":
		var temperature *float32
		if c.Temperature != nil {
			val := float32(*c.Temperature)
			temperature = &val
		}
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       modelName,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
		})
	case "openai":
		cfg := &openai.ChatModelConfig{
			BaseURL: c.BaseURL,
			Model:   modelName,
			APIKey:  c.APIKey,
		}
		if c.Temperature != nil {
			val := float32(*c.Temperature)
			cfg.Temperature = &val
		}
		if c.MaxTokens != nil {
			cfg.MaxTokens = c.MaxTokens
		}
		return openai.NewChatModel(ctx, cfg)
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: c.APIKey})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		maxTokens := 1024
		if c.MaxTokens != nil {
			maxTokens = *c.MaxTokens
		}
		var baseURLPtr *string
		if c.BaseURL != "" {
			baseURLPtr = &c.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    c.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", c.Provider)
	}
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseOptionalIntEnv("AI_TIMEOUT")
	if err != nil {
		return AIConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	modelName := getEnvOrDefault("AI_MODEL", "")

	return AIConfig{
		Provider:    strings.ToLower(getEnvOrDefault("AI_PROVIDER", "ark")),
		APIKey:      strings.TrimSpace(os.Getenv("AI_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("AI_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("AI_SECRET_KEY")),
		Model:       modelName,
		VisionModel: getEnvOrDefault("AI_VISION_MODEL", modelName),
		BaseURL:     strings.TrimSpace(os.Getenv("AI_BASE_URL")),
		Region:      getEnvOrDefault("AI_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
		TimeoutSec:  timeoutSeconds,
	}, nil
}

// SpeechConfig describes the text-to-speech backend.
type SpeechConfig struct {
	Provider    string // openai or volcengine
	APIKey      string
	BaseURL     string
	AppID       string
	AccessToken string
	Model       string
	Voice       string
	Speed       float32
	Timeout     int
	Enabled     bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(0.9)
	if speed != nil {
		ttsSpeed = *speed
	}

	provider := strings.ToLower(getEnvOrDefault("SPEECH_PROVIDER", "openai"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if apiKey == "" {
		// Fall back to the chat model credentials when they share a vendor.
		apiKey = strings.TrimSpace(os.Getenv("AI_API_KEY"))
	}
	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))

	enabled := false
	switch provider {
	case "openai":
		enabled = apiKey != ""
	case "volcengine":
		enabled = appID != "" && accessToken != ""
	}

	return SpeechConfig{
		Provider:    provider,
		APIKey:      apiKey,
		BaseURL:     strings.TrimSpace(os.Getenv("SPEECH_BASE_URL")),
		AppID:       appID,
		AccessToken: accessToken,
		Model:       getEnvOrDefault("SPEECH_TTS_MODEL", "tts-1"),
		Voice:       getEnvOrDefault("SPEECH_TTS_VOICE", "nova"),
		Speed:       ttsSpeed,
		Timeout:     timeoutSeconds,
		Enabled:     enabled,
	}, nil
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Driver string // memory, sqlite, mysql
	DSN    string
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Driver: strings.ToLower(getEnvOrDefault("STORE_DRIVER", "memory")),
		DSN:    strings.TrimSpace(os.Getenv("STORE_DSN")),
	}
}

// MediaConfig selects the media blob store backend.
type MediaConfig struct {
	Backend       string // local or s3
	LocalDir      string
	PublicBaseURL string
	S3Bucket      string
	S3Region      string
	S3BaseURL     string
}

func loadMediaConfig() MediaConfig {
	return MediaConfig{
		Backend:       strings.ToLower(getEnvOrDefault("MEDIA_BACKEND", "local")),
		LocalDir:      getEnvOrDefault("MEDIA_LOCAL_DIR", "./media"),
		PublicBaseURL: getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"),
		S3Bucket:      strings.TrimSpace(os.Getenv("MEDIA_S3_BUCKET")),
		S3Region:      strings.TrimSpace(os.Getenv("MEDIA_S3_REGION")),
		S3BaseURL:     strings.TrimSpace(os.Getenv("MEDIA_S3_BASE_URL")),
	}
}

// SessionConfig bounds the conversation time budget.
type SessionConfig struct {
	BudgetSeconds int
}

func loadSessionConfig() (SessionConfig, error) {
	budget := 60
	if override, err := parseOptionalIntEnv("SESSION_BUDGET_SECONDS"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return SessionConfig{}, fmt.Errorf("SESSION_BUDGET_SECONDS must be positive")
		}
		budget = *override
	}
	return SessionConfig{BudgetSeconds: budget}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
