package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/cheongchun/ai-core/internal/provider/openai"
)

// Supported LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Config aggregates every configuration section of the service.
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Backend BackendConfig
	Session SessionConfig
	Auth    AuthConfig
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

	backend, err := loadBackendConfig()
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
		Backend: backend,
		Session: session,
		Auth:    loadAuthConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string

	// AllowedOrigins is the CORS origin list; "*" allows any origin
	// without credentials.
	AllowedOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	origins := parseListEnv("CORS_ALLOWED_ORIGINS")
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// ":8000" 또는 "127.0.0.1:8000" 형태를 그대로 허용한다.
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AIConfig describes the chat model and generation defaults.
type AIConfig struct {
	Provider string

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string

	MaxTokens         int
	Temperature       float32
	AnalysisModel     string
	AnalysisMaxTokens int
}

// Enabled reports whether credentials for the selected provider are present.
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	default:
		return c.OpenAIKey != ""
	}
}

// NewChatModel builds the chat model for the configured provider.
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("credentials for llm provider %q are missing", c.Provider)
	}

	maxTokens := c.MaxTokens
	temperature := c.Temperature

	if c.Provider == ProviderArk {
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.ArkBaseURL,
			Region:      c.ArkRegion,
			APIKey:      c.ArkAPIKey,
			AccessKey:   c.ArkAccessKey,
			SecretKey:   c.ArkSecretKey,
			Model:       c.ArkModel,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
	}

	return openai.NewChatModel(openai.Config{
		APIKey:      c.OpenAIKey,
		BaseURL:     c.OpenAIBaseURL,
		Model:       c.OpenAIModel,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	maxTokens := 300
	if override, err := parseOptionalIntEnv("LLM_MAX_TOKENS"); err != nil {
		return AIConfig{}, err
	} else if override != nil && *override > 0 {
		maxTokens = *override
	}

	temperature := float32(0.3)
	if override, err := parseOptionalFloat32Env("LLM_TEMPERATURE"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		temperature = *override
	}

	analysisMaxTokens := 800
	if override, err := parseOptionalIntEnv("ANALYSIS_MAX_TOKENS"); err != nil {
		return AIConfig{}, err
	} else if override != nil && *override > 0 {
		analysisMaxTokens = *override
	}

	return AIConfig{
		Provider:          provider,
		OpenAIKey:         strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:       getEnvOrDefault("OPENAI_MODEL", openai.DefaultModel),
		OpenAIBaseURL:     strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		ArkAPIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		MaxTokens:         maxTokens,
		Temperature:       temperature,
		AnalysisModel:     strings.TrimSpace(os.Getenv("ANALYSIS_MODEL")),
		AnalysisMaxTokens: analysisMaxTokens,
	}, nil
}

// BackendConfig points at the profile backend.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Enabled reports whether a backend URL is configured.
func (c BackendConfig) Enabled() bool {
	return c.BaseURL != ""
}

func loadBackendConfig() (BackendConfig, error) {
	timeout, err := parseDurationEnv("BACKEND_TIMEOUT", 30*time.Second)
	if err != nil {
		return BackendConfig{}, err
	}

	return BackendConfig{
		BaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("SPRING_BACKEND_URL")), "/"),
		Timeout: timeout,
	}, nil
}

// SessionConfig bounds duplex sessions and the REST transcript store.
type SessionConfig struct {
	MaxSessions         int
	HistoryLimit        int
	MessagesPerSecond   float64
	MessageBurst        int
	AnalyzeOnDisconnect bool

	TranscriptMaxSessions int
	TranscriptIdleTTL     time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	cfg := SessionConfig{
		MaxSessions:       500,
		HistoryLimit:      200,
		MessagesPerSecond: 2,
		MessageBurst:      5,

		TranscriptMaxSessions: 1000,
	}

	if v, err := parseOptionalIntEnv("WS_MAX_SESSIONS"); err != nil {
		return SessionConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.MaxSessions = *v
	}

	if v, err := parseOptionalIntEnv("SESSION_HISTORY_LIMIT"); err != nil {
		return SessionConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.HistoryLimit = *v
	}

	if v, err := parseOptionalFloatEnv("WS_MESSAGES_PER_SECOND"); err != nil {
		return SessionConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.MessagesPerSecond = *v
	}

	if v, err := parseOptionalIntEnv("WS_MESSAGE_BURST"); err != nil {
		return SessionConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.MessageBurst = *v
	}

	if v, err := parseOptionalIntEnv("CHAT_MAX_SESSIONS"); err != nil {
		return SessionConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.TranscriptMaxSessions = *v
	}

	ttl, err := parseDurationEnv("CHAT_SESSION_TTL", 30*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	cfg.TranscriptIdleTTL = ttl

	analyze, err := parseBoolEnv("ANALYZE_ON_DISCONNECT", true)
	if err != nil {
		return SessionConfig{}, err
	}
	cfg.AnalyzeOnDisconnect = analyze

	return cfg, nil
}

// AuthConfig holds the optional shared secret for local token checks.
type AuthConfig struct {
	JWTSecret string
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{JWTSecret: strings.TrimSpace(os.Getenv("JWT_SECRET"))}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string) []string {
	var values []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// 숫자만 주어지면 초 단위로 해석한다.
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
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
