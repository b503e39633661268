// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	LLM  LLMConfig
	Chat ChatConfig

	MaxProjectsPerDay  int
	RateLimitPerMinute int
	SessionIdleTTL     time.Duration
	QuestionBankPath   string
	SchedulingURL      string

	ConversationLog ConversationLogConfig
}

// LLMConfig selects the model backends and how they are called.
type LLMConfig struct {
	GeminiAPIKey    string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	// ModelPriority is the raw MODEL_PRIORITY list; empty means the default.
	ModelPriority  string
	MaxRetries     int
	RequestTimeout time.Duration
}

// ChatConfig holds the per-session limits.
type ChatConfig struct {
	MaxMessages        int
	CloseWindow        int
	ClarifyingQuestion int
	MinContextChars    int
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/incubator.db"),
		LLM: LLMConfig{
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			ModelPriority:   getEnv("MODEL_PRIORITY", ""),
			MaxRetries:      getEnvInt("LLM_MAX_RETRIES", 3),
			RequestTimeout:  getEnvDuration("LLM_REQUEST_TIMEOUT", 60*time.Second),
		},
		Chat: ChatConfig{
			MaxMessages:        getEnvInt("MAX_CHAT_MESSAGES", 10),
			CloseWindow:        getEnvInt("CLOSE_WINDOW", 2),
			ClarifyingQuestion: getEnvInt("AI_AMBIGUITY_CLARIFICATION_QUESTIONS", 3),
			MinContextChars:    getEnvInt("MIN_CONTEXT_CHARS", 200),
		},
		MaxProjectsPerDay:  getEnvInt("MAX_PROJECTS_PER_DAY", 2),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
		SessionIdleTTL:     getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),
		QuestionBankPath:   getEnv("QUESTION_BANK_PATH", ""),
		SchedulingURL:      getEnv("SCHEDULING_URL", ""),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if c.LLM.RequestTimeout <= 0 {
		return fmt.Errorf("LLM_REQUEST_TIMEOUT must be > 0")
	}
	if c.Chat.MaxMessages <= 0 {
		return fmt.Errorf("MAX_CHAT_MESSAGES must be > 0")
	}
	if c.Chat.CloseWindow < 0 || c.Chat.CloseWindow >= c.Chat.MaxMessages {
		return fmt.Errorf("CLOSE_WINDOW must be between 0 and MAX_CHAT_MESSAGES-1")
	}
	if c.Chat.ClarifyingQuestion <= 0 {
		return fmt.Errorf("AI_AMBIGUITY_CLARIFICATION_QUESTIONS must be > 0")
	}
	if c.Chat.MinContextChars < 0 {
		return fmt.Errorf("MIN_CONTEXT_CHARS must be >= 0")
	}
	if c.MaxProjectsPerDay <= 0 {
		return fmt.Errorf("MAX_PROJECTS_PER_DAY must be > 0")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.SchedulingURL != "" {
		if u, err := url.Parse(c.SchedulingURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("SCHEDULING_URL must be an absolute URL")
		}
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
