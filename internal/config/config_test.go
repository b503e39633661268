package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DB_PATH", "MODEL_PRIORITY", "LLM_MAX_RETRIES", "LLM_REQUEST_TIMEOUT",
		"MAX_CHAT_MESSAGES", "CLOSE_WINDOW", "AI_AMBIGUITY_CLARIFICATION_QUESTIONS",
		"MIN_CONTEXT_CHARS", "MAX_PROJECTS_PER_DAY", "RATE_LIMIT_PER_MINUTE",
		"SESSION_IDLE_TTL", "SCHEDULING_URL", "CONVERSATION_LOG_QUEUE_SIZE",
	} {
		t.Setenv(key, "")
	}
	// t.Setenv cannot unset; empty values must still fall back where it matters.
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "./data/incubator.db")
	t.Setenv("LLM_REQUEST_TIMEOUT", "60s")
	t.Setenv("SESSION_IDLE_TTL", "60m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Chat.MaxMessages != 10 || cfg.Chat.CloseWindow != 2 || cfg.Chat.ClarifyingQuestion != 3 {
		t.Fatalf("chat defaults = %+v", cfg.Chat)
	}
	if cfg.Chat.MinContextChars != 200 || cfg.MaxProjectsPerDay != 2 || cfg.RateLimitPerMinute != 20 {
		t.Fatalf("limit defaults = %+v", cfg)
	}
	if cfg.LLM.MaxRetries != 3 || cfg.LLM.RequestTimeout != 60*time.Second {
		t.Fatalf("llm defaults = %+v", cfg.LLM)
	}
	if cfg.SessionIdleTTL != time.Hour {
		t.Fatalf("SessionIdleTTL = %v", cfg.SessionIdleTTL)
	}
	if cfg.ConversationLog.QueueSize != 1000 {
		t.Fatalf("QueueSize = %d", cfg.ConversationLog.QueueSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_CHAT_MESSAGES", "6")
	t.Setenv("CLOSE_WINDOW", "1")
	t.Setenv("LLM_REQUEST_TIMEOUT", "15")
	t.Setenv("SESSION_IDLE_TTL", "5m")
	t.Setenv("MODEL_PRIORITY", "openai:gpt-4o-mini")
	t.Setenv("SCHEDULING_URL", "https://cal.example.com/incubator")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Chat.MaxMessages != 6 || cfg.Chat.CloseWindow != 1 {
		t.Fatalf("chat = %+v", cfg.Chat)
	}
	if cfg.LLM.RequestTimeout != 15*time.Second {
		t.Fatalf("RequestTimeout = %v, want bare seconds to parse", cfg.LLM.RequestTimeout)
	}
	if cfg.SessionIdleTTL != 5*time.Minute {
		t.Fatalf("SessionIdleTTL = %v", cfg.SessionIdleTTL)
	}
	if cfg.LLM.ModelPriority != "openai:gpt-4o-mini" {
		t.Fatalf("ModelPriority = %q", cfg.LLM.ModelPriority)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:               "8080",
			DBPath:             "db",
			LLM:                LLMConfig{MaxRetries: 3, RequestTimeout: time.Minute},
			Chat:               ChatConfig{MaxMessages: 10, CloseWindow: 2, ClarifyingQuestion: 3, MinContextChars: 200},
			MaxProjectsPerDay:  2,
			RateLimitPerMinute: 20,
			SessionIdleTTL:     time.Hour,
			ConversationLog:    ConversationLogConfig{Dir: "logs", GlobalPath: "logs/all.ndjson", QueueSize: 10},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
		{"zero max messages", func(c *Config) { c.Chat.MaxMessages = 0 }, "MAX_CHAT_MESSAGES"},
		{"close window too wide", func(c *Config) { c.Chat.CloseWindow = 10 }, "CLOSE_WINDOW"},
		{"zero timeout", func(c *Config) { c.LLM.RequestTimeout = 0 }, "LLM_REQUEST_TIMEOUT"},
		{"zero project limit", func(c *Config) { c.MaxProjectsPerDay = 0 }, "MAX_PROJECTS_PER_DAY"},
		{"relative scheduling url", func(c *Config) { c.SchedulingURL = "/book" }, "SCHEDULING_URL"},
		{"empty log dir", func(c *Config) { c.ConversationLog.Dir = "" }, "CONVERSATION_LOG_DIR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "garbage")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("getEnvDuration(garbage) = %v, want fallback", got)
	}
	if got := getEnvDuration("TEST_DURATION_MISSING", 2*time.Second); got != 2*time.Second {
		t.Fatalf("getEnvDuration(missing) = %v", got)
	}
}
