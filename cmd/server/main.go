// Incubator - business idea validation server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ashureev/incubator/internal/advisor"
	"github.com/ashureev/incubator/internal/api"
	"github.com/ashureev/incubator/internal/config"
	"github.com/ashureev/incubator/internal/conversation"
	"github.com/ashureev/incubator/internal/llm"
	"github.com/ashureev/incubator/internal/metrics"
	"github.com/ashureev/incubator/internal/questions"
	"github.com/ashureev/incubator/internal/store"
	"github.com/ashureev/incubator/internal/transcript"
)

const evictionInterval = time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	bank, err := questions.LoadBank(cfg.QuestionBankPath)
	if err != nil {
		slog.Error("Failed to load question bank", "error", err)
		os.Exit(1)
	}

	refs, err := llm.ParsePriority(cfg.LLM.ModelPriority)
	if err != nil {
		slog.Error("Invalid MODEL_PRIORITY", "error", err)
		os.Exit(1)
	}
	backends, err := llm.BuildBackends(ctx, refs, llm.Credentials{
		GeminiAPIKey:    cfg.LLM.GeminiAPIKey,
		OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.LLM.OpenAIBaseURL,
		AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
	})
	if err != nil {
		slog.Error("Failed to initialize model backends", "error", err)
		os.Exit(1)
	}
	if len(backends) == 0 {
		slog.Warn("No model backend configured, answering with static fallbacks only")
	} else {
		names := make([]string, len(backends))
		for i, b := range backends {
			names[i] = b.Name()
		}
		slog.Info("Model backends ready", "priority", names)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	transcripts, err := transcript.New(transcript.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Each conversation gets its own fallback client over the shared backends.
	newGenerator := func() llm.Generator {
		return llm.NewFallbackClient(backends,
			llm.WithMaxRetries(cfg.LLM.MaxRetries),
			llm.WithObserver(recorder),
			llm.WithLogger(logger),
		)
	}

	adv := advisor.New(bank, cfg.SchedulingURL, logger)
	registry := conversation.NewRegistry(conversation.Deps{
		Store:      repo,
		Advisor:    adv,
		Metrics:    recorder,
		Transcript: transcripts,
		Logger:     logger,
	}, conversation.Config{
		MaxMessages:      cfg.Chat.MaxMessages,
		CloseWindow:      cfg.Chat.CloseWindow,
		MinQuestions:     cfg.Chat.ClarifyingQuestion,
		OpeningQuestions: cfg.Chat.ClarifyingQuestion,
		MinContextChars:  cfg.Chat.MinContextChars,
	})
	limiter := api.NewRateLimiter(cfg.RateLimitPerMinute)

	// Initialize handlers.
	handler := api.NewHandler(api.Options{
		Store:             repo,
		Registry:          registry,
		Advisor:           adv,
		NewGenerator:      newGenerator,
		Metrics:           recorder,
		Limiter:           limiter,
		MaxProjectsPerDay: cfg.MaxProjectsPerDay,
		RequestTimeout:    cfg.LLM.RequestTimeout,
	})

	origins := []string{"*"}
	if cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}
	router := api.NewRouter(handler, api.NewHealthHandler(repo), repo, api.RouterConfig{
		AllowedOrigins: origins,
		IsDevelopment:  cfg.IsDevelopment(),
		Metrics:        recorder.Handler(),
	})

	// A reply may wait on the model for the whole request timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.RequestTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	evictorDone := registry.StartEvictor(ctx, evictionInterval, cfg.SessionIdleTTL)
	limiterDone := limiter.StartEviction(ctx, 2*time.Minute)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	<-evictorDone
	<-limiterDone

	slog.Info("Server stopped successfully")
}
