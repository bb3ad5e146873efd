// Package main runs the development backend: the session service and the
// assistant WebSocket stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/config"
	"github.com/capitalize-ai/campus-assistant/internal/handler"
	"github.com/capitalize-ai/campus-assistant/internal/llm"
	"github.com/capitalize-ai/campus-assistant/internal/middleware"
	natsclient "github.com/capitalize-ai/campus-assistant/internal/nats"
	"github.com/capitalize-ai/campus-assistant/internal/service"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
	"github.com/capitalize-ai/campus-assistant/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting assistant dev backend")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "campus-assistant-dev", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	var readiness []handler.ReadinessCheck
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.ConfigFrom(cfg, "assistant-dev"), log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		if err := natsclient.NewStreamManager(natsClient).EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure outbox stream", zap.Error(err))
		}
		readiness = append(readiness, handler.ReadinessCheck{Name: "nats", Check: natsClient.Healthy})
	}

	responder := newResponder(cfg, log)
	log.Info("assistant responder selected", zap.String("responder", responder.Name()))

	if token, err := middleware.IssueToken(cfg.JWTSecret, "dev-user", cfg.JWTExpiration); err == nil {
		log.Info("development token issued", zap.String("subject", "dev-user"), zap.String("token", token))
	}

	router := handler.NewRouter(handler.RouterConfig{
		Sessions:          service.NewSessionService(log.Named("sessions")),
		Responder:         responder,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Readiness:         readiness,
		Logger:            log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// newResponder prefers a configured LLM and falls back to scripted answers.
func newResponder(cfg *config.Config, log *logger.Logger) service.Responder {
	var (
		client llm.Client
		err    error
	)
	switch {
	case cfg.AnthropicAPIKey != "":
		client, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		client, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	}
	if err != nil {
		log.Warn("failed to create LLM client, using canned answers", zap.Error(err))
	}
	if client == nil {
		return service.NewCannedResponder(service.DefaultCannedAnswers, cfg.ChunkDelay)
	}
	return service.NewLLMResponder(client, cfg.DefaultModel, log.Named("llm"))
}
