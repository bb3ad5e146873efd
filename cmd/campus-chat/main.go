// Package main is the terminal chat client for the campus assistant.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/api"
	"github.com/capitalize-ai/campus-assistant/internal/citation"
	"github.com/capitalize-ai/campus-assistant/internal/config"
	"github.com/capitalize-ai/campus-assistant/internal/engine"
	"github.com/capitalize-ai/campus-assistant/internal/localstore"
	"github.com/capitalize-ai/campus-assistant/internal/middleware"
	natsclient "github.com/capitalize-ai/campus-assistant/internal/nats"
	"github.com/capitalize-ai/campus-assistant/internal/outbox"
	"github.com/capitalize-ai/campus-assistant/internal/session"
	"github.com/capitalize-ai/campus-assistant/internal/tui"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
	"github.com/capitalize-ai/campus-assistant/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "campus-chat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logPath := cfg.LogFile
	if logPath == "" {
		logPath = filepath.Join(os.TempDir(), "campus-chat.log")
	}
	log, err := logger.New(cfg.LogLevel, logPath)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "campus-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	store, err := localstore.OpenSQLite(ctx, cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("failed to open local state: %w", err)
	}
	defer store.Close()

	token, err := apiToken(cfg)
	if err != nil {
		return err
	}

	apiClient := api.NewClient(api.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   token,
		Timeout: cfg.APITimeout,
	}, log)

	ob, closeOutbox, err := newOutbox(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeOutbox()

	outboxCtx, stopOutbox := context.WithCancel(ctx)
	defer stopOutbox()
	go func() {
		if err := ob.Run(outboxCtx, outbox.WriterDeliverer(apiClient, api.IsPermanent)); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("outbox stopped", zap.Error(err))
		}
	}()

	sessions := session.NewManager(apiClient, store, ob, log)
	eng := engine.New(engine.Config{
		TokenDelay:   cfg.RevealTokenDelay,
		SettleMargin: cfg.RevealSettleMargin,
	}, engine.Deps{
		Sessions:  sessions,
		Dial:      engine.WebSocketDialer(cfg.AssistantWSURL, token, log),
		Persister: apiClient,
		Mail:      mailLog{log: log.Named("mail")},
		Outbox:    ob,
		Logger:    log,
	})

	observer, updates := tui.Bridge(256)
	eng.OnUpdate(observer)

	startCtx, cancel := context.WithTimeout(ctx, cfg.APITimeout)
	err = eng.Start(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer eng.Stop()

	ui := tui.New(ctx, tui.Options{
		Engine:          eng,
		Sessions:        sessions,
		Updates:         updates,
		ScrollThreshold: cfg.ScrollBottomThreshold,
	})
	if _, err := tea.NewProgram(ui, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// apiToken returns the configured token, or mints a development token when
// only the shared JWT secret is available.
func apiToken(cfg *config.Config) (string, error) {
	if cfg.APIToken != "" {
		return cfg.APIToken, nil
	}
	subject := os.Getenv("USER")
	if subject == "" {
		subject = "dev-user"
	}
	token, err := middleware.IssueToken(cfg.JWTSecret, subject, cfg.JWTExpiration)
	if err != nil {
		return "", fmt.Errorf("failed to issue development token: %w", err)
	}
	return token, nil
}

type runnableOutbox interface {
	outbox.Outbox
	outbox.Settler
	Run(ctx context.Context, d outbox.Deliverer) error
}

// newOutbox uses JetStream when NATS is configured and an in-process queue
// otherwise.
func newOutbox(ctx context.Context, cfg *config.Config, log *logger.Logger) (runnableOutbox, func(), error) {
	if cfg.NATSURL == "" {
		mc := outbox.DefaultMemoryConfig()
		mc.MaxAttempts = cfg.OutboxMaxAttempts
		return outbox.NewMemory(mc, log), func() {}, nil
	}

	nc, err := natsclient.Connect(ctx, natsclient.ConfigFrom(cfg, "campus-chat"), log)
	if err != nil {
		return nil, nil, fmt.Errorf("outbox: %w", err)
	}

	streams := natsclient.NewStreamManager(nc)
	if err := streams.EnsureStream(ctx); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to ensure outbox stream: %w", err)
	}
	return outbox.NewJetStream(streams, cfg.OutboxMaxAttempts, log), nc.Close, nil
}

func serveMetrics(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
	}
}

// mailLog records the mailbox lookup a Mail citation asks for. The terminal
// has no mail client to open.
type mailLog struct {
	log *logger.Logger
}

func (m mailLog) SearchMail(_ context.Context, q citation.MailQuery) error {
	m.log.Info("mail search", zap.String("query", q.String()))
	return nil
}
