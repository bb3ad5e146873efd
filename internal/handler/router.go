package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/campus-assistant/internal/middleware"
	"github.com/capitalize-ai/campus-assistant/internal/service"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
)

// RouterConfig wires the development backend routes.
type RouterConfig struct {
	Sessions          *service.SessionService
	Responder         service.Responder
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Readiness         []ReadinessCheck
	Logger            *logger.Logger
}

// NewRouter builds the chi router for the development backend.
func NewRouter(cfg RouterConfig) http.Handler {
	log := logger.OrNop(cfg.Logger)

	healthHandler := NewHealthHandler(cfg.Responder.Name(), cfg.Readiness...)
	sessionHandler := NewSessionHandler(cfg.Sessions, log)
	messageHandler := NewMessageHandler(cfg.Sessions, log)
	metadataHandler := NewMetadataHandler(cfg.Sessions)
	streamHandler := NewStreamHandler(cfg.Sessions, cfg.Responder, log.Named("stream"))

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireScope(middleware.ScopeAssistant))
		r.Get("/ws", streamHandler.Stream)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireScope(middleware.ScopeAssistant))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)
			r.Get("/", sessionHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Add)
				r.Get("/metadata", metadataHandler.Get)
				r.Put("/metadata", metadataHandler.Put)
			})
		})
	})

	return r
}
