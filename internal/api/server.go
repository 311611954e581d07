package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/ledger"
	"github.com/mattjoyce/courier/internal/notify"
	"github.com/mattjoyce/courier/internal/templates"
)

// Notifier is the dispatch engine surface the API exposes.
type Notifier interface {
	SendNotification(ctx context.Context, req notify.Request) notify.Result
	SendBulkNotifications(ctx context.Context, reqs []notify.Request) []notify.Result
	AddTemplate(t templates.Template)
	Templates() []templates.Template
	UpdateChannel(ch channel.Channel)
	AddChannel(ch channel.Channel) error
	RemoveChannel(id string) bool
	Channels() []channel.Channel
	ValidateChannel(ch channel.Channel) channel.ValidationResult
	TestChannel(ctx context.Context, channelID string) notify.TestResult
	DeliveryStatus(ctx context.Context, messageID string) (ledger.Status, error)
	Statistics(ctx context.Context) (ledger.Statistics, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token (scope "*").
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxBulk caps the number of requests in one bulk call.
	MaxBulk int
	// CORSOrigins enables cross-origin requests from these origins ("*" for
	// any). Empty disables CORS.
	CORSOrigins []string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	notifier  Notifier
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

func New(config Config, notifier Notifier, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxBulk <= 0 {
		config.MaxBulk = 1000
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		notifier:  notifier,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// Bulk sends wait on every transport.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler builds the router. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	if len(s.config.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
			MaxAge:         300,
		}).Handler)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeNotifyRW)).Post("/notifications", s.handleSend)
		r.With(s.requireScopes(auth.ScopeNotifyRW)).Post("/notifications/bulk", s.handleSendBulk)
		r.With(s.requireScopes(auth.ScopeNotifyRO)).Get("/notifications/{messageID}", s.handleDeliveryStatus)
		r.With(s.requireScopes(auth.ScopeNotifyRO)).Get("/statistics", s.handleStatistics)

		r.With(s.requireScopes(auth.ScopeTemplatesRO)).Get("/templates", s.handleListTemplates)
		r.With(s.requireScopes(auth.ScopeTemplatesRW)).Post("/templates", s.handleAddTemplate)

		r.With(s.requireScopes(auth.ScopeChannelsRO)).Get("/channels", s.handleListChannels)
		r.With(s.requireScopes(auth.ScopeChannelsRW)).Post("/channels", s.handleAddChannel)
		r.With(s.requireScopes(auth.ScopeChannelsRO)).Post("/channels/validate", s.handleValidateChannel)
		r.With(s.requireScopes(auth.ScopeChannelsRW)).Put("/channels/{channelID}", s.handleUpdateChannel)
		r.With(s.requireScopes(auth.ScopeChannelsRW)).Delete("/channels/{channelID}", s.handleRemoveChannel)
		r.With(s.requireScopes(auth.ScopeChannelsRW)).Post("/channels/{channelID}/test", s.handleTestChannel)

		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		p, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !auth.HasAnyScope(p, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
