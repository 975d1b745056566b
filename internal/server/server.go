// Package server is the composition root: it wires services, handlers and
// middleware into one chi router and runs the HTTP server.
//
// Route table:
//
//	GET|POST /api/token                 upload token (identity required)
//	GET|POST /api/user                  profile record (identity required)
//	POST     /build/{build}/upload      multipart upload (upload token)
//	POST     /build/{build}/upload-finish
//	POST     /github/hooks              GitHub App webhook deliveries
//	POST     /github/*                  501, unroutable GitHub callback
//	GET      /github/setup              installation hook, then renderer
//	GET      /healthz, /metrics
//	*                                   everything else goes to the renderer
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sakif/sercy/internal/auth"
	"github.com/sakif/sercy/internal/handler"
	"github.com/sakif/sercy/internal/metrics"
	"github.com/sakif/sercy/internal/middleware"
	sqliteRepo "github.com/sakif/sercy/internal/repository/sqlite"
	"github.com/sakif/sercy/internal/service"
	"github.com/sakif/sercy/internal/storage"
	"github.com/sakif/sercy/internal/webhook"
)

// Config holds the tunables the router needs. main fills it from config.Config.
type Config struct {
	Port              int
	ProviderTimeout   time.Duration
	StorageTimeout    time.Duration
	UploadMaxBytes    int64
	UploadMemory      int64
	UploadConcurrency int
	Webhook           handler.WebhookConfig
	WebhookRateLimit  middleware.RateLimiterConfig
	ShutdownTimeout   time.Duration
}

// EventSink receives webhook deliveries and build-finished notifications.
// *events.StreamPublisher and *events.LogPublisher satisfy it.
type EventSink interface {
	webhook.Processor
	service.BuildNotifier
}

// Deps are the collaborators main constructs. The server owns them after
// New returns and closes DB and Events on shutdown.
type Deps struct {
	DB        *sqliteRepo.DB
	Verifier  auth.IdentityVerifier
	Store     storage.ObjectStore
	Events    EventSink
	Renderer  http.Handler
	Exchanger webhook.LoginExchanger // nil skips the OAuth code exchange
	Registry  *prometheus.Registry
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router  *chi.Mux
	config  Config
	deps    Deps
	logger  *slog.Logger
	limiter *middleware.RateLimiter
}

// New validates deps and builds the router.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	switch {
	case deps.DB == nil:
		return nil, errors.New("server: database is required")
	case deps.Verifier == nil:
		return nil, errors.New("server: identity verifier is required")
	case deps.Store == nil:
		return nil, errors.New("server: object store is required")
	case deps.Events == nil:
		return nil, errors.New("server: event sink is required")
	case deps.Renderer == nil:
		return nil, errors.New("server: renderer is required")
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes wires every layer. Middleware runs in the order it is added:
// path normalization, request id, real IP, logging, panic recovery.
func (s *Server) setupRoutes() {
	collector := metrics.NewCollector(s.deps.Registry)

	// === Services ===
	tokenService := service.NewUploadTokenService(s.deps.DB, s.logger, collector)
	userService := service.NewUserService(s.deps.DB, s.logger)
	uploadService := service.NewUploadService(
		tokenService,
		s.deps.DB,
		s.deps.Store,
		s.deps.Events,
		service.UploadConfig{Concurrency: s.config.UploadConcurrency, PutTimeout: s.config.StorageTimeout},
		s.logger,
		collector,
	)

	linker := webhook.NewRepositoryLinker(s.deps.DB, s.deps.Exchanger, s.logger)

	// === Handlers ===
	tokenHandler := handler.NewTokenHandler(tokenService, s.logger)
	userHandler := handler.NewUserHandler(userService, s.logger)
	uploadHandler := handler.NewUploadHandler(uploadService, s.config.UploadMaxBytes, s.config.UploadMemory, s.logger)
	webhookCfg := s.config.Webhook
	webhookCfg.ProviderTimeout = s.config.ProviderTimeout
	webhookHandler := handler.NewWebhookHandler(
		s.deps.Events,
		linker,
		s.deps.Verifier,
		s.deps.Renderer,
		webhookCfg,
		s.logger,
		collector,
	)
	healthHandler := handler.NewHealthHandler(s.healthChecks(), 2*time.Second, s.logger)

	s.limiter = middleware.NewRateLimiter(s.config.WebhookRateLimit, s.logger)

	// === Global Middleware ===
	s.router.Use(middleware.NormalizePath)
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, collector))
	s.router.Use(chimiddleware.Recoverer)

	// Anything the gateway does not own is a page.
	s.router.NotFound(s.deps.Renderer.ServeHTTP)
	s.router.MethodNotAllowed(s.deps.Renderer.ServeHTTP)

	// === API Routes (identity required) ===
	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireIdentity(s.deps.Verifier, s.config.ProviderTimeout, s.logger, collector))
		r.Use(middleware.TagSubject)
		r.NotFound(s.deps.Renderer.ServeHTTP)
		r.MethodNotAllowed(s.deps.Renderer.ServeHTTP)

		r.Get("/token", tokenHandler.HandleFetch)
		r.Post("/token", tokenHandler.HandleIssue)
		r.Get("/user", userHandler.HandleGet)
		r.Post("/user", userHandler.HandleRegister)
	})

	// === Build Routes (upload token in the query) ===
	s.router.Route("/build/{build}", func(r chi.Router) {
		r.Post("/upload", uploadHandler.HandleUpload)
		r.Post("/upload-finish", uploadHandler.HandleFinish)
	})

	// === GitHub Routes ===
	s.router.Route("/github", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.NotFound(s.deps.Renderer.ServeHTTP)
		r.MethodNotAllowed(s.deps.Renderer.ServeHTTP)

		r.Post("/hooks", webhookHandler.HandleHook)
		r.Post("/*", webhookHandler.HandleUnknown)
		r.Get("/setup", webhookHandler.HandleSetup)
	})

	// === Operations ===
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", metrics.Handler(s.deps.Registry))
}

func (s *Server) healthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{"database": s.deps.DB.Ping}
	if p, ok := s.deps.Events.(interface{ Ping(context.Context) error }); ok {
		checks["events"] = p.Ping
	}
	return checks
}

// Close releases everything the server owns. Safe to call once.
func (s *Server) Close() error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	var errs []error
	if c, ok := s.deps.Events.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing event sink: %w", err))
		}
	}
	if err := s.deps.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests and
// closes the database and event sink.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("shutdown cleanup failed", slog.String("error", err.Error()))
		}
	}()

	// Uploads stream large bodies, so only the header read is bounded.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.Int("port", s.config.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
