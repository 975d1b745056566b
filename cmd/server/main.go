// Command server runs the sercy gateway: authenticated API, build uploads,
// GitHub App webhooks and a reverse proxy to the page renderer.
//
// All configuration comes from the environment; see internal/config.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/sakif/sercy/internal/auth"
	"github.com/sakif/sercy/internal/config"
	"github.com/sakif/sercy/internal/events"
	"github.com/sakif/sercy/internal/handler"
	"github.com/sakif/sercy/internal/logger"
	"github.com/sakif/sercy/internal/middleware"
	"github.com/sakif/sercy/internal/render"
	sqliteRepo "github.com/sakif/sercy/internal/repository/sqlite"
	"github.com/sakif/sercy/internal/server"
	"github.com/sakif/sercy/internal/storage"
)

func main() {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	log := logger.Setup(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	// === 3. DATABASE ===
	dbDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		fatal(log, "failed to create database directory", err, slog.String("dir", dbDir))
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		fatal(log, "failed to open database", err, slog.String("path", cfg.DBPath))
	}

	// === 4. IDENTITY VERIFIER ===
	var verifier auth.IdentityVerifier
	if cfg.FirebaseProjectID != "" {
		verifier, err = auth.NewSecureTokenVerifier(auth.SecureTokenConfig{
			ProjectID: cfg.FirebaseProjectID,
			CertsURL:  cfg.SecureTokenCertsURL,
		})
	} else {
		log.Warn("verifying ID tokens with a shared secret; intended for development")
		verifier, err = auth.NewTokenService(cfg.IDTokenSecret, cfg.IDTokenIssuer)
	}
	if err != nil {
		fatal(log, "failed to create identity verifier", err)
	}

	// === 5. OBJECT STORE ===
	var store storage.ObjectStore
	if cfg.S3.Enabled() {
		store, err = storage.NewS3Store(cfg.S3)
		log.Info("storing uploads in S3", slog.String("bucket", cfg.S3.Bucket))
	} else {
		store, err = storage.NewDiskStore(cfg.LocalStorageDir, cfg.LocalPublicURL)
		log.Warn("S3 not configured, storing uploads on local disk", slog.String("dir", cfg.LocalStorageDir))
	}
	if err != nil {
		fatal(log, "failed to create object store", err)
	}

	// === 6. EVENT SINK ===
	var sink server.EventSink
	if cfg.RedisURL != "" {
		sink, err = events.NewStreamPublisherFromURL(cfg.RedisURL)
		if err != nil {
			fatal(log, "failed to connect to redis", err)
		}
	} else {
		log.Warn("REDIS_URL not set, webhook events are only logged")
		sink = events.NewLogPublisher(log)
	}

	// === 7. RENDERER ===
	renderer, err := render.NewProxy(cfg.RendererURL, cfg.RendererTimeout, log)
	if err != nil {
		fatal(log, "failed to create renderer proxy", err)
	}

	// === 8. METRICS ===
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// === 9. CREATE AND START THE SERVER ===
	deps := server.Deps{
		DB:       db,
		Verifier: verifier,
		Store:    store,
		Events:   sink,
		Renderer: renderer,
		Registry: registry,
	}
	// Assigned only when non-nil so the interface stays nil when disabled.
	if gh := auth.NewGitHubProvider(auth.GitHubOAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
	}); gh != nil {
		deps.Exchanger = gh
	}
	if cfg.GitHubWebhookSecret == "" {
		log.Warn("GITHUB_WEBHOOK_SECRET not set, webhook signatures are not checked")
	}

	srv, err := server.New(server.Config{
		Port:              cfg.Port,
		ProviderTimeout:   cfg.ProviderTimeout,
		StorageTimeout:    cfg.StorageTimeout,
		UploadMaxBytes:    cfg.UploadMaxBytes,
		UploadMemory:      cfg.UploadMemory,
		UploadConcurrency: cfg.UploadConcurrency,
		Webhook: handler.WebhookConfig{
			Secret:   []byte(cfg.GitHubWebhookSecret),
			MaxBytes: cfg.WebhookMaxBytes,
			Timeout:  cfg.WebhookTimeout,
		},
		WebhookRateLimit: middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.WebhookRateLimit),
			Burst: cfg.WebhookRateBurst,
		},
	}, deps, log)
	if err != nil {
		fatal(log, "failed to create server", err)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		fatal(log, "server error", err)
	}
}

func fatal(log *slog.Logger, msg string, err error, attrs ...any) {
	log.Error(msg, append(attrs, slog.String("error", err.Error()))...)
	os.Exit(1)
}
