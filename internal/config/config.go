// Package config loads the gateway configuration from the environment.
//
// Load is called once at startup; the returned Config is treated as immutable.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/sercy/internal/auth"
	"github.com/sakif/sercy/internal/storage"
)

// Config holds everything main needs to wire the server.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Database
	DBPath string

	// Renderer
	RendererURL     string
	RendererTimeout time.Duration

	// Identity: exactly one of FirebaseProjectID or IDTokenSecret is set.
	FirebaseProjectID   string
	SecureTokenCertsURL string
	IDTokenSecret       string
	IDTokenIssuer       string
	ProviderTimeout     time.Duration

	// Storage: S3 when S3.Enabled(), otherwise LocalStorageDir.
	S3              storage.S3Config
	LocalStorageDir string
	LocalPublicURL  string
	StorageTimeout  time.Duration

	// Upload
	UploadMaxBytes    int64
	UploadMemory      int64
	UploadConcurrency int

	// Webhooks
	RedisURL            string
	GitHubWebhookSecret string
	WebhookMaxBytes     int64
	WebhookTimeout      time.Duration
	WebhookRateLimit    float64 // requests per second per client IP
	WebhookRateBurst    int

	// GitHub App user authorization (optional)
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string
}

// Load reads Config from the environment.
// Missing required variables and malformed values are reported together.
func Load() (*Config, error) {
	var (
		missing []string
		invalid []error
	)
	p := parser{invalid: &invalid}

	cfg := &Config{
		Port:     p.intEnv("PORT", 8080),
		LogLevel: getEnvString("LOG_LEVEL", "info"),
		DBPath:   getEnvString("DB_PATH", "data/gateway.db"),

		RendererURL:     os.Getenv("RENDERER_URL"),
		RendererTimeout: p.durationEnv("RENDERER_TIMEOUT", 30*time.Second),

		FirebaseProjectID:   os.Getenv("FIREBASE_PROJECT_ID"),
		SecureTokenCertsURL: getEnvString("SECURETOKEN_CERTS_URL", auth.DefaultCertsURL),
		IDTokenSecret:       os.Getenv("ID_TOKEN_SECRET"),
		IDTokenIssuer:       getEnvString("ID_TOKEN_ISSUER", "sercy"),
		ProviderTimeout:     p.durationEnv("PROVIDER_TIMEOUT", 5*time.Second),

		S3: storage.S3Config{
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			Region:         os.Getenv("S3_REGION"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Bucket:         os.Getenv("S3_BUCKET"),
			UseSSL:         p.boolEnv("S3_USE_SSL", true),
			Prefix:         os.Getenv("S3_PREFIX"),
			PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
		},
		LocalStorageDir: getEnvString("LOCAL_STORAGE_DIR", "data/objects"),
		LocalPublicURL:  os.Getenv("LOCAL_PUBLIC_URL"),
		StorageTimeout:  p.durationEnv("STORAGE_TIMEOUT", 30*time.Second),

		UploadMaxBytes:    p.int64Env("UPLOAD_MAX_BYTES", 256<<20),
		UploadMemory:      p.int64Env("UPLOAD_MEMORY", 32<<20),
		UploadConcurrency: p.intEnv("UPLOAD_CONCURRENCY", 4),

		RedisURL:            os.Getenv("REDIS_URL"),
		GitHubWebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),
		WebhookMaxBytes:     p.int64Env("WEBHOOK_MAX_BYTES", 25<<20),
		WebhookTimeout:      p.durationEnv("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookRateLimit:    p.floatEnv("WEBHOOK_RATE_LIMIT", 10),
		WebhookRateBurst:    p.intEnv("WEBHOOK_RATE_BURST", 20),

		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		GitHubRedirectURL:  os.Getenv("GITHUB_REDIRECT_URL"),
	}
	cfg.S3.RequestTimeout = cfg.StorageTimeout

	if cfg.RendererURL == "" {
		missing = append(missing, "RENDERER_URL")
	}
	switch {
	case cfg.FirebaseProjectID == "" && cfg.IDTokenSecret == "":
		missing = append(missing, "FIREBASE_PROJECT_ID or ID_TOKEN_SECRET")
	case cfg.FirebaseProjectID != "" && cfg.IDTokenSecret != "":
		invalid = append(invalid, errors.New("set only one of FIREBASE_PROJECT_ID and ID_TOKEN_SECRET"))
	}
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret == "" {
		missing = append(missing, "GITHUB_CLIENT_SECRET")
	}
	if cfg.UploadConcurrency < 1 {
		invalid = append(invalid, fmt.Errorf("UPLOAD_CONCURRENCY must be at least 1, got %d", cfg.UploadConcurrency))
	}

	if len(missing) > 0 {
		invalid = append([]error{fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))}, invalid...)
	}
	if err := errors.Join(invalid...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parser reads typed values, collecting malformed ones instead of silently
// falling back to the default.
type parser struct {
	invalid *[]error
}

func (p parser) fail(key, value string, err error) {
	*p.invalid = append(*p.invalid, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p parser) intEnv(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return defaultVal
	}
	return i
}

func (p parser) int64Env(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return defaultVal
	}
	return i
}

func (p parser) floatEnv(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return defaultVal
	}
	return f
}

func (p parser) boolEnv(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return defaultVal
	}
	return b
}

func (p parser) durationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return defaultVal
	}
	return d
}
