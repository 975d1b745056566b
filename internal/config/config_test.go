package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/sercy/internal/auth"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("RENDERER_URL", "http://localhost:3000")
	t.Setenv("ID_TOKEN_SECRET", "0123456789abcdef0123")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "data/gateway.db", cfg.DBPath)
	assert.Equal(t, auth.DefaultCertsURL, cfg.SecureTokenCertsURL)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 30*time.Second, cfg.StorageTimeout)
	assert.Equal(t, cfg.StorageTimeout, cfg.S3.RequestTimeout)
	assert.Equal(t, 4, cfg.UploadConcurrency)
	assert.Equal(t, "data/objects", cfg.LocalStorageDir)
	assert.False(t, cfg.S3.Enabled())
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("PROVIDER_TIMEOUT", "750ms")
	t.Setenv("UPLOAD_CONCURRENCY", "8")
	t.Setenv("S3_ENDPOINT", "minio:9000")
	t.Setenv("S3_BUCKET", "artifacts")
	t.Setenv("S3_USE_SSL", "false")
	t.Setenv("WEBHOOK_RATE_LIMIT", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.ProviderTimeout)
	assert.Equal(t, 8, cfg.UploadConcurrency)
	assert.True(t, cfg.S3.Enabled())
	assert.False(t, cfg.S3.UseSSL)
	assert.Equal(t, 2.5, cfg.WebhookRateLimit)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("RENDERER_URL", "")
	t.Setenv("ID_TOKEN_SECRET", "")
	t.Setenv("FIREBASE_PROJECT_ID", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RENDERER_URL")
	assert.Contains(t, err.Error(), "FIREBASE_PROJECT_ID or ID_TOKEN_SECRET")
}

func TestLoad_BothVerifierSources(t *testing.T) {
	setRequired(t)
	t.Setenv("FIREBASE_PROJECT_ID", "my-project")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only one")
}

func TestLoad_MalformedValues(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "eighty")
	t.Setenv("STORAGE_TIMEOUT", "soon")
	t.Setenv("UPLOAD_CONCURRENCY", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `PORT="eighty"`)
	assert.Contains(t, err.Error(), `STORAGE_TIMEOUT="soon"`)
	assert.Contains(t, err.Error(), "UPLOAD_CONCURRENCY")
}

func TestLoad_GitHubClientNeedsSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("GITHUB_CLIENT_ID", "Iv1.abc")
	t.Setenv("GITHUB_CLIENT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_CLIENT_SECRET")
}
