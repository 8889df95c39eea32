package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, "graphql", cfg.GetGitHubExecutor())
	assert.Equal(t, 100000, cfg.GetTargetRepositories())
	assert.Equal(t, 100, cfg.GetBatchSize())
	assert.Equal(t, 3, cfg.GetMaxRetries())
	assert.Equal(t, 5000, cfg.GetRateLimitPoints())
	assert.Equal(t, time.Hour, cfg.GetRateLimitWindow())
	assert.Equal(t, time.Minute, cfg.GetRateLimitCooldown())
	assert.Equal(t, 1, cfg.GetQueryCost())
	assert.Equal(t, time.Second, cfg.GetErrorDelay())
	assert.Equal(t, 100*time.Millisecond, cfg.GetBatchDelay())
	assert.Equal(t, 10.0, cfg.GetRequestsPerSecond())
	assert.Equal(t, "starcrawl", cfg.GetServiceName())
	require.NoError(t, cfg.Validate())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TARGET_REPOSITORIES", "250")
	t.Setenv("RATE_LIMIT_WINDOW", "30m")
	t.Setenv("GITHUB_EXECUTOR", "REST")
	cfg := New()
	assert.Equal(t, 250, cfg.GetTargetRepositories())
	assert.Equal(t, 30*time.Minute, cfg.GetRateLimitWindow())
	assert.Equal(t, "rest", cfg.GetGitHubExecutor())
}

func TestGitHubTokenFallback(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "gh-secret")
	assert.Equal(t, "gh-secret", New().GetGitHubToken())
	t.Setenv("GITHUB_TOKEN", "primary")
	assert.Equal(t, "primary", New().GetGitHubToken())
}

func TestValidate(t *testing.T) {
	cfg := New()
	cfg.Set("BATCH_SIZE", 0)
	cfg.Set("QUERY_COST", 6000)
	cfg.Set("GITHUB_EXECUTOR", "soap")
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
	assert.Contains(t, err.Error(), "QUERY_COST")
	assert.Contains(t, err.Error(), "GITHUB_EXECUTOR")
}

func TestGetDsnFromParts(t *testing.T) {
	t.Setenv("DSN", "")
	t.Setenv("PGUSER", "crawler")
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPORT", "6543")
	t.Setenv("PGDATABASE", "stars")
	u, err := New().GetDsn()
	require.NoError(t, err)
	assert.Equal(t, "postgres://crawler@db.internal:6543/stars?sslmode=disable", u.String())
}

func TestGetDsnExplicit(t *testing.T) {
	t.Setenv("DSN", "postgresql://u:p@localhost/stars")
	u, err := New().GetDsn()
	require.NoError(t, err)
	assert.Equal(t, "postgresql", u.Scheme)
}

func TestBindFlag(t *testing.T) {
	fs := pflag.NewFlagSet("crawl", pflag.ContinueOnError)
	fs.Int("target", 100000, "")
	cfg := New()
	require.NoError(t, cfg.BindFlag("TARGET_REPOSITORIES", fs, "target"))
	require.Error(t, cfg.BindFlag("BATCH_SIZE", fs, "missing"))

	assert.Equal(t, 100000, cfg.GetTargetRepositories())
	require.NoError(t, fs.Parse([]string{"--target", "42"}))
	assert.Equal(t, 42, cfg.GetTargetRepositories())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("STARCRAWL_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("STARCRAWL_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("STARCRAWL_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("STARCRAWL_TEST_DOTENV"))
}

func TestNewLoggerFollowsLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	var buf bytes.Buffer
	log := NewLogger(New(), &buf)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "service=starcrawl")
	assert.True(t, log.Enabled(t.Context(), slog.LevelWarn))
}
