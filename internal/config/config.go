package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct{ v *viper.Viper }

var defaults = map[string]any{
	"GITHUB_EXECUTOR":     "graphql",
	"TARGET_REPOSITORIES": 100000,
	"BATCH_SIZE":          100,
	"MAX_RETRIES":         3,
	"RATE_LIMIT_POINTS":   5000,
	"RATE_LIMIT_WINDOW":   time.Hour,
	"RATE_LIMIT_COOLDOWN": time.Minute,
	"QUERY_COST":          1,
	"ERROR_DELAY":         time.Second,
	"BATCH_DELAY":         100 * time.Millisecond,
	"REQUESTS_PER_SECOND": 10.0,
	"OTEL_SERVICE_NAME":   "starcrawl",
}

func New() *Config {
	vv := viper.New()
	for k, v := range defaults {
		vv.SetDefault(k, v)
	}
	vv.AutomaticEnv()
	return &Config{v: vv}
}

// LoadDotEnv loads variables from the given .env files (".env" when none is
// given) into the process environment. Missing files are ignored and
// variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// GetDsn resolves the final DSN using env vars
func (c *Config) GetDsn() (*url.URL, error) {
	source := c.v.GetString("DSN")
	if source == "" {
		user := c.v.GetString("PGUSER")
		if user == "" {
			user = c.v.GetString("USER")
		}
		if user == "" {
			user = "postgres"
		}

		dbName := c.v.GetString("PGDATABASE")
		if dbName == "" {
			dbName = "postgres"
		}

		host := c.v.GetString("PGHOST")
		if host == "" {
			host = "localhost"
		}

		port := c.v.GetString("PGPORT")
		hasPortEnv := port != ""
		if !hasPortEnv || port == "" {
			port = "5432"
		}

		if strings.HasPrefix(host, "/") {
			socketDir := host

			// If PGHOST points to a file, derive directory and only infer port when PGPORT isn't set.
			if fi, err := os.Stat(host); err == nil && !fi.IsDir() {
				socketDir = filepath.Dir(host)
				if !hasPortEnv {
					base := filepath.Base(host)
					// Expected filename pattern: ".s.PGSQL.<port>"
					if strings.HasPrefix(base, ".s.PGSQL.") {
						if inferred := strings.TrimPrefix(base, ".s.PGSQL."); inferred != "" {
							if _, err := strconv.Atoi(inferred); err == nil {
								port = inferred
							}
						}
					}
				}
			}

			q := url.Values{}
			q.Set("host", socketDir)
			q.Set("port", port)
			q.Set("sslmode", "disable")
			source = "postgres://" + user + "@/" + dbName + "?" + q.Encode()
		} else {
			source = "postgres://" + user + "@" + host + ":" + port + "/" + dbName + "?sslmode=disable"
		}
	}

	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" {
		return nil, errors.New("invalid DSN: must be in format driver://dataSourceName")
	}
	return u, nil
}

func (c *Config) GetGitHubToken() string {
	if t := c.v.GetString("GITHUB_TOKEN"); t != "" {
		return t
	}
	return c.v.GetString("GH_TOKEN")
}

// GetGitHubAPIURL returns GITHUB_API_URL, empty for the public API.
func (c *Config) GetGitHubAPIURL() string { return c.v.GetString("GITHUB_API_URL") }

// GetGitHubExecutor returns which API the crawler searches with: graphql (default) or rest.
func (c *Config) GetGitHubExecutor() string {
	return strings.ToLower(c.v.GetString("GITHUB_EXECUTOR"))
}

func (c *Config) GetTargetRepositories() int { return c.v.GetInt("TARGET_REPOSITORIES") }

func (c *Config) GetBatchSize() int { return c.v.GetInt("BATCH_SIZE") }

// GetMaxRetries returns the number of attempts per search, including the first.
func (c *Config) GetMaxRetries() int { return c.v.GetInt("MAX_RETRIES") }

// GetRateLimitPoints returns the local point budget per window.
func (c *Config) GetRateLimitPoints() int { return c.v.GetInt("RATE_LIMIT_POINTS") }

func (c *Config) GetRateLimitWindow() time.Duration { return c.v.GetDuration("RATE_LIMIT_WINDOW") }

// GetRateLimitCooldown returns the pause after GitHub reports a rate limit.
func (c *Config) GetRateLimitCooldown() time.Duration {
	return c.v.GetDuration("RATE_LIMIT_COOLDOWN")
}

func (c *Config) GetQueryCost() int { return c.v.GetInt("QUERY_COST") }

func (c *Config) GetErrorDelay() time.Duration { return c.v.GetDuration("ERROR_DELAY") }

func (c *Config) GetBatchDelay() time.Duration { return c.v.GetDuration("BATCH_DELAY") }

// GetRequestsPerSecond returns the pacing applied to GitHub calls; 0 disables it.
func (c *Config) GetRequestsPerSecond() float64 { return c.v.GetFloat64("REQUESTS_PER_SECOND") }

// GetMetricsAddr returns the listen address of the metrics endpoint, empty when disabled.
func (c *Config) GetMetricsAddr() string { return c.v.GetString("METRICS_ADDR") }

// GetServiceName returns OTEL_SERVICE_NAME, defaulting to starcrawl.
func (c *Config) GetServiceName() string { return c.v.GetString("OTEL_SERVICE_NAME") }

// IsTelemetryEnabled reports whether an OTLP endpoint is configured.
func (c *Config) IsTelemetryEnabled() bool {
	return c.v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT") != "" ||
		c.v.GetString("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") != ""
}

// Validate checks the crawl settings for values the crawler cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.GetTargetRepositories() <= 0 {
		errs = append(errs, fmt.Errorf("TARGET_REPOSITORIES must be positive"))
	}
	if c.GetBatchSize() <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be positive"))
	}
	if c.GetMaxRetries() <= 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be positive"))
	}
	if c.GetRateLimitPoints() <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_POINTS must be positive"))
	}
	if c.GetRateLimitWindow() <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be positive"))
	}
	if cost := c.GetQueryCost(); cost <= 0 || cost > c.GetRateLimitPoints() {
		errs = append(errs, fmt.Errorf("QUERY_COST must be between 1 and RATE_LIMIT_POINTS"))
	}
	switch c.GetGitHubExecutor() {
	case "graphql", "rest":
	default:
		errs = append(errs, fmt.Errorf("GITHUB_EXECUTOR must be graphql or rest"))
	}
	return errors.Join(errs...)
}

func (c *Config) Set(key string, value any) { c.v.Set(key, value) }

// GetLogLevel returns the log level from env var LOG_LEVEL mapped to slog.Level.
// Recognized values: debug, info (default), warn|warning, error.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToLower(c.v.GetString("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OnLogLevelChange calls fn with the slog.Level whenever it changes.
// The initial call is made immediately.
func (c *Config) OnLogLevelChange(fn func(slog.Level)) {
	apply := func() { fn(c.GetLogLevel()) }
	apply()
	c.v.OnConfigChange(func(e fsnotify.Event) { apply() })
}

// BindFlag binds the named flag of fs to key. Flags only override the
// environment when set on the command line.
func (c *Config) BindFlag(key string, fs *pflag.FlagSet, name string) error {
	f := fs.Lookup(name)
	if f == nil {
		return fmt.Errorf("unknown flag %q", name)
	}
	return c.v.BindPFlag(key, f)
}
