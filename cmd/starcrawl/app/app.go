// Package app assembles the crawler from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"starcrawl.shikanime.studio/internal/budget"
	"starcrawl.shikanime.studio/internal/config"
	"starcrawl.shikanime.studio/internal/crawler"
	"starcrawl.shikanime.studio/internal/github"
	"starcrawl.shikanime.studio/internal/rotation"
)

// ErrMissingToken is returned when neither GITHUB_TOKEN nor GH_TOKEN is set.
var ErrMissingToken = errors.New("GITHUB_TOKEN or GH_TOKEN is required")

// NewBudget builds the rate budget shared by the executor retries and the
// controller.
func NewBudget(cfg *config.Config) (*budget.Budget, error) {
	return budget.New(cfg.GetRateLimitPoints(), cfg.GetRateLimitWindow())
}

// NewExecutor builds the configured GitHub executor wrapped with retries. Every
// attempt waits for b to fit one query.
func NewExecutor(ctx context.Context, cfg *config.Config, b *budget.Budget) (github.Executor, error) {
	token := cfg.GetGitHubToken()
	if token == "" {
		return nil, ErrMissingToken
	}
	opts := []github.ClientOption{
		github.WithToken(token),
		github.WithLimiter(github.NewRequestLimiter(cfg.GetRequestsPerSecond())),
	}
	if u := cfg.GetGitHubAPIURL(); u != "" {
		opts = append(opts, github.WithBaseURL(u))
	}
	var ex github.Executor
	switch cfg.GetGitHubExecutor() {
	case "rest":
		rest, err := github.NewREST(opts...)
		if err != nil {
			return nil, err
		}
		ex = rest
	case "graphql":
		ex = github.NewGraphQL(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown GitHub executor %q", cfg.GetGitHubExecutor())
	}
	slog.InfoContext(ctx, "GitHub executor ready", "executor", cfg.GetGitHubExecutor(), "attempts", cfg.GetMaxRetries())
	cost := cfg.GetQueryCost()
	return github.NewRetrying(ex, cfg.GetMaxRetries(),
		github.WithAttemptGate(func(ctx context.Context) error { return b.Wait(ctx, cost) }),
	), nil
}

// NewController builds a crawl controller over ex, store and b using the
// default filter rotation.
func NewController(
	cfg *config.Config,
	ex github.Executor,
	store crawler.Store,
	b *budget.Budget,
	log *slog.Logger,
	now time.Time,
) (*crawler.Controller, error) {
	r, err := rotation.New(rotation.DefaultFilters(now))
	if err != nil {
		return nil, err
	}
	return crawler.New(ex, store, b, r,
		crawler.WithTarget(cfg.GetTargetRepositories()),
		crawler.WithBatchSize(cfg.GetBatchSize()),
		crawler.WithQueryCost(cfg.GetQueryCost()),
		crawler.WithCooldown(cfg.GetRateLimitCooldown()),
		crawler.WithErrorDelay(cfg.GetErrorDelay()),
		crawler.WithBatchDelay(cfg.GetBatchDelay()),
		crawler.WithLogger(log),
	)
}

// Summary is the post-crawl report.
type Summary struct {
	Result  crawler.Result
	Target  int
	Before  int64
	After   int64
	Elapsed time.Duration
}

// Log reports the summary and warns when fewer than Target repositories are stored.
func (s Summary) Log(ctx context.Context, log *slog.Logger) {
	log.InfoContext(ctx, "crawl finished",
		"crawled", s.Result.Crawled,
		"target", s.Target,
		"stored_total", s.After,
		"stored_new", s.After-s.Before,
		"fetches", s.Result.Fetches,
		"rate_limited", s.Result.RateLimited,
		"failures", s.Result.Failures,
		"malformed", s.Result.Malformed,
		"exhausted", s.Result.Exhausted,
		"budget_used", s.Result.Budget.Used,
		"elapsed", s.Elapsed.Round(time.Second),
	)
	// Overlapping filters return the same repositories, so only the stored
	// count tells whether the target was met.
	if s.After < int64(s.Target) {
		log.WarnContext(ctx, "crawl finished short of target",
			"stored_total", s.After, "target", s.Target, "missing", int64(s.Target)-s.After)
	}
}
