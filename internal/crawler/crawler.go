// Package crawler drives repository searches until a target number of
// repositories has been stored.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"starcrawl.shikanime.studio/internal/budget"
	"starcrawl.shikanime.studio/internal/database"
	"starcrawl.shikanime.studio/internal/github"
	"starcrawl.shikanime.studio/internal/metrics"
	"starcrawl.shikanime.studio/internal/rotation"
)

// Store persists crawl records. Writes must be idempotent.
type Store interface {
	BulkUpsertRepositories(ctx context.Context, repos []database.Repository) error
	BulkInsertStarSnapshots(ctx context.Context, stars []database.StarSnapshot) error
	RepositoryCount(ctx context.Context) (int64, error)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Result summarizes a crawl.
type Result struct {
	Crawled     int
	Fetches     int
	RateLimited int
	Failures    int
	Malformed   int
	// Exhausted is set when every filter finished a pass without yielding a
	// repository, so the target could not be reached.
	Exhausted bool
	Budget    budget.Status
}

// Controller runs the crawl loop over one executor, store, budget and rotation.
// It is not safe for concurrent use.
type Controller struct {
	executor github.Executor
	store    Store
	budget   *budget.Budget
	rotation *rotation.Rotation

	target     int
	batchSize  int
	cost       int
	cooldown   time.Duration
	errorDelay time.Duration
	batchDelay time.Duration
	sleep      Sleeper
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithTarget sets how many repositories to store before stopping.
func WithTarget(n int) Option {
	return func(c *Controller) { c.target = n }
}

// WithBatchSize sets the requested page size, capped at github.MaxPageSize.
func WithBatchSize(n int) Option {
	return func(c *Controller) { c.batchSize = n }
}

// WithQueryCost sets the budget points charged per search.
func WithQueryCost(n int) Option {
	return func(c *Controller) { c.cost = n }
}

// WithCooldown sets the pause after GitHub reports a rate limit.
func WithCooldown(d time.Duration) Option {
	return func(c *Controller) { c.cooldown = d }
}

// WithErrorDelay sets the pause after any other failed batch.
func WithErrorDelay(d time.Duration) Option {
	return func(c *Controller) { c.errorDelay = d }
}

// WithBatchDelay sets the pause between successful batches.
func WithBatchDelay(d time.Duration) Option {
	return func(c *Controller) { c.batchDelay = d }
}

// WithSleeper replaces the context-aware sleep used between calls.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleep = s }
}

// WithClock overrides the time source for capture times and batch durations.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger, slog.Default otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// New constructs a Controller. Defaults: target 100000, batch size 100,
// cost 1, cooldown 60s, error delay 1s, batch delay 100ms.
func New(
	executor github.Executor,
	store Store,
	b *budget.Budget,
	r *rotation.Rotation,
	opts ...Option,
) (*Controller, error) {
	if executor == nil || store == nil || b == nil || r == nil {
		return nil, errors.New("crawler requires an executor, a store, a budget and a rotation")
	}
	c := &Controller{
		executor:   executor,
		store:      store,
		budget:     b,
		rotation:   r,
		target:     100000,
		batchSize:  github.MaxPageSize,
		cost:       1,
		cooldown:   time.Minute,
		errorDelay: time.Second,
		batchDelay: 100 * time.Millisecond,
		sleep:      sleepContext,
		now:        time.Now,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.target <= 0 {
		return nil, fmt.Errorf("target must be positive, got %d", c.target)
	}
	if c.batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", c.batchSize)
	}
	if c.cost <= 0 {
		return nil, fmt.Errorf("query cost must be positive, got %d", c.cost)
	}
	if limit := b.Status().Limit; c.cost > limit {
		return nil, fmt.Errorf("query cost %d exceeds budget capacity %d", c.cost, limit)
	}
	return c, nil
}

// Run crawls until the target is reached or every filter is exhausted. It
// returns ctx's error if ctx is cancelled first.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	tracer := otel.Tracer("starcrawl/crawler")
	ctx, span := tracer.Start(ctx, "Controller.Run")
	span.SetAttributes(
		attribute.Int("target", c.target),
		attribute.Int("batch_size", c.batchSize),
		attribute.Int("filters_len", c.rotation.Len()),
	)
	defer span.End()

	var res Result
	// dry marks filters whose last pass ended without a record. Any stored
	// record clears every mark; a failed filter is left unmarked.
	dry := make([]bool, c.rotation.Len())
	dryCount := 0
	passRecords := 0
	finish := func(err error) (Result, error) {
		res.Budget = c.budget.Status()
		span.SetAttributes(attribute.Int("crawled", res.Crawled), attribute.Int("fetches", res.Fetches))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return res, err
	}

	for res.Crawled < c.target {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		filter, cursor := c.rotation.Current()
		batch := min(c.batchSize, c.target-res.Crawled, github.MaxPageSize)

		if wait := c.budget.TimeUntilAvailable(c.cost); wait > 0 {
			st := c.budget.Status()
			c.log.InfoContext(ctx, "rate budget exhausted, waiting for window reset",
				"wait", wait, "used", st.Used, "limit", st.Limit, "reset_at", st.ResetAt)
			metrics.BudgetWaitSeconds.Add(wait.Seconds())
			if err := c.sleep(ctx, wait); err != nil {
				return finish(err)
			}
			continue
		}

		start := c.now()
		res.Fetches++
		page, err := c.executor.Execute(ctx, filter, batch, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return finish(ctx.Err())
			}
			if github.IsRateLimited(err) {
				res.RateLimited++
				metrics.FetchesTotal.WithLabelValues(metrics.OutcomeRateLimited).Inc()
				st := c.budget.Status()
				c.log.WarnContext(ctx, "rate limited by GitHub, cooling down",
					"filter", filter, "cooldown", c.cooldown,
					"budget_remaining", st.Remaining, "budget_reset_at", st.ResetAt, "error", err)
				if err := c.sleep(ctx, c.cooldown); err != nil {
					return finish(err)
				}
				continue
			}
			res.Failures++
			metrics.FetchesTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
			c.log.ErrorContext(ctx, "search failed, rotating filter", "filter", filter, "error", err)
			c.rotate()
			passRecords = 0
			if err := c.sleep(ctx, c.errorDelay); err != nil {
				return finish(err)
			}
			continue
		}
		c.budget.Commit(c.cost)
		c.observeRateLimit(ctx, page.RateLimit)

		records := c.toRecords(ctx, page.Nodes, &res)
		if err := c.persist(ctx, records); err != nil {
			res.Failures++
			metrics.FetchesTotal.WithLabelValues(metrics.OutcomeStoreError).Inc()
			c.log.ErrorContext(ctx, "storing batch failed, rotating filter", "filter", filter, "error", err)
			c.rotate()
			passRecords = 0
			if err := c.sleep(ctx, c.errorDelay); err != nil {
				return finish(err)
			}
			continue
		}
		metrics.FetchesTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		metrics.RepositoriesCrawled.Add(float64(len(records)))
		metrics.BatchDuration.Observe(c.now().Sub(start).Seconds())
		res.Crawled += len(records)
		passRecords += len(records)
		if len(records) > 0 {
			clear(dry)
			dryCount = 0
		}

		st := c.budget.Status()
		metrics.BudgetRemaining.Set(float64(st.Remaining))
		c.log.InfoContext(ctx, "batch stored",
			"filter", filter, "stored", len(records), "crawled", res.Crawled, "target", c.target,
			"budget_remaining", st.Remaining)

		if moved(page, cursor) {
			c.rotation.AdvancePage(*page.EndCursor)
		} else {
			if idx := c.rotation.Index(); passRecords == 0 && !dry[idx] {
				dry[idx] = true
				dryCount++
			}
			passRecords = 0
			c.log.DebugContext(ctx, "filter pass finished", "filter", filter, "dry_filters", dryCount)
			c.rotate()
			if dryCount == len(dry) {
				res.Exhausted = true
				c.log.WarnContext(ctx, "every filter is exhausted, stopping early",
					"crawled", res.Crawled, "target", c.target)
				break
			}
		}

		if res.Crawled < c.target {
			if err := c.sleep(ctx, c.batchDelay); err != nil {
				return finish(err)
			}
		}
	}
	return finish(nil)
}

// moved reports whether page continues its filter at a new position.
func moved(page *github.SearchPage, cursor *string) bool {
	if len(page.Nodes) == 0 || !page.HasNextPage || page.EndCursor == nil {
		return false
	}
	return cursor == nil || *cursor != *page.EndCursor
}

func (c *Controller) rotate() {
	c.rotation.Rotate()
	metrics.Rotations.Inc()
}

func (c *Controller) toRecords(ctx context.Context, nodes []github.Node, res *Result) []Record {
	at := captureTime(c.now())
	records := make([]Record, 0, len(nodes))
	for i, n := range nodes {
		rec, err := NewRecord(n, at)
		if err != nil {
			res.Malformed++
			metrics.MalformedNodes.Inc()
			c.log.WarnContext(ctx, "skipping malformed node", "index", i, "id", n.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (c *Controller) persist(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	repos := make([]database.Repository, len(records))
	stars := make([]database.StarSnapshot, len(records))
	for i, r := range records {
		repos[i] = r.Repository
		stars[i] = r.Stars
	}
	if err := c.store.BulkUpsertRepositories(ctx, repos); err != nil {
		return fmt.Errorf("upsert repositories: %w", err)
	}
	if err := c.store.BulkInsertStarSnapshots(ctx, stars); err != nil {
		return fmt.Errorf("insert star snapshots: %w", err)
	}
	return nil
}

func (c *Controller) observeRateLimit(ctx context.Context, rl *github.RateLimit) {
	if rl == nil {
		return
	}
	metrics.GitHubRateRemaining.Set(float64(rl.Remaining))
	c.log.DebugContext(ctx, "github rate limit",
		"limit", rl.Limit, "cost", rl.Cost, "remaining", rl.Remaining, "reset_at", rl.ResetAt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
