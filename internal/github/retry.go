package github

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying re-runs transient failures of the wrapped executor with exponential
// backoff. Rate-limit errors are returned immediately so the caller can cool down.
type Retrying struct {
	next     Executor
	attempts uint64
	backoff  func() backoff.BackOff
	gate     func(ctx context.Context) error
}

// RetryOption configures a Retrying executor.
type RetryOption func(*Retrying)

// WithBackOff replaces the backoff policy factory.
func WithBackOff(f func() backoff.BackOff) RetryOption {
	return func(r *Retrying) { r.backoff = f }
}

// WithAttemptGate runs gate before every attempt. A gate error ends the
// retries; it is how a shared rate budget is consulted on each remote call.
func WithAttemptGate(gate func(ctx context.Context) error) RetryOption {
	return func(r *Retrying) { r.gate = gate }
}

// NewRetrying wraps next so that each Execute makes at most attempts calls.
func NewRetrying(next Executor, attempts int, opts ...RetryOption) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	r := &Retrying{
		next:     next,
		attempts: uint64(attempts),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 4 * time.Second
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrying) Execute(
	ctx context.Context,
	filter string,
	first int,
	after *string,
) (*SearchPage, error) {
	var page *SearchPage
	attempt := 0
	op := func() error {
		attempt++
		if r.gate != nil {
			if err := r.gate(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		p, err := r.next.Execute(ctx, filter, first, after)
		if err != nil {
			if IsRateLimited(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		page = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.WarnContext(
			ctx,
			"search failed, retrying",
			"filter", filter,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(r.backoff(), r.attempts-1), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return page, nil
}
