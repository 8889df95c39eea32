package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidBudget is returned when a Budget is built with a non-positive capacity or window.
var ErrInvalidBudget = errors.New("invalid budget")

// Status is a point-in-time snapshot of a Budget.
type Status struct {
	Remaining int
	Used      int
	Limit     int
	ResetAt   time.Time
}

// Budget tracks points spent against a fixed capacity over a rolling window.
// The window restarts lazily on the first access after it has elapsed.
type Budget struct {
	mu          sync.Mutex
	capacity    int
	window      time.Duration
	consumed    int
	windowStart time.Time
	clock       func() time.Time
}

// Option configures a Budget.
type Option func(*Budget)

// WithClock overrides the time source, mostly for tests.
func WithClock(clock func() time.Time) Option {
	return func(b *Budget) { b.clock = clock }
}

// New returns a Budget allowing capacity points per window.
func New(capacity int, window time.Duration, opts ...Option) (*Budget, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidBudget, capacity)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %s", ErrInvalidBudget, window)
	}
	b := &Budget{capacity: capacity, window: window, clock: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	b.windowStart = b.clock()
	return b, nil
}

// TryReserve reports whether cost points can be spent now.
func (b *Budget) TryReserve(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetIfElapsed()
	return b.consumed+cost <= b.capacity
}

// Commit records cost points as spent. Callers are expected to have checked
// TryReserve first; Reserve does both under one lock.
func (b *Budget) Commit(cost int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetIfElapsed()
	b.consumed += cost
}

// Reserve spends cost points if they fit and reports whether it did.
func (b *Budget) Reserve(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetIfElapsed()
	if b.consumed+cost > b.capacity {
		return false
	}
	b.consumed += cost
	return true
}

// TimeUntilAvailable returns zero when cost points can be spent now, otherwise
// the time left until the current window resets.
func (b *Budget) TimeUntilAvailable(cost int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetIfElapsed()
	if b.consumed+cost <= b.capacity {
		return 0
	}
	wait := b.window - b.clock().Sub(b.windowStart)
	if wait < 0 {
		return 0
	}
	return wait
}

// Wait blocks until cost points fit in the window or ctx is done.
func (b *Budget) Wait(ctx context.Context, cost int) error {
	for {
		wait := b.TimeUntilAvailable(cost)
		if wait <= 0 {
			return ctx.Err()
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Status returns the current usage.
func (b *Budget) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetIfElapsed()
	return Status{
		Remaining: max(b.capacity-b.consumed, 0),
		Used:      b.consumed,
		Limit:     b.capacity,
		ResetAt:   b.windowStart.Add(b.window),
	}
}

func (b *Budget) resetIfElapsed() {
	now := b.clock()
	if now.Sub(b.windowStart) >= b.window {
		b.consumed = 0
		b.windowStart = now
	}
}
