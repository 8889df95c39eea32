package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxPageSize is the largest page GitHub search returns.
const MaxPageSize = 100

// Executor runs one repository search page.
type Executor interface {
	Execute(ctx context.Context, filter string, first int, after *string) (*SearchPage, error)
}

// Node is a repository as returned by a search, before validation.
type Node struct {
	ID              string
	Name            string
	OwnerLogin      string
	NameWithOwner   string
	Description     *string
	URL             string
	CreatedAt       *time.Time
	UpdatedAt       *time.Time
	PushedAt        *time.Time
	PrimaryLanguage *string
	IsPrivate       bool
	IsFork          bool
	IsArchived      bool
	StargazerCount  int
}

// RateLimit is the rate limit state reported by the API alongside a page.
type RateLimit struct {
	Limit     int
	Cost      int
	Remaining int
	ResetAt   time.Time
}

// SearchPage is one page of search results.
type SearchPage struct {
	Nodes       []Node
	HasNextPage bool
	EndCursor   *string
	RateLimit   *RateLimit
}

// RateLimitError reports that GitHub refused a request because of rate limiting.
type RateLimitError struct {
	Message string
	ResetAt time.Time
	Err     error
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return "rate limit exceeded"
	}
	return "rate limit exceeded: " + e.Message
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err, or anything it wraps, is a RateLimitError.
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// isRateLimitMessage matches the wording GitHub uses for primary and secondary limits.
func isRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate_limited") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "you have exceeded")
}

func clampPageSize(first int) (int, error) {
	if first <= 0 {
		return 0, fmt.Errorf("page size must be positive, got %d", first)
	}
	return min(first, MaxPageSize), nil
}
