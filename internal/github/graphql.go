package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shurcooL/githubv4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
	"k8s.io/utils/ptr"
)

type repositoryNode struct {
	ID              string
	Name            string
	NameWithOwner   string
	Description     string
	URL             string
	CreatedAt       githubv4.DateTime
	UpdatedAt       githubv4.DateTime
	PushedAt        githubv4.DateTime
	IsPrivate       bool
	IsFork          bool
	IsArchived      bool
	StargazerCount  int
	PrimaryLanguage struct{ Name string }
	Owner           struct{ Login string }
}

type searchQuery struct {
	Search struct {
		RepositoryCount int
		PageInfo        struct {
			HasNextPage bool
			EndCursor   string
		}
		Nodes []struct {
			Repository repositoryNode `graphql:"... on Repository"`
		}
	} `graphql:"search(query: $query, type: REPOSITORY, first: $first, after: $after)"`
	RateLimit struct {
		Limit     int
		Cost      int
		Remaining int
		ResetAt   githubv4.DateTime
	}
}

// GraphQL searches repositories through the GitHub GraphQL API.
type GraphQL struct {
	c *githubv4.Client
	l *rate.Limiter
}

// NewGraphQL constructs a GraphQL executor. HTTP 403 and 429 responses are
// reported as *RateLimitError.
func NewGraphQL(ctx context.Context, opts ...ClientOption) *GraphQL {
	o := newClientOptions(opts)
	hc := *o.authenticatedClient(ctx)
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = &rateLimitTransport{wrapped: base}
	if o.baseURL != "" {
		return &GraphQL{c: githubv4.NewEnterpriseClient(o.baseURL, &hc), l: o.limiter}
	}
	return &GraphQL{c: githubv4.NewClient(&hc), l: o.limiter}
}

// Execute fetches one page of repositories matching filter.
func (g *GraphQL) Execute(
	ctx context.Context,
	filter string,
	first int,
	after *string,
) (*SearchPage, error) {
	tracer := otel.Tracer("starcrawl/github")
	ctx, span := tracer.Start(ctx, "GraphQL.Execute")
	span.SetAttributes(
		attribute.String("filter", filter),
		attribute.Int("first", first),
		attribute.Bool("has_cursor", after != nil),
	)
	defer span.End()
	first, err := clampPageSize(first)
	if err != nil {
		return nil, err
	}
	if err := g.l.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	var cursor *githubv4.String
	if after != nil {
		cursor = ptr.To(githubv4.String(*after))
	}
	var q searchQuery
	variables := map[string]any{
		"query": githubv4.String(filter),
		"first": githubv4.Int(first),
		"after": cursor,
	}
	if err := g.c.Query(ctx, &q, variables); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !IsRateLimited(err) && isRateLimitMessage(err.Error()) {
			err = &RateLimitError{Message: err.Error(), Err: err}
		}
		return nil, fmt.Errorf("search %q failed: %w", filter, err)
	}
	page := &SearchPage{
		Nodes:       make([]Node, 0, len(q.Search.Nodes)),
		HasNextPage: q.Search.PageInfo.HasNextPage,
		EndCursor:   nonEmpty(q.Search.PageInfo.EndCursor),
		RateLimit: &RateLimit{
			Limit:     q.RateLimit.Limit,
			Cost:      q.RateLimit.Cost,
			Remaining: q.RateLimit.Remaining,
			ResetAt:   q.RateLimit.ResetAt.Time,
		},
	}
	for _, n := range q.Search.Nodes {
		page.Nodes = append(page.Nodes, n.Repository.toNode())
	}
	slog.DebugContext(
		ctx,
		"graphql search page",
		"filter", filter,
		"nodes", len(page.Nodes),
		"repository_count", q.Search.RepositoryCount,
		"has_next_page", page.HasNextPage,
		"rate_remaining", q.RateLimit.Remaining,
		"rate_cost", q.RateLimit.Cost,
	)
	span.SetAttributes(attribute.Int("nodes_len", len(page.Nodes)))
	return page, nil
}

func (n repositoryNode) toNode() Node {
	return Node{
		ID:              n.ID,
		Name:            n.Name,
		OwnerLogin:      n.Owner.Login,
		NameWithOwner:   n.NameWithOwner,
		Description:     nonEmpty(n.Description),
		URL:             n.URL,
		CreatedAt:       dateTime(n.CreatedAt),
		UpdatedAt:       dateTime(n.UpdatedAt),
		PushedAt:        dateTime(n.PushedAt),
		PrimaryLanguage: nonEmpty(n.PrimaryLanguage.Name),
		IsPrivate:       n.IsPrivate,
		IsFork:          n.IsFork,
		IsArchived:      n.IsArchived,
		StargazerCount:  n.StargazerCount,
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return ptr.To(s)
}

func dateTime(d githubv4.DateTime) *time.Time {
	if d.IsZero() {
		return nil
	}
	return ptr.To(d.UTC())
}

// rateLimitTransport turns 403 and 429 responses into *RateLimitError before
// the GraphQL client tries to decode them.
type rateLimitTransport struct {
	wrapped http.RoundTripper
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.wrapped.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := resp.Status
	if b := strings.TrimSpace(string(body)); b != "" {
		msg += ": " + b
	}
	return nil, &RateLimitError{Message: msg, ResetAt: resetFromHeader(resp.Header, time.Now())}
}

// resetFromHeader reads X-RateLimit-Reset or Retry-After; zero when neither is usable.
func resetFromHeader(h http.Header, now time.Time) time.Time {
	if v, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil && v > 0 {
		return time.Unix(v, 0).UTC()
	}
	if v, err := strconv.Atoi(h.Get("Retry-After")); err == nil && v >= 0 {
		return now.Add(time.Duration(v) * time.Second).UTC()
	}
	return time.Time{}
}
