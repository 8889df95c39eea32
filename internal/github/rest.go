package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v75/github"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
	"k8s.io/utils/ptr"
)

// REST searches repositories through the GitHub REST search endpoint. Its
// cursor is the decimal page number of the next page.
type REST struct {
	c *github.Client
	l *rate.Limiter
}

// NewREST constructs a REST executor.
func NewREST(opts ...ClientOption) (*REST, error) {
	o := newClientOptions(opts)
	c := github.NewClient(o.tracedClient())
	if o.token != "" {
		c = c.WithAuthToken(o.token)
	}
	if o.baseURL != "" {
		raw := o.baseURL
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL %q: %w", o.baseURL, err)
		}
		c.BaseURL = u
	}
	return &REST{c: c, l: o.limiter}, nil
}

// Execute fetches one page of repositories matching filter.
func (r *REST) Execute(
	ctx context.Context,
	filter string,
	first int,
	after *string,
) (*SearchPage, error) {
	tracer := otel.Tracer("starcrawl/github")
	ctx, span := tracer.Start(ctx, "REST.Execute")
	span.SetAttributes(attribute.String("filter", filter), attribute.Int("first", first))
	defer span.End()
	first, err := clampPageSize(first)
	if err != nil {
		return nil, err
	}
	page := 1
	if after != nil {
		page, err = strconv.Atoi(*after)
		if err != nil || page < 1 {
			return nil, fmt.Errorf("invalid page cursor %q", *after)
		}
	}
	if err := r.l.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	res, resp, err := r.c.Search.Repositories(ctx, filter, &github.SearchOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: first},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("search %q failed: %w", filter, classifyRESTError(err, resp))
	}
	out := &SearchPage{Nodes: make([]Node, 0, len(res.Repositories))}
	for _, repo := range res.Repositories {
		out.Nodes = append(out.Nodes, repositoryToNode(repo))
	}
	if resp.NextPage != 0 {
		out.HasNextPage = true
		out.EndCursor = ptr.To(strconv.Itoa(resp.NextPage))
	}
	if resp.Rate.Limit > 0 {
		out.RateLimit = &RateLimit{
			Limit:     resp.Rate.Limit,
			Cost:      1,
			Remaining: resp.Rate.Remaining,
			ResetAt:   resp.Rate.Reset.Time,
		}
	}
	span.SetAttributes(attribute.Int("nodes_len", len(out.Nodes)))
	return out, nil
}

func classifyRESTError(err error, resp *github.Response) error {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return &RateLimitError{Message: rle.Message, ResetAt: rle.Rate.Reset.Time, Err: err}
	}
	var are *github.AbuseRateLimitError
	if errors.As(err, &are) {
		var reset time.Time
		if d := are.GetRetryAfter(); d > 0 {
			reset = time.Now().Add(d).UTC()
		}
		return &RateLimitError{Message: are.Message, ResetAt: reset, Err: err}
	}
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Message: resp.Status, ResetAt: resetFromHeader(resp.Header, time.Now()), Err: err}
	}
	if isRateLimitMessage(err.Error()) {
		return &RateLimitError{Message: err.Error(), Err: err}
	}
	return err
}

func repositoryToNode(r *github.Repository) Node {
	return Node{
		ID:              r.GetNodeID(),
		Name:            r.GetName(),
		OwnerLogin:      r.GetOwner().GetLogin(),
		NameWithOwner:   r.GetFullName(),
		Description:     r.Description,
		URL:             r.GetHTMLURL(),
		CreatedAt:       timestamp(r.CreatedAt),
		UpdatedAt:       timestamp(r.UpdatedAt),
		PushedAt:        timestamp(r.PushedAt),
		PrimaryLanguage: r.Language,
		IsPrivate:       r.GetPrivate(),
		IsFork:          r.GetFork(),
		IsArchived:      r.GetArchived(),
		StargazerCount:  r.GetStargazersCount(),
	}
}

func timestamp(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	return ptr.To(ts.UTC())
}
