package github

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// NewRequestLimiter returns a limiter pacing GitHub calls to rps requests per
// second. A non-positive rps disables pacing.
func NewRequestLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		slog.Info("GitHub request pacing disabled")
		return rate.NewLimiter(rate.Inf, 1)
	}
	slog.Info("Created GitHub request limiter", "rate", rps, "burst", 1)
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// ClientOptions configures the GitHub executors.
type ClientOptions struct {
	token      string
	baseURL    string
	limiter    *rate.Limiter
	httpClient *http.Client
}

// ClientOption applies a configuration to ClientOptions.
type ClientOption func(*ClientOptions)

// WithToken sets the personal access token for authenticated requests.
func WithToken(token string) ClientOption {
	return func(o *ClientOptions) { o.token = token }
}

// WithLimiter sets the limiter used to pace API calls.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(o *ClientOptions) { o.limiter = l }
}

// WithBaseURL points the executor at another API endpoint, such as GitHub
// Enterprise or a test server.
func WithBaseURL(u string) ClientOption {
	return func(o *ClientOptions) { o.baseURL = u }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *ClientOptions) { o.httpClient = c }
}

func newClientOptions(opts []ClientOption) ClientOptions {
	var o ClientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.limiter == nil {
		o.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if o.httpClient == nil {
		o.httpClient = http.DefaultClient
	}
	return o
}

// tracedClient returns a copy of the configured HTTP client whose transport
// records a client span per request.
func (o ClientOptions) tracedClient() *http.Client {
	hc := *o.httpClient
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = otelhttp.NewTransport(base)
	return &hc
}

// authenticatedClient wraps the traced HTTP client with a static token source.
func (o ClientOptions) authenticatedClient(ctx context.Context) *http.Client {
	if o.token == "" {
		slog.Warn("Using unauthenticated GitHub client (rate limited)")
		return o.tracedClient()
	}
	slog.Info("Using authenticated GitHub client")
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.tracedClient())
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: o.token}))
}
