// Package metrics exposes crawl counters over the Prometheus exposition format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const namespace = "starcrawl"

// Fetch outcomes used as the "outcome" label of FetchesTotal.
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeFailure     = "failure"
	OutcomeStoreError  = "store_error"
)

var (
	// FetchesTotal counts executor calls by outcome.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "fetches_total",
		Help:      "Search page fetches by outcome",
	}, []string{"outcome"})

	RepositoriesCrawled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "repositories_total",
		Help:      "Repositories persisted by the crawler",
	})

	MalformedNodes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "malformed_nodes_total",
		Help:      "Search result nodes skipped for missing required fields",
	})

	Rotations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "rotations_total",
		Help:      "Moves to the next search filter",
	})

	// BudgetWaitSeconds accumulates time spent sleeping for the local budget
	// window to reset.
	BudgetWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "budget",
		Name:      "wait_seconds_total",
		Help:      "Seconds spent waiting for the rate budget window to reset",
	})

	BudgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "budget",
		Name:      "remaining_points",
		Help:      "Points left in the current local budget window",
	})

	// GitHubRateRemaining mirrors the remaining points GitHub reports.
	GitHubRateRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "github",
		Name:      "rate_remaining_points",
		Help:      "Remaining rate limit points reported by GitHub",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "crawler",
		Name:      "batch_duration_seconds",
		Help:      "Time to fetch and persist one batch",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
)

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "metrics.server"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
