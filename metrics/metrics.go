// Package metrics exposes Prometheus collectors for snapshot generations.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Generation counters by outcome ("completed", "stopped", "failed")
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stacksnap_generations_total",
		Help: "Total number of snapshot generations by outcome",
	}, []string{"outcome"})

	// Generation duration histogram
	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stacksnap_generation_duration_seconds",
		Help:    "Duration of snapshot generations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	ThreadsWalked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stacksnap_threads_walked_total",
		Help: "Threads whose frame list was completed",
	})

	WalkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stacksnap_walk_failures_total",
		Help: "Stack walks that returned an error",
	})

	FramesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stacksnap_frames_published_total",
		Help: "Frame nodes handed to the consumer",
	})
)

const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeFailed    = "failed"
)

// ObserveGeneration records the outcome and duration of one generation
func ObserveGeneration(outcome string, started time.Time) {
	GenerationsTotal.WithLabelValues(outcome).Inc()
	GenerationDuration.Observe(time.Since(started).Seconds())
}

// Serve exposes the default registry on addr under /metrics until ctx is done
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
