package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_api_requests_total",
			Help: "Platform API requests, by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	APIRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_api_retries_total",
			Help: "Retried platform API requests, by endpoint.",
		},
		[]string{"endpoint"},
	)

	KeyRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_signing_key_refreshes_total",
			Help: "Signing key fetches, by result.",
		},
		[]string{"result"},
	)

	VideosStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_videos_stored_total",
			Help: "Videos committed to the store, by result (new or updated).",
		},
		[]string{"result"},
	)

	Failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_failures_total",
			Help: "Contained failures, by pipeline stage.",
		},
		[]string{"stage"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archiver_run_duration_seconds",
			Help:    "Duration of a full pass over all creators.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10),
		},
	)
)

// Register adds all collectors to reg. Call once at startup.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		APIRequests, APIRetries, KeyRefreshes, VideosStored, Failures, RunDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
