// Package metrics exposes Prometheus collectors for the import client.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	submissionsTotal           *prometheus.CounterVec
	reportsTotal               *prometheus.CounterVec
	downgradesTotal            prometheus.Counter
	pollFailuresTotal          prometheus.Counter
	tasksFinalizedTotal        *prometheus.CounterVec
	activeChannels             prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_http_requests_total",
				Help: "Total number of API requests issued, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "importer_http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_submissions_total",
				Help: "Total number of CSV uploads, labeled by result.",
			},
			[]string{"result"},
		)

		reportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_progress_reports_total",
				Help: "Progress reports received, labeled by channel kind and status.",
			},
			[]string{"channel", "status"},
		)

		downgradesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "importer_transport_downgrades_total",
				Help: "Total stream-to-poll downgrades.",
			},
		)

		pollFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "importer_poll_failures_total",
				Help: "Poll ticks whose pull request failed and was retried on the next tick.",
			},
		)

		tasksFinalizedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_tasks_finalized_total",
				Help: "Tasks that reached a terminal outcome, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeChannels = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "importer_active_channels",
				Help: "Number of progress channels currently open.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewRouter mounts /metrics and /healthz.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", Handler())
	return r
}

// Serve exposes NewRouter on addr until ctx ends.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	Init()
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}

// ObserveHTTPRequest increments the API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSubmission counts an upload attempt by result ("accepted", "rejected",
// "network_error" or "invalid_response").
func ObserveSubmission(result string) {
	Init()
	submissionsTotal.WithLabelValues(result).Inc()
}

// ObserveReport counts a progress report delivered by a channel.
func ObserveReport(channel, status string) {
	Init()
	if status == "" {
		status = "unknown"
	}
	reportsTotal.WithLabelValues(channel, status).Inc()
}

// ObserveDowngrade counts a stream-to-poll fallback.
func ObserveDowngrade() {
	Init()
	downgradesTotal.Inc()
}

// ObservePollFailure counts a swallowed poll tick failure.
func ObservePollFailure() {
	Init()
	pollFailuresTotal.Inc()
}

// ObserveFinalized counts a task outcome ("completed" or "error").
func ObserveFinalized(outcome string) {
	Init()
	tasksFinalizedTotal.WithLabelValues(outcome).Inc()
}

// IncActiveChannels increments the open channel gauge.
func IncActiveChannels() {
	Init()
	activeChannels.Inc()
}

// DecActiveChannels decrements the open channel gauge.
func DecActiveChannels() {
	Init()
	activeChannels.Dec()
}
