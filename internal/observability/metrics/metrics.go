package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meaningfill_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"handler", "method", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meaningfill_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"handler", "method"},
	)

	BackendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meaningfill_backend_calls_total",
			Help: "Language model backend calls by provider, mode and outcome.",
		},
		[]string{"provider", "mode", "outcome"},
	)

	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meaningfill_backend_call_duration_seconds",
			Help:    "Latency of language model backend calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"provider", "mode"},
	)

	AssistantReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meaningfill_assistant_replies_total",
			Help: "Assistant replies by outcome (generated or fallback).",
		},
		[]string{"outcome"},
	)

	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meaningfill_pipeline_runs_total",
			Help: "Team pipeline runs by team and outcome.",
		},
		[]string{"team", "outcome"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meaningfill_pipeline_stage_duration_seconds",
			Help:    "Duration of a single team stage.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		},
		[]string{"team", "stage"},
	)

	AnalysisJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meaningfill_analysis_jobs_total",
			Help: "Shadow intent analysis jobs by outcome.",
		},
		[]string{"outcome"},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meaningfill_analysis_job_duration_seconds",
			Help:    "Duration of shadow intent analysis jobs.",
			Buckets: prometheus.DefBuckets,
		},
	)

	HotLeads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meaningfill_hot_leads_total",
			Help: "Sessions that transitioned to hot_lead.",
		},
	)
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveBackendCall records a single language model call.
func ObserveBackendCall(provider, mode, outcome string, duration time.Duration) {
	BackendCalls.WithLabelValues(provider, mode, outcome).Inc()
	BackendDuration.WithLabelValues(provider, mode).Observe(duration.Seconds())
}

// ObserveStage records how long one pipeline stage took.
func ObserveStage(team, stage string, duration time.Duration) {
	PipelineStageDuration.WithLabelValues(team, stage).Observe(duration.Seconds())
}

// ObserveAnalysis records the outcome of a shadow analysis job.
func ObserveAnalysis(outcome string, duration time.Duration) {
	AnalysisJobs.WithLabelValues(outcome).Inc()
	AnalysisDuration.Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
