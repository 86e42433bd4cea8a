package metrics

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"beacon/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CycleRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_cycle_runs_total",
		Help: "Total social/thought cycle runs",
	}, []string{"cycle"})
	CycleErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_cycle_errors_total",
		Help: "Total social/thought cycle errors",
	}, []string{"cycle"})
	CycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beacon_cycle_duration_seconds",
		Help:    "Cycle duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"cycle"})
	ActionsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_actions_dispatched_total",
		Help: "Dispatched actions by type and outcome",
	}, []string{"type", "outcome"})
	PendingActions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_pending_actions",
		Help: "Actions waiting in the scheduler delay queue",
	})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_thought_queue_depth",
		Help: "Thoughts waiting for their due time",
	})
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_cache_lookups_total",
		Help: "TTL cache lookups by cache and result",
	}, []string{"cache", "result"})
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_token_refreshes_total",
		Help: "OAuth token refresh attempts by result",
	}, []string{"result"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(
		CycleRuns, CycleErrors, CycleDuration,
		ActionsDispatched, PendingActions, QueueDepth,
		CacheLookups, TokenRefreshes, APIRetries,
		CommandRuns, CommandErrors,
	)
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090") and stops it when ctx ends.
// An empty addr falls back to METRICS_ADDR; if both are empty nothing is started.
func StartServer(ctx context.Context, addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	srv := &http.Server{Addr: addr, Handler: Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics_server_error", map[string]any{"addr": addr, "error": err.Error()})
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// ObserveCycle records a cycle duration.
func ObserveCycle(cycle string, start time.Time) {
	CycleDuration.WithLabelValues(cycle).Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }

// IncCache records a cache lookup result: hit, miss, stale or empty.
func IncCache(cache, result string) { CacheLookups.WithLabelValues(cache, result).Inc() }

// IncDispatch records a scheduler dispatch outcome.
func IncDispatch(actionType, outcome string) {
	ActionsDispatched.WithLabelValues(actionType, outcome).Inc()
}

func IncTokenRefresh(result string) { TokenRefreshes.WithLabelValues(result).Inc() }
