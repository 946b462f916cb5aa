// Package observability — metrics.go
//
// Prometheus metrics for the ransomwarden agent.
//
// Endpoint: GET /metrics on 127.0.0.1:9090 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: ransomwarden_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Labels use small fixed sets (event kind, detector name, reason).
//   - PID is NOT used as a label (unbounded cardinality).
//   - Per-PID state is aggregated before recording.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for ransomwarden.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Event ingestion ──────────────────────────────────────────────────────

	// EventsProcessedTotal counts ingested events, by kind.
	EventsProcessedTotal *prometheus.CounterVec

	// EventsDroppedTotal counts dropped events, by reason: a full queue or
	// a malformed record.
	// Labels: reason (queue_full, malformed)
	EventsDroppedTotal *prometheus.CounterVec

	// EventQueueDepth is the current in-memory event queue depth.
	EventQueueDepth prometheus.Gauge

	// ─── Detectors ────────────────────────────────────────────────────────────

	// DetectorScoreHistogram records the distribution of per-detector scores.
	// Labels: detector
	DetectorScoreHistogram *prometheus.HistogramVec

	// DetectorEvalsTotal counts detector invocations, by detector name.
	DetectorEvalsTotal *prometheus.CounterVec

	// TrackedPIDs is the current number of PIDs under monitoring.
	TrackedPIDs prometheus.Gauge

	// ─── Correlation ──────────────────────────────────────────────────────────

	// MLScoreHistogram records the distribution of ml scores from the
	// correlation engine, regardless of whether classifier or fallback
	// produced them.
	MLScoreHistogram prometheus.Histogram

	// InferenceFallbackTotal counts correlation engine invocations that used
	// the deterministic fallback instead of the classifier.
	InferenceFallbackTotal prometheus.Counter

	// ─── Decision / quarantine ────────────────────────────────────────────────

	// DecisionTicksTotal counts decision-loop iterations.
	DecisionTicksTotal prometheus.Counter

	// QuarantineActionsTotal counts quarantine actions attempted, by outcome.
	// Labels: action (suspend, release), outcome (success, error)
	QuarantineActionsTotal *prometheus.CounterVec

	// QuarantineCooldownActive is the current size of the per-PID cool-down set.
	QuarantineCooldownActive prometheus.Gauge

	// BudgetTokensRemaining is the current quarantine token bucket level.
	BudgetTokensRemaining prometheus.Gauge

	// ─── Storage ──────────────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB write transaction latency.
	StorageWriteLatency prometheus.Histogram

	// StorageAlertsTotal is the current number of recorded alerts.
	StorageAlertsTotal prometheus.Gauge

	// ─── Control plane ────────────────────────────────────────────────────────

	// ControlRequestsTotal counts control-socket requests, by command.
	ControlRequestsTotal *prometheus.CounterVec

	// ─── Agent ────────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	// startTime records when the agent started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all ransomwarden Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ransomwarden",
			Subsystem: "events",
			Name:      "processed_total",
			Help:      "Total events ingested, by event kind.",
		}, []string{"kind"}),

		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ransomwarden",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total events dropped, by reason.",
		}, []string{"reason"}),

		EventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ransomwarden",
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Current depth of the in-memory event processing queue.",
		}),

		DetectorScoreHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ransomwarden",
			Subsystem: "detector",
			Name:      "score",
			Help:      "Distribution of per-detector scores in [0,1].",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}, []string{"detector"}),

		DetectorEvalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ransomwarden",
			Subsystem: "detector",
			Name:      "evals_total",
			Help:      "Total detector evaluations performed, by detector name.",
		}, []string{"detector"}),

		TrackedPIDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ransomwarden",
			Subsystem: "detector",
			Name:      "tracked_pids",
			Help:      "Current number of PIDs under active monitoring.",
		}),

		MLScoreHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ransomwarden",
			Subsystem: "correlation",
			Name:      "ml_score",
			Help:      "Distribution of correlation engine ml scores in [0,1].",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),

		InferenceFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ransomwarden",
			Subsystem: "correlation",
			Name:      "inference_fallback_total",
			Help:      "Total correlation engine calls that used the deterministic fallback.",
		}),

		DecisionTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ransomwarden",
			Subsystem: "decision",
			Name:      "ticks_total",
			Help:      "Total decision-loop iterations.",
		}),

		QuarantineActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ransomwarden",
			Subsystem: "quarantine",
			Name:      "actions_total",
			Help:      "Total quarantine actions attempted, by action and outcome.",
		}, []string{"action", "outcome"}),

		QuarantineCooldownActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ransomwarden",
			Subsystem: "quarantine",
			Name:      "cooldown_active",
			Help:      "Current number of PIDs in the post-quarantine cool-down set.",
		}),

		BudgetTokensRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ransomwarden",
			Subsystem: "quarantine",
			Name:      "budget_tokens_remaining",
			Help:      "Current token bucket level for quarantine actions.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ransomwarden",
			Subsystem: "sink",
			Name:      "write_latency_seconds",
			Help:      "BoltDB write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		StorageAlertsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ransomwarden",
			Subsystem: "sink",
			Name:      "alerts_recorded",
			Help:      "Current number of alerts recorded in the sink.",
		}),

		ControlRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ransomwarden",
			Subsystem: "control",
			Name:      "requests_total",
			Help:      "Total control-socket requests, by command.",
		}, []string{"command"}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ransomwarden",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.EventsProcessedTotal,
		m.EventsDroppedTotal,
		m.EventQueueDepth,
		m.DetectorScoreHistogram,
		m.DetectorEvalsTotal,
		m.TrackedPIDs,
		m.MLScoreHistogram,
		m.InferenceFallbackTotal,
		m.DecisionTicksTotal,
		m.QuarantineActionsTotal,
		m.QuarantineCooldownActive,
		m.BudgetTokensRemaining,
		m.StorageWriteLatency,
		m.StorageAlertsTotal,
		m.ControlRequestsTotal,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr. Blocks
// until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// ObserveRequest records one control-socket request for the given command.
func (m *Metrics) ObserveRequest(command string) {
	m.ControlRequestsTotal.WithLabelValues(command).Inc()
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
