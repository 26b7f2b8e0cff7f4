// Package observability — metrics.go
//
// Prometheus metrics for the node-manager daemon.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: node_manager_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - State labels use the string state name (6 policy states max).
//   - Policy id is NOT used as a label (unbounded cardinality; one daemon
//     can host an arbitrary number of BMC-owned policies per domain).
//   - Per-component metrics are aggregated to domain level before
//     recording, except where a component id is itself bounded (RAPL
//     domain, max 4 values).
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for node-manager.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Reading bus ──────────────────────────────────────────────────────────

	// ReadingsPublishedTotal counts readings published to the bus.
	// Labels: reading_type
	ReadingsPublishedTotal *prometheus.CounterVec

	// ReadingsStaleTotal counts readings served stale (no fresh sample this tick).
	ReadingsStaleTotal *prometheus.CounterVec

	// ─── Triggers ─────────────────────────────────────────────────────────────

	// TriggerActionsTotal counts trigger action deliveries, by trigger type
	// and action (trigger, deactivate, missing_reading).
	TriggerActionsTotal *prometheus.CounterVec

	// ActiveTriggers is the current number of installed trigger instances.
	ActiveTriggers prometheus.Gauge

	// ─── Policy state machine ─────────────────────────────────────────────────

	// PolicyStateTransitionsTotal counts state transitions.
	// Labels: domain, from_state, to_state
	PolicyStateTransitionsTotal *prometheus.CounterVec

	// PoliciesSelected is the current number of policies in the selected state.
	// Labels: domain
	PoliciesSelected *prometheus.GaugeVec

	// PoliciesByDomain is the current number of policies registered per domain.
	// Labels: domain
	PoliciesByDomain *prometheus.GaugeVec

	// ─── Budgeting / control ───────────────────────────────────────────────────

	// BudgetLimitWatts is the currently enforced RAPL domain limit.
	// Labels: rapl_domain
	BudgetLimitWatts *prometheus.GaugeVec

	// ControlWritesTotal counts sysfs RAPL control writes issued.
	// Labels: rapl_domain, outcome (ok, error)
	ControlWritesTotal *prometheus.CounterVec

	// LimitExceptionActionsTotal counts limit-exception escalation actions taken.
	// Labels: action (log_event, power_off, log_event_and_power_off)
	LimitExceptionActionsTotal *prometheus.CounterVec

	// ─── Tick loop ─────────────────────────────────────────────────────────────

	// TickDurationSeconds records the wall-clock time spent in one cooperative tick.
	TickDurationSeconds prometheus.Histogram

	// TickOverrunsTotal counts ticks that ran longer than the configured
	// tick interval (tick_interval, default 100ms).
	TickOverrunsTotal prometheus.Counter

	// ─── Storage ──────────────────────────────────────────────────────────────

	// LedgerWriteLatency records BoltDB audit-ledger write transaction latency.
	LedgerWriteLatency prometheus.Histogram

	// LedgerEntries is the current number of audit ledger entries.
	LedgerEntries prometheus.Gauge

	// ─── Daemon ────────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the daemon started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all node-manager Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ReadingsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "node_manager",
			Subsystem: "reading",
			Name:      "published_total",
			Help:      "Total readings published to the reading bus, by reading type.",
		}, []string{"reading_type"}),

		ReadingsStaleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "node_manager",
			Subsystem: "reading",
			Name:      "stale_total",
			Help:      "Total reading lookups served a stale (non-fresh) sample, by reading type.",
		}, []string{"reading_type"}),

		TriggerActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "node_manager",
			Subsystem: "trigger",
			Name:      "actions_total",
			Help:      "Total trigger action callbacks delivered, by trigger type and action.",
		}, []string{"trigger_type", "action"}),

		ActiveTriggers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "node_manager",
			Subsystem: "trigger",
			Name:      "active",
			Help:      "Current number of installed trigger instances.",
		}),

		PolicyStateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "node_manager",
			Subsystem: "policy",
			Name:      "state_transitions_total",
			Help:      "Total policy state transitions, by domain, from_state, and to_state.",
		}, []string{"domain", "from_state", "to_state"}),

		PoliciesSelected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "node_manager",
			Subsystem: "policy",
			Name:      "selected",
			Help:      "Current number of policies in the selected (limiting) state, by domain.",
		}, []string{"domain"}),

		PoliciesByDomain: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "node_manager",
			Subsystem: "policy",
			Name:      "registered",
			Help:      "Current number of policies registered, by domain.",
		}, []string{"domain"}),

		BudgetLimitWatts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "node_manager",
			Subsystem: "budgeting",
			Name:      "limit_watts",
			Help:      "Currently enforced RAPL domain power limit, in watts.",
		}, []string{"rapl_domain"}),

		ControlWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "node_manager",
			Subsystem: "control",
			Name:      "writes_total",
			Help:      "Total sysfs RAPL control writes issued, by domain and outcome.",
		}, []string{"rapl_domain", "outcome"}),

		LimitExceptionActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "node_manager",
			Subsystem: "policy",
			Name:      "limit_exception_actions_total",
			Help:      "Total limit-exception escalation actions taken, by action kind.",
		}, []string{"action"}),

		TickDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "node_manager",
			Subsystem: "tick",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one cooperative scheduler tick.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.08, 0.1, 0.2, 0.5},
		}),

		TickOverrunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "node_manager",
			Subsystem: "tick",
			Name:      "overruns_total",
			Help:      "Total ticks whose duration exceeded the configured tick interval.",
		}),

		LedgerWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "node_manager",
			Subsystem: "storage",
			Name:      "ledger_write_latency_seconds",
			Help:      "BoltDB audit ledger write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		LedgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "node_manager",
			Subsystem: "storage",
			Name:      "ledger_entries",
			Help:      "Current number of audit ledger entries in BoltDB.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "node_manager",
			Subsystem: "daemon",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the daemon started.",
		}),
	}

	reg.MustRegister(
		m.ReadingsPublishedTotal,
		m.ReadingsStaleTotal,
		m.TriggerActionsTotal,
		m.ActiveTriggers,
		m.PolicyStateTransitionsTotal,
		m.PoliciesSelected,
		m.PoliciesByDomain,
		m.BudgetLimitWatts,
		m.ControlWritesTotal,
		m.LimitExceptionActionsTotal,
		m.TickDurationSeconds,
		m.TickOverrunsTotal,
		m.LedgerWriteLatency,
		m.LedgerEntries,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// RecordPolicyTransition records one observed from/to edge: it increments
// the transitions counter and adjusts the selected-count gauge. Neither
// Domain.Run nor the daemon's tick loop calls it.
func (m *Metrics) RecordPolicyTransition(domainName, from, to string) {
	m.PolicyStateTransitionsTotal.WithLabelValues(domainName, from, to).Inc()
	if to == "selected" {
		m.PoliciesSelected.WithLabelValues(domainName).Inc()
	}
	if from == "selected" {
		m.PoliciesSelected.WithLabelValues(domainName).Dec()
	}
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails.
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

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
