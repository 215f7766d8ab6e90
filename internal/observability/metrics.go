// Package observability — metrics.go
//
// Prometheus metrics for power-profilesd.
//
// Endpoint: GET /metrics on 127.0.0.1:9099 (configurable via --metrics-addr).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: power_profilesd_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control: labels are bounded, low-cardinality enums (profile
// name, reason, backend kind) — never a requester's bus name or cookie.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric exported by the daemon.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Registry / probe ────────────────────────────────────────────────────

	// BackendsBoundTotal is the current number of bound back-ends, by kind.
	BackendsBoundTotal *prometheus.GaugeVec

	// ProbeOutcomesTotal counts probe() outcomes, by backend name and outcome.
	ProbeOutcomesTotal *prometheus.CounterVec

	// RestartsTotal counts full registry restarts triggered by deferred
	// driver re-probes.
	RestartsTotal prometheus.Counter

	// ─── Arbitration ──────────────────────────────────────────────────────────

	// ActivationsTotal counts transactional activations, by reason and
	// outcome ("success"/"failure").
	ActivationsTotal *prometheus.CounterVec

	// ActivationLatency records transactional activation latency.
	ActivationLatency prometheus.Histogram

	// ActiveProfile is 1 for the currently active profile, 0 for the other
	// two — a gauge vector keyed by profile name.
	ActiveProfile *prometheus.GaugeVec

	// ─── Holds ────────────────────────────────────────────────────────────────

	// HoldsActive is the current number of holds in the registry.
	HoldsActive prometheus.Gauge

	// HoldMutationsTotal counts HoldProfile/ReleaseProfile calls, by
	// operation and outcome.
	HoldMutationsTotal *prometheus.CounterVec

	// ─── External signals ──────────────────────────────────────────────────────

	// ExternalSignalsTotal counts applied external signal callbacks, by
	// signal kind ("power_changed", "battery_changed", "prepare_to_sleep").
	ExternalSignalsTotal *prometheus.CounterVec

	// ─── Daemon ───────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the daemon started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers every power-profilesd Prometheus metric
// on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		BackendsBoundTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "power_profilesd",
			Subsystem: "registry",
			Name:      "backends_bound",
			Help:      "Number of currently bound back-ends, by kind.",
		}, []string{"kind"}),

		ProbeOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "power_profilesd",
			Subsystem: "registry",
			Name:      "probe_outcomes_total",
			Help:      "Total probe() calls, by back-end name and outcome.",
		}, []string{"backend", "outcome"}),

		RestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "power_profilesd",
			Subsystem: "registry",
			Name:      "restarts_total",
			Help:      "Total full registry restarts triggered by deferred re-probes.",
		}),

		ActivationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "power_profilesd",
			Subsystem: "arbiter",
			Name:      "activations_total",
			Help:      "Total transactional activations, by reason and outcome.",
		}, []string{"reason", "outcome"}),

		ActivationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "power_profilesd",
			Subsystem: "arbiter",
			Name:      "activation_latency_seconds",
			Help:      "Transactional activation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		ActiveProfile: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "power_profilesd",
			Subsystem: "arbiter",
			Name:      "active_profile",
			Help:      "1 for the currently active profile, 0 otherwise.",
		}, []string{"profile"}),

		HoldsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "power_profilesd",
			Subsystem: "holds",
			Name:      "active",
			Help:      "Current number of holds in the hold registry.",
		}),

		HoldMutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "power_profilesd",
			Subsystem: "holds",
			Name:      "mutations_total",
			Help:      "Total HoldProfile/ReleaseProfile calls, by operation and outcome.",
		}, []string{"op", "outcome"}),

		ExternalSignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "power_profilesd",
			Subsystem: "external",
			Name:      "signals_total",
			Help:      "Total external signal callbacks applied to back-ends, by kind.",
		}, []string{"kind"}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "power_profilesd",
			Subsystem: "daemon",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the daemon started.",
		}),
	}

	reg.MustRegister(
		m.BackendsBoundTotal,
		m.ProbeOutcomesTotal,
		m.RestartsTotal,
		m.ActivationsTotal,
		m.ActivationLatency,
		m.ActiveProfile,
		m.HoldsActive,
		m.HoldMutationsTotal,
		m.ExternalSignalsTotal,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr. Blocks
// until ctx is cancelled or the server fails. Serves GET /metrics and
// GET /healthz.
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

// updateUptime periodically updates the UptimeSeconds gauge.
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
