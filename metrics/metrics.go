// Package metrics registers the engine's Prometheus collectors and serves
// them next to a health endpoint.
package metrics

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScenarioRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cityflow_engine_scenario_runs_total",
		Help: "Total number of scenario simulations by type and method.",
	}, []string{"scenario_type", "method"})
	ScenarioFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cityflow_engine_scenario_failures_total",
		Help: "Total number of scenario simulations that returned an error, by reason.",
	}, []string{"reason"})
	ScenarioDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cityflow_engine_scenario_duration_seconds",
		Help:    "Duration of a scenario simulation.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	})
	ModelFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cityflow_engine_model_fallbacks_total",
		Help: "Total number of segment refinements that fell back to the formula.",
	})
	ModelReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cityflow_engine_model_reloads_total",
		Help: "Total number of density model reload attempts by result.",
	}, []string{"result"})

	SnapshotsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cityflow_engine_snapshots_stored_total",
		Help: "Total number of risk snapshots appended.",
	})
	ForecastsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cityflow_engine_forecasts_stored_total",
		Help: "Total number of forecast samples appended.",
	})
	CycleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cityflow_engine_cycle_failures_total",
		Help: "Total number of aggregation cycles that failed.",
	})
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cityflow_engine_cycle_duration_seconds",
		Help:    "Duration of a full aggregation cycle.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
	})

	CountsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cityflow_collector_messages_received_total",
		Help: "Total number of MQTT messages received by collector.",
	})
	CountsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cityflow_collector_messages_stored_total",
		Help: "Total number of traffic counts successfully stored.",
	})
	CountsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cityflow_collector_messages_failed_total",
		Help: "Total number of messages rejected or failed to store.",
	})
)

// Handler returns a mux exposing /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	return mux
}

// Serve blocks serving Handler on addr.
func Serve(addr string) {
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("metrics server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("metrics server failed: %v", err)
	}
}
