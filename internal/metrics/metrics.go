// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollCycles counts completed odds poll cycles.
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirrormaker_poll_cycles_total",
		Help: "Completed odds poll cycles.",
	})

	// PollErrors counts poll cycles that failed to fetch quotes.
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirrormaker_poll_errors_total",
		Help: "Odds poll cycles that failed.",
	})

	// WagersPlaced counts wagers submitted to the exchange, by kind
	// (pair leg, single-sided, increment).
	WagersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrormaker_wagers_placed_total",
		Help: "Wagers submitted to the exchange.",
	}, []string{"kind"})

	// WagersCancelled counts cancel requests sent for stale unmatched wagers.
	WagersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirrormaker_wagers_cancelled_total",
		Help: "Cancel requests for stale unmatched wagers.",
	})

	// FillsApplied counts fills applied to the ledger.
	FillsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirrormaker_fills_applied_total",
		Help: "Matched-stake increases applied to the ledger.",
	})

	// RiskRejections counts wagers rejected by the risk governor.
	RiskRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirrormaker_risk_rejections_total",
		Help: "Wagers rejected by risk limits.",
	})

	// DriftCorrections counts reconciliation findings that disagreed with
	// local state (vanished wagers, unknown wagers, missed fills).
	DriftCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrormaker_drift_corrections_total",
		Help: "Local state corrections made by reconciliation.",
	}, []string{"kind"})

	// ExposureTotal gauges current worst-case exposure across all lines.
	ExposureTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mirrormaker_exposure_total_dollars",
		Help: "Total stake at risk across all lines.",
	})

	// TrackedPairs gauges the number of quote pairs under observation.
	TrackedPairs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mirrormaker_tracked_pairs",
		Help: "Quote pairs currently tracked.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
