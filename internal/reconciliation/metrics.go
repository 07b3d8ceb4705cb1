package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapshift",
		Subsystem: "reconciliation",
		Name:      "outcomes_total",
		Help:      "Payment confirmations by outcome (confirmed, already_processed, not_paid, or the error code).",
	}, []string{"outcome"})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zapshift",
		Subsystem: "reconciliation",
		Name:      "duration_seconds",
		Help:      "Duration of a single payment confirmation.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	ledgerHeals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapshift",
		Subsystem: "reconciliation",
		Name:      "ledger_heals_total",
		Help:      "Payment records written for parcels that were already marked paid.",
	})

	duplicateCharges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapshift",
		Subsystem: "reconciliation",
		Name:      "duplicate_charges_total",
		Help:      "Paid sessions for parcels already paid by a different session.",
	})

	repairUnrecorded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zapshift",
		Subsystem: "reconciliation",
		Name:      "unrecorded_paid_parcels",
		Help:      "Paid parcels without a payment record found in the last repair sweep.",
	})

	repairErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapshift",
		Subsystem: "reconciliation",
		Name:      "repair_errors_total",
		Help:      "Parcels the repair sweep could not fix.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileOutcomes,
		reconcileDuration,
		ledgerHeals,
		duplicateCharges,
		repairUnrecorded,
		repairErrors,
	)
}
