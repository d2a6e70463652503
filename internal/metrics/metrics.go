package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "registrations_total", Help: "Registrations accepted, by payment method and durability"},
		[]string{"method", "durability"},
	)
	Verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "payment_verifications_total", Help: "Gateway finalize results, by gateway and status"},
		[]string{"gateway", "status"},
	)
	ProofTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "payment_proof_transitions_total", Help: "Manual proof submissions and reviews, by resulting status"},
		[]string{"status"},
	)
	BulkOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "admin_bulk_outcomes_total", Help: "Per-team results of bulk admin operations"},
		[]string{"op", "result"},
	)
	BufferedRegistrations = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "registrations_pending_sync", Help: "Registrations held in the local buffer"},
	)
	ProcessedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sync_processed_total", Help: "Total processed outbox events"},
	)
	FailedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sync_failed_total", Help: "Total failed outbox events"},
	)
	DLQEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sync_dlq_total", Help: "Total events inserted into DLQ"},
	)
)

func Register() {
	prometheus.MustRegister(
		Registrations,
		Verifications,
		ProofTransitions,
		BulkOutcomes,
		BufferedRegistrations,
		ProcessedEvents,
		FailedEvents,
		DLQEvents,
	)
}
