package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		allocationsTotal,
		creditsAllocatedTotal,
		reconcileTotal,
	)
}

var (
	// result: allocated|duplicate|manual|error
	allocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_allocations_total",
			Help: "Credit allocation attempts by result.",
		},
		[]string{"result"},
	)

	creditsAllocatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_allocated_total",
			Help: "Sum of credits written to the ledger by the allocation service.",
		},
	)

	// outcome: applied|skipped|not_found
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_total",
			Help: "Reconciler outcomes for observed provider statuses.",
		},
		[]string{"outcome"},
	)
)

func IncAllocation(result string) {
	allocationsTotal.WithLabelValues(norm(result)).Inc()
}

func AddCreditsAllocated(amount float64) {
	creditsAllocatedTotal.Add(amount)
}

func IncReconcile(outcome string) {
	reconcileTotal.WithLabelValues(norm(outcome)).Inc()
}
