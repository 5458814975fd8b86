package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(failureActionsTotal, refundsTotal) }

var (
	// action: retried|user_notified|admin_alerted|marked_failed|cleanup_completed
	failureActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_failure_actions_total",
			Help: "Actions taken by the failure classifier.",
		},
		[]string{"action"},
	)

	refundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Refund requests by resulting status.",
		},
		[]string{"status"},
	)
)

func IncFailureAction(action string) {
	failureActionsTotal.WithLabelValues(norm(action)).Inc()
}

func IncRefund(status string) {
	refundsTotal.WithLabelValues(norm(status)).Inc()
}
