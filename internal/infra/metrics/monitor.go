package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		monitorCyclesTotal,
		monitorChecksTotal,
		monitorCycleDuration,
	)
}

var (
	monitorCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_cycles_total",
			Help: "Completed monitoring loop cycles.",
		},
	)

	// result: ok|unreachable|skipped
	monitorChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_payment_checks_total",
			Help: "Per-payment provider checks by result.",
		},
		[]string{"result"},
	)

	monitorCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monitor_cycle_duration_seconds",
			Help:    "Monitoring cycle wall time.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

func IncMonitorCycle() { monitorCyclesTotal.Inc() }

func IncMonitorCheck(result string) { monitorChecksTotal.WithLabelValues(norm(result)).Inc() }

func ObserveMonitorCycle(secs float64) { monitorCycleDuration.Observe(secs) }
