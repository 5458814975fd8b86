package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhookRequestsTotal) }

// result: accepted|invalid_signature|bad_payload|not_found|error
var webhookRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_requests_total",
		Help: "Provider webhook deliveries by provider and result.",
	},
	[]string{"provider", "result"},
)

func IncWebhook(provider, result string) {
	webhookRequestsTotal.WithLabelValues(norm(provider), norm(result)).Inc()
}
