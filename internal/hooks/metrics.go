package hooks

import "github.com/prometheus/client_golang/prometheus"

var eventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "plinth",
		Name:      "webhook_events_total",
		Help:      "Provider webhook events received, by type and outcome.",
	},
	[]string{"type", "result"},
)

func init() {
	prometheus.MustRegister(eventsTotal)
}
