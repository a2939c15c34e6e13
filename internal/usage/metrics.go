package usage

import "github.com/prometheus/client_golang/prometheus"

var (
	signupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plinth",
			Name:      "signups_total",
			Help:      "First-time signup rows created, by mode.",
		},
		[]string{"mode"},
	)

	statusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plinth",
			Name:      "subscription_status_changes_total",
			Help:      "Provider-driven status transitions applied, by new status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(signupsTotal, statusChangesTotal)
}
