package oauthflow

import "github.com/prometheus/client_golang/prometheus"

var (
	exchangeStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plinth",
			Name:      "oauth_exchanges_started_total",
			Help:      "Authorization redirects issued by provider.",
		},
		[]string{"provider"},
	)

	exchangeCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plinth",
			Name:      "oauth_exchanges_completed_total",
			Help:      "Token exchanges completed and credentials written, by provider.",
		},
		[]string{"provider"},
	)

	exchangeFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plinth",
			Name:      "oauth_exchanges_failed_total",
			Help:      "Failed callbacks by provider and reason.",
		},
		[]string{"provider", "reason"},
	)
)

func init() {
	prometheus.MustRegister(exchangeStarted, exchangeCompleted, exchangeFailed)
}
