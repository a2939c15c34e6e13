package billing

import "github.com/prometheus/client_golang/prometheus"

var (
	checkoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plinth",
			Name:      "checkout_sessions_total",
			Help:      "Checkout-session creation attempts by mode and result.",
		},
		[]string{"mode", "result"},
	)

	portalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plinth",
			Name:      "portal_sessions_total",
			Help:      "Billing-portal session creation attempts by mode and result.",
		},
		[]string{"mode", "result"},
	)
)

func init() {
	prometheus.MustRegister(checkoutTotal, portalTotal)
}
