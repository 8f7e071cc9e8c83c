package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coupon_breaker_state",
			Help: "Current breaker state: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_breaker_transition_total",
			Help: "Count of breaker state transitions",
		},
		[]string{"target", "from", "to"},
	)
	breakerOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_breaker_open_total",
			Help: "Number of times a breaker opened",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(breakerState, breakerTransitions, breakerOpened)
}
