package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CouponRankingTotal counts applicability rankings by outcome.
	CouponRankingTotal *prometheus.CounterVec
	// CouponRankingSize records how many coupons a ranking returned.
	CouponRankingSize prometheus.Histogram
	// CouponApplyTotal counts coupon applications by rule kind and outcome.
	CouponApplyTotal *prometheus.CounterVec
	// CouponDiscountAmount records the total discount granted per application.
	CouponDiscountAmount *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers coupon Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CouponRankingTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_rankings_total",
			Help:      "Count of applicable-coupon rankings by outcome.",
		}, []string{"result"})
		CouponRankingSize = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "coupon_ranking_size",
			Help:      "Number of coupons returned per ranking.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		})
		CouponApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_applications_total",
			Help:      "Count of coupon applications by rule kind and outcome.",
		}, []string{"kind", "result"})
		CouponDiscountAmount = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "coupon_discount_amount",
			Help:      "Total discount granted per successful application.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"kind"})

		mustRegisterCollector(reg, CouponRankingTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CouponRankingTotal = v
			}
		})
		mustRegisterCollector(reg, CouponRankingSize, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				CouponRankingSize = v
			}
		})
		mustRegisterCollector(reg, CouponApplyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CouponApplyTotal = v
			}
		})
		mustRegisterCollector(reg, CouponDiscountAmount, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				CouponDiscountAmount = v
			}
		})
	})
}

// ObserveRanking records one ranking. No-op until metrics are registered.
func ObserveRanking(result string, size int) {
	if CouponRankingTotal != nil {
		CouponRankingTotal.WithLabelValues(result).Inc()
	}
	if CouponRankingSize != nil && result == "ok" {
		CouponRankingSize.Observe(float64(size))
	}
}

// ObserveApply records one application. No-op until metrics are registered.
func ObserveApply(kind, result string, discount float64) {
	if kind == "" {
		kind = "unknown"
	}
	if CouponApplyTotal != nil {
		CouponApplyTotal.WithLabelValues(kind, result).Inc()
	}
	if CouponDiscountAmount != nil && result == "ok" {
		CouponDiscountAmount.WithLabelValues(kind).Observe(discount)
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
