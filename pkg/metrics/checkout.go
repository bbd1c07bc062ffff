package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Checkout outcome labels.
const (
	OutcomePending      = "pending"
	OutcomeSettled      = "settled"
	OutcomeDeclined     = "declined"
	OutcomeFailed       = "failed"
	OutcomeInvalid      = "invalid"
	OutcomeUnconfigured = "unconfigured"
)

// CheckoutMetrics records checkout attempts per provider and outcome.
type CheckoutMetrics struct {
	attempts       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	recordFailures prometheus.Counter
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_attempts_total",
		Help: "Checkout attempts by payment provider and terminal outcome.",
	}, []string{"provider", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "Duration of checkout attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	recordFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_record_failures_total",
		Help: "Settled payments whose transaction record could not be written.",
	})
	reg.MustRegister(attempts, duration, recordFailures)
	return &CheckoutMetrics{
		attempts:       attempts,
		duration:       duration,
		recordFailures: recordFailures,
	}
}

// ObserveAttempt counts one finished attempt and records how long it took.
func (c *CheckoutMetrics) ObserveAttempt(provider, outcome string, duration time.Duration) {
	if c == nil || c.attempts == nil {
		return
	}
	provider = normalizeLabel(provider)
	c.attempts.WithLabelValues(provider, normalizeLabel(outcome)).Inc()
	c.duration.WithLabelValues(provider).Observe(duration.Seconds())
}

// IncRecordFailure counts a transaction record that failed after settlement.
func (c *CheckoutMetrics) IncRecordFailure() {
	if c == nil || c.recordFailures == nil {
		return
	}
	c.recordFailures.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
