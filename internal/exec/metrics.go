package exec

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-attempt execution observations. Construct with
// NewMetrics and register on an injected registry; there are no package
// globals.
type Metrics struct {
	attempts    *prometheus.CounterVec
	duration    prometheus.Histogram
	priorityFee prometheus.Histogram
	priceImpact prometheus.Histogram
}

// NewMetrics creates and registers the execution metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenbot",
			Subsystem: "exec",
			Name:      "attempts_total",
			Help:      "Execution attempts by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tokenbot",
			Subsystem: "exec",
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of a single execution attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		priorityFee: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tokenbot",
			Subsystem: "exec",
			Name:      "priority_fee",
			Help:      "Priority fee bid per submission, in base units.",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 10),
		}),
		priceImpact: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tokenbot",
			Subsystem: "exec",
			Name:      "price_impact",
			Help:      "Quoted price impact per attempt, as a fraction.",
			Buckets:   prometheus.LinearBuckets(0.005, 0.005, 20),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.attempts, m.duration, m.priorityFee, m.priceImpact)
	}
	return m
}

func (m *Metrics) observeAttempt(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeFee(fee float64) {
	if m == nil {
		return
	}
	m.priorityFee.Observe(fee)
}

func (m *Metrics) observeImpact(impact float64) {
	if m == nil {
		return
	}
	m.priceImpact.Observe(impact)
}
