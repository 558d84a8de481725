package presence

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report engine activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	transitions      *prometheus.CounterVec
	usersOnline      prometheus.Gauge
	resolverFailures prometheus.Counter
	clamps           *prometheus.CounterVec
	fanoutDuration   prometheus.Histogram
}

// MustNewMetrics registers the engine collectors with reg. It panics when
// registration fails, like the promauto helpers do.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "presence",
			Name:      "transitions_total",
			Help:      "Online and offline transitions observed by the tracker.",
		}, []string{"kind"}),
		usersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle",
			Subsystem: "presence",
			Name:      "users_online",
			Help:      "Users holding at least one open connection.",
		}),
		resolverFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "presence",
			Name:      "resolver_failures_total",
			Help:      "Membership lookups that failed and skipped group fan-out.",
		}),
		clamps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "presence",
			Name:      "counter_clamps_total",
			Help:      "Decrements that would have taken a counter below zero.",
		}, []string{"ledger"}),
		fanoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "huddle",
			Subsystem: "presence",
			Name:      "fanout_duration_seconds",
			Help:      "Time spent resolving and publishing one transition.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.transitions, m.usersOnline, m.resolverFailures, m.clamps, m.fanoutDuration)
	return m
}

func (m *Metrics) IncTransition(kind Kind) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) SetUsersOnline(n int) {
	if m == nil {
		return
	}
	m.usersOnline.Set(float64(n))
}

func (m *Metrics) IncResolverFailure() {
	if m == nil {
		return
	}
	m.resolverFailures.Inc()
}

func (m *Metrics) IncClamp(ledger string) {
	if m == nil {
		return
	}
	m.clamps.WithLabelValues(ledger).Inc()
}

func (m *Metrics) ObserveFanout(d time.Duration) {
	if m == nil {
		return
	}
	m.fanoutDuration.Observe(d.Seconds())
}
