package internal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts account and transport activity.
type Metrics struct {
	signups     prometheus.Counter
	logins      prometheus.Counter
	activeConns prometheus.Gauge
	dropped     prometheus.Counter
	inbound     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		signups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "signups_total",
			Help:      "Accounts created.",
		}),
		logins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "logins_total",
			Help:      "Successful logins.",
		}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle",
			Subsystem: "transport",
			Name:      "active_connections",
			Help:      "Open websocket connections.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "transport",
			Name:      "dropped_total",
			Help:      "Connections dropped because their send buffer was full.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "transport",
			Name:      "inbound_events_total",
			Help:      "Inbound websocket events by name.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(m.signups, m.logins, m.activeConns, m.dropped, m.inbound)
	}
	return m
}

func (m *Metrics) IncSignup() {
	if m == nil {
		return
	}
	m.signups.Inc()
}

func (m *Metrics) IncLogin() {
	if m == nil {
		return
	}
	m.logins.Inc()
}

func (m *Metrics) IncConn() {
	if m == nil {
		return
	}
	m.activeConns.Inc()
}

func (m *Metrics) DecConn() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) IncInbound(event string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(event).Inc()
}
