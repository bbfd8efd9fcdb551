package clanbot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "clanbot"

const (
	resultOK    = "ok"
	resultError = "error"
	resultUser  = "rejected"
)

type metrics struct {
	registry *prometheus.Registry

	interactions   *prometheus.CounterVec
	operations     *prometheus.CounterVec
	failures       *prometheus.CounterVec
	sessionsOpen   prometheus.Gauge
	sessionsEnded  *prometheus.CounterVec
	cascades       *prometheus.CounterVec
	gatewayConnect prometheus.Counter
	gatewayDrop    prometheus.Counter
}

// newMetrics registers the bot's collectors on a dedicated registry, so
// multiple bots (in tests) don't collide on the default one
func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		interactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "interactions_total",
				Help:      "Interactions received, by type.",
			},
			[]string{"type"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "clan_operations_total",
				Help:      "Clan operations, by operation and result.",
			},
			[]string{"operation", "result"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "failures_total",
				Help:      "Unexpected external or storage failures, by kind.",
			},
			[]string{"kind"},
		),
		sessionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_open",
				Help:      "Interactive sessions currently open.",
			},
		),
		sessionsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_ended_total",
				Help:      "Interactive sessions ended, by purpose and final state.",
			},
			[]string{"purpose", "state"},
		),
		cascades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cascades_total",
				Help:      "Rows removed or updated in response to gateway deletions.",
			},
			[]string{"trigger", "target"},
		),
		gatewayConnect: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gateway_connects_total",
				Help:      "Discord gateway connections.",
			},
		),
		gatewayDrop: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gateway_disconnects_total",
				Help:      "Discord gateway disconnections.",
			},
		),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.interactions,
		m.operations,
		m.failures,
		m.sessionsOpen,
		m.sessionsEnded,
		m.cascades,
		m.gatewayConnect,
		m.gatewayDrop,
	)
	return m
}

// observeOperation counts an orchestrator operation by its outcome
func (m *metrics) observeOperation(operation string, err error) {
	if m == nil {
		return
	}
	result := resultOK
	switch {
	case err == nil:
	case isUserError(err):
		result = resultUser
	default:
		result = resultError
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *metrics) observeInteraction(interactionType string) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(interactionType).Inc()
}

func (m *metrics) observeFailure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *metrics) observeCascade(trigger, target string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cascades.WithLabelValues(trigger, target).Add(float64(n))
}
