package connector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/1ureka/rtcsig/internal/util"
)

// Metrics holds the prometheus collectors of one Connector.
type Metrics struct {
	dials      prometheus.Counter
	refused    prometheus.Counter
	timeouts   prometheus.Counter
	errors     prometheus.Counter
	closes     prometheus.Counter
	reconnects prometheus.Counter
	messages   *prometheus.CounterVec
	queued     prometheus.Gauge
	phase      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	const subsystem = "connector"

	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		dials:      counter("dials_total", "Dial attempts started"),
		refused:    counter("refused_connects_total", "Connect calls refused while already connecting"),
		timeouts:   counter("timeouts_total", "Dial attempts that hit the connect timeout"),
		errors:     counter("errors_total", "Transport errors"),
		closes:     counter("closes_total", "Clean closes"),
		reconnects: counter("reconnects_total", "Reconnect cycles scheduled"),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_total",
			Help:      "Messages by outcome (sent, received, queued, dropped, malformed)",
		}, []string{"outcome"}),
		queued: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_length",
			Help:      "Messages waiting for the link to open",
		}),
		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase",
			Help:      "1 for the current connector phase, 0 otherwise",
		}, []string{"phase"}),
	}
}

func (m *Metrics) setPhase(p Phase) {
	for _, each := range allPhases {
		v := 0.0
		if each == p {
			v = 1
		}
		m.phase.WithLabelValues(string(each)).Set(v)
	}
}

func (m *Metrics) sent(n int) {
	m.messages.WithLabelValues("sent").Inc()
	util.Stats.AddSent(n)
}

func (m *Metrics) received(n int) {
	m.messages.WithLabelValues("received").Inc()
	util.Stats.AddRecv(n)
}

func (m *Metrics) count(outcome string) {
	m.messages.WithLabelValues(outcome).Inc()
}
