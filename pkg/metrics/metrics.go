// Package metrics exposes coordinator counters and live state gauges to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "presence"

// Population is read at scrape time.
type Population interface {
	Len() int
}

// SessionCounter is read at scrape time.
type SessionCounter interface {
	Counts() map[string]int
}

type Metrics struct {
	Admissions     prometheus.Counter
	Established    prometheus.Counter
	SessionsEnded  *prometheus.CounterVec
	SignalsRelayed *prometheus.CounterVec
	SignalsDropped *prometheus.CounterVec
	EventsHandled  *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		Admissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_admissions_total",
			Help:      "Pairs moved from absent to initiating.",
		}),
		Established: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_established_total",
			Help:      "Pairs that observed an answer.",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_sessions_ended_total",
			Help:      "Pair sessions reverted to absent, by reason.",
		}, []string{"reason"}),
		SignalsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_relayed_total",
			Help:      "Signaling payloads forwarded, by discriminator.",
		}, []string{"kind"}),
		SignalsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_dropped_total",
			Help:      "Signaling payloads not forwarded, by reason.",
		}, []string{"reason"}),
		EventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_handled_total",
			Help:      "Transport events processed by the coordinator, by type.",
		}, []string{"type"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Admissions,
		m.Established,
		m.SessionsEnded,
		m.SignalsRelayed,
		m.SignalsDropped,
		m.EventsHandled,
	)
	return m
}

// Watch registers gauges that read the participant population and session states on every scrape.
func (m *Metrics) Watch(participants Population, sessions SessionCounter) {
	m.registry.MustRegister(&stateCollector{participants: participants, sessions: sessions})
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var (
	participantsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "participants"),
		"Currently registered participants.",
		nil, nil,
	)
	sessionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "pair_sessions"),
		"Live pair sessions by state.",
		[]string{"state"}, nil,
	)
)

type stateCollector struct {
	participants Population
	sessions     SessionCounter
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- participantsDesc
	ch <- sessionsDesc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(participantsDesc, prometheus.GaugeValue, float64(c.participants.Len()))
	for state, n := range c.sessions.Counts() {
		ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.GaugeValue, float64(n), state)
	}
}
