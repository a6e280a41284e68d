package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for conversation handling.
type EngineMetrics struct {
	eventsTotal       *prometheus.CounterVec
	blockedTotal      *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	actionsTotal      *prometheus.CounterVec
	responsesTotal    *prometheus.CounterVec
	deliveriesTotal   *prometheus.CounterVec
	conflictsTotal    prometheus.Counter
	handleLatency     *prometheus.HistogramVec
	generationLatency prometheus.Histogram
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reengage",
			Subsystem: "conversation",
			Name:      "events_total",
			Help:      "Inbound events handled, by kind and outcome",
		}, []string{"kind", "outcome"}),
		blockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reengage",
			Subsystem: "compliance",
			Name:      "blocked_total",
			Help:      "Automated sends refused by the compliance gate",
		}, []string{"reason"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reengage",
			Subsystem: "conversation",
			Name:      "transitions_total",
			Help:      "State transitions applied",
		}, []string{"from", "to"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reengage",
			Subsystem: "nba",
			Name:      "actions_total",
			Help:      "Next-best actions planned",
		}, []string{"kind"}),
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reengage",
			Subsystem: "response",
			Name:      "responses_total",
			Help:      "Responses produced, by source",
		}, []string{"source"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reengage",
			Subsystem: "messaging",
			Name:      "deliveries_total",
			Help:      "Outbound deliveries, by channel and status",
		}, []string{"channel", "status"}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reengage",
			Subsystem: "conversation",
			Name:      "version_conflicts_total",
			Help:      "Optimistic persistence conflicts",
		}),
		handleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reengage",
			Subsystem: "conversation",
			Name:      "handle_latency_seconds",
			Help:      "Latency of Handle, by event kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reengage",
			Subsystem: "response",
			Name:      "generation_latency_seconds",
			Help:      "Latency of the response pipeline",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.eventsTotal, m.blockedTotal, m.transitionsTotal, m.actionsTotal,
		m.responsesTotal, m.deliveriesTotal, m.conflictsTotal,
		m.handleLatency, m.generationLatency,
	)
	return m
}

func (m *EngineMetrics) ObserveEvent(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind, outcome).Inc()
	m.handleLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *EngineMetrics) ObserveBlocked(reason string) {
	if m == nil {
		return
	}
	m.blockedTotal.WithLabelValues(reason).Inc()
}

func (m *EngineMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *EngineMetrics) ObserveAction(kind string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(kind).Inc()
}

func (m *EngineMetrics) ObserveResponse(source string, seconds float64) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(source).Inc()
	m.generationLatency.Observe(seconds)
}

func (m *EngineMetrics) ObserveDelivery(channel, status string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(channel, status).Inc()
}

func (m *EngineMetrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflictsTotal.Inc()
}
