package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/coda-voice/coda-go-sdk/events"
)

// Metrics groups the Prometheus instruments exposed by the daemon.
type Metrics struct {
	TurnsTotal      *prometheus.CounterVec
	MemoriesStored  *prometheus.CounterVec
	Retrievals      prometheus.Counter
	RetrievedItems  prometheus.Counter
	EventDrops      prometheus.Counter
	WSClients       prometheus.Gauge
	LongTermRecords prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Conversation turns ingested, by role.",
		}, []string{"role"}),
		MemoriesStored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_stored_total",
			Help:      "Long-term memory records written, by source type.",
		}, []string{"source_type"}),
		Retrievals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_retrievals_total",
			Help:      "Relevance retrieval operations.",
		}),
		RetrievedItems: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_retrieved_items_total",
			Help:      "Memory records returned across all retrievals.",
		}),
		EventDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_drops_total",
			Help:      "Dashboard events dropped on slow websocket clients.",
		}),
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected dashboard websocket clients.",
		}),
		LongTermRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "long_term_records",
			Help:      "Records currently held in long-term memory.",
		}),
	}
}

// Sink adapts the metrics to the event stream, so the daemon counts
// the same operations the dashboard sees.
func (m *Metrics) Sink() events.Sink {
	return metricsSink{m: m}
}

type metricsSink struct {
	m *Metrics
}

func (s metricsSink) Emit(e events.Event) {
	switch e.Type {
	case events.TypeConversationTurn:
		if p, ok := e.Payload.(events.ConversationTurn); ok {
			s.m.TurnsTotal.WithLabelValues(p.Role).Inc()
		}
	case events.TypeMemoryStore:
		if p, ok := e.Payload.(events.MemoryStore); ok {
			s.m.MemoriesStored.WithLabelValues(p.MemoryType).Inc()
		}
	case events.TypeMemoryRetrieve:
		s.m.Retrievals.Inc()
		if p, ok := e.Payload.(events.MemoryRetrieve); ok {
			s.m.RetrievedItems.Add(float64(p.ResultCount))
		}
	}
}
