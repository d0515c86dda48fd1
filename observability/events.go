package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"tipjar/core/events"
)

// EventMetrics counts ledger events and tracks live stream subscribers.
type EventMetrics struct {
	emitted     *prometheus.CounterVec
	subscribers prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking structured ledger events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tipjar",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of ledger events segmented by type.",
			}, []string{"type"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tipjar",
				Subsystem: "events",
				Name:      "stream_subscribers",
				Help:      "Websocket clients currently streaming ledger events.",
			}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.subscribers)
	})
	return eventRegistry
}

// Emit implements events.Emitter by counting the event type.
func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	normalized := strings.TrimSpace(evt.EventType())
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// SubscriberJoined increments the live subscriber gauge.
func (m *EventMetrics) SubscriberJoined() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

// SubscriberLeft decrements the live subscriber gauge.
func (m *EventMetrics) SubscriberLeft() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}
