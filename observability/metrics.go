// Package observability exposes relay activity as Prometheus metrics.
package observability

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics is a permanent event sink: it sees every event the relay publishes
// and keeps counters and gauges in its own registry.
type Metrics struct {
	registry *prometheus.Registry

	connections   prometheus.Gauge
	onlineUsers   prometheus.Gauge
	accepted      prometheus.Counter
	payloadBytes  prometheus.Histogram
	terminal      *prometheus.CounterVec
	presenceFlips *prometheus.CounterVec
	cpuPercent    prometheus.Gauge
	rssBytes      prometheus.Gauge
	goroutines    prometheus.Gauge
	queueLength   *prometheus.GaugeVec
	queueCapacity *prometheus.GaugeVec

	mu     sync.Mutex
	online map[domain.UserID]struct{}
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live registered connections.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users holding at least one live connection.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_accepted_total",
			Help:      "Messages that were allocated an id.",
		}),
		payloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_payload_bytes",
			Help:      "Payload size of accepted messages.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 6),
		}),
		terminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_terminal_total",
			Help:      "Messages that reached a terminal delivery state.",
		}, []string{"state", "reason"}),
		presenceFlips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_changes_total",
			Help:      "Presence boundary crossings.",
		}, []string{"online"}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "Last sampled CPU usage of the relay process.",
		}),
		rssBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_rss_bytes",
			Help:      "Last sampled resident memory of the relay process.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_goroutines",
			Help:      "Last sampled goroutine count.",
		}),
		queueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Items waiting in an internal queue.",
		}, []string{"queue"}),
		queueCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_capacity",
			Help:      "Capacity of an internal queue.",
		}, []string{"queue"}),
		online: make(map[domain.UserID]struct{}),
	}
	m.registry.MustRegister(
		m.connections, m.onlineUsers, m.accepted, m.payloadBytes,
		m.terminal, m.presenceFlips, m.cpuPercent, m.rssBytes, m.goroutines,
		m.queueLength, m.queueCapacity,
	)
	return m
}

func (m *Metrics) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageAccepted:
		m.accepted.Inc()
		m.payloadBytes.Observe(float64(evt.Size))
	case event.DeliveryStatus:
		m.terminal.WithLabelValues(evt.State.String(), string(evt.Reason)).Inc()
	case event.ConnectionChanged:
		if evt.Open {
			m.connections.Inc()
		} else {
			m.connections.Dec()
		}
	case event.PresenceChanged:
		m.presence(evt)
	case event.ProcessHealth:
		m.cpuPercent.Set(evt.CPUPercent)
		m.rssBytes.Set(float64(evt.RSSBytes))
		m.goroutines.Set(float64(evt.Goroutines))
	case event.QueueDepth:
		m.queueLength.WithLabelValues(evt.Name).Set(float64(evt.Length))
		m.queueCapacity.WithLabelValues(evt.Name).Set(float64(evt.Capacity))
	}
	return nil
}

// presence keeps its own set so that a replayed event never skews the gauge.
func (m *Metrics) presence(evt event.PresenceChanged) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, known := m.online[evt.UserID]
	switch {
	case evt.Online && !known:
		m.online[evt.UserID] = struct{}{}
	case !evt.Online && known:
		delete(m.online, evt.UserID)
	default:
		return
	}
	m.onlineUsers.Set(float64(len(m.online)))
	if evt.Online {
		m.presenceFlips.WithLabelValues("true").Inc()
	} else {
		m.presenceFlips.WithLabelValues("false").Inc()
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
