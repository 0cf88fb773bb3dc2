package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/inventory-es/core/metrics"
	"github.com/codewandler/inventory-es/ports/bus"
)

// busMetrics implements bus.Metrics using Prometheus.
type busMetrics struct {
	published      *prometheus.CounterVec
	publishFailed  *prometheus.CounterVec
	handleDuration *prometheus.HistogramVec
	handled        *prometheus.CounterVec
}

// NewBusMetrics creates a new Prometheus implementation of bus.Metrics.
func NewBusMetrics(reg prometheus.Registerer) bus.Metrics {
	m := &busMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_bus_messages_published_total",
			Help: "Total number of messages acknowledged by the brokers",
		}, []string{"topic"}),

		publishFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_bus_publish_failures_total",
			Help: "Total number of failed publish calls",
		}, []string{"topic"}),

		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inventory_bus_handle_duration_seconds",
			Help:    "Message handling time in seconds",
			Buckets: defaultBuckets,
		}, []string{"topic"}),

		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_bus_messages_consumed_total",
			Help: "Total number of handler invocations",
		}, []string{"topic", "success"}),
	}

	reg.MustRegister(
		m.published,
		m.publishFailed,
		m.handleDuration,
		m.handled,
	)

	return m
}

func (m *busMetrics) Published(topic string, count int) {
	m.published.WithLabelValues(topic).Add(float64(count))
}

func (m *busMetrics) PublishFailed(topic string) {
	m.publishFailed.WithLabelValues(topic).Inc()
}

func (m *busMetrics) HandleDuration(topic string) metrics.Timer {
	return newTimer(m.handleDuration.WithLabelValues(topic))
}

func (m *busMetrics) Handled(topic string, success bool) {
	m.handled.WithLabelValues(topic, boolToStr(success)).Inc()
}

var _ bus.Metrics = (*busMetrics)(nil)
