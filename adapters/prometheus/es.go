package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Repository metrics
	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	// Snapshot metrics
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec

	// Subscription metrics
	subscriptionEventDuration *prometheus.HistogramVec
	subscriptionEvents        *prometheus.CounterVec
	subscriptionLag           *prometheus.GaugeVec
}

// NewESMetrics creates a new Prometheus implementation of ESMetrics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inventory_es_repo_load_duration_seconds",
			Help:    "Repository load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inventory_es_repo_save_duration_seconds",
			Help:    "Repository save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_es_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_es_concurrency_conflicts_total",
			Help: "Total number of rejected saves due to a stale expected version",
		}, []string{"aggregate_type"}),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inventory_es_snapshot_load_duration_seconds",
			Help:    "Snapshot load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inventory_es_snapshot_save_duration_seconds",
			Help:    "Snapshot save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		subscriptionEventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inventory_es_subscription_event_duration_seconds",
			Help:    "Subscription handler time in seconds",
			Buckets: defaultBuckets,
		}, []string{"group", "event_type"}),

		subscriptionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_es_subscription_events_total",
			Help: "Total number of subscription deliveries, acked (success=true) or nacked",
		}, []string{"group", "event_type", "success"}),

		subscriptionLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inventory_es_subscription_pending",
			Help: "Records pending for a subscription group when it started",
		}, []string{"group"}),
	}

	reg.MustRegister(
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.subscriptionEventDuration,
		m.subscriptionEvents,
		m.subscriptionLag,
	)

	return m
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SubscriptionEventDuration(group, eventType string) metrics.Timer {
	return newTimer(m.subscriptionEventDuration.WithLabelValues(group, eventType))
}

func (m *esMetrics) SubscriptionEventProcessed(group, eventType string, success bool) {
	m.subscriptionEvents.WithLabelValues(group, eventType, boolToStr(success)).Inc()
}

func (m *esMetrics) SubscriptionLag(group string, pending uint64) {
	m.subscriptionLag.WithLabelValues(group).Set(float64(pending))
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var _ es.ESMetrics = (*esMetrics)(nil)
