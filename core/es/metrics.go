package es

import "github.com/codewandler/inventory-es/core/metrics"

// ESMetrics defines the instrumentation hooks of the event sourcing
// components. Implementations must be safe for concurrent use.
type ESMetrics interface {
	// Repository operations
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)
	ConcurrencyConflict(aggType string)

	// Snapshots
	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer

	// Subscriptions
	SubscriptionEventDuration(group, eventType string) metrics.Timer
	SubscriptionEventProcessed(group, eventType string, success bool)
	SubscriptionLag(group string, pending uint64)
}

type nopESMetrics struct{}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)            {}
func (nopESMetrics) ConcurrencyConflict(string)            {}

func (nopESMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }

func (nopESMetrics) SubscriptionEventDuration(string, string) metrics.Timer {
	return metrics.NopTimer()
}
func (nopESMetrics) SubscriptionEventProcessed(string, string, bool) {}
func (nopESMetrics) SubscriptionLag(string, uint64)                  {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }
