package es

import (
	"log/slog"
	"time"
)

type (
	valueOption[T any] struct{ v T }

	LogOption       valueOption[*slog.Logger]
	ESMetricsOption valueOption[ESMetrics]
	ClockOption     valueOption[func() time.Time]
)

// WithLog sets the logger of ES components. Defaults to slog.Default().
func WithLog(l *slog.Logger) LogOption { return LogOption{v: l} }

// WithMetrics sets the metrics implementation of ES components.
func WithMetrics(m ESMetrics) ESMetricsOption { return ESMetricsOption{v: m} }

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) ClockOption { return ClockOption{v: now} }
