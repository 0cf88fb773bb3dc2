// Package bus is the message bus port: the wire envelope of propagated
// events, producer and consumer contracts, and an in-memory bus.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/inventory-es/core/metrics"
)

// ErrPoison marks a message that can never be handled. Consumers stop
// instead of retrying it forever or dropping it.
var ErrPoison = errors.New("poison message")

// Poison wraps err as ErrPoison.
func Poison(err error) error { return fmt.Errorf("%w: %w", ErrPoison, err) }

type (
	// Envelope is the wire format of an event on the bus.
	Envelope struct {
		Type     string          `json:"type"`
		Payload  json.RawMessage `json:"payload"`
		Revision int64           `json:"revision"`
		Metadata Metadata        `json:"metadata"`
	}

	Metadata struct {
		Timestamp      time.Time `json:"timestamp"`
		IdempotencyKey string    `json:"idempotencyKey"`
	}

	// Message is one record on a topic. Messages with the same key keep
	// their relative order.
	Message struct {
		Topic     string
		Key       []byte
		Value     []byte
		Headers   map[string]string
		Partition int
		Offset    int64
	}

	Producer interface {
		// Publish writes msgs with at-least-once delivery.
		Publish(ctx context.Context, msgs ...Message) error
		Close() error
	}

	Handler func(ctx context.Context, msg Message) error

	// Consumer delivers the messages of a consumer group to a handler and
	// advances the committed offset only after the handler succeeded.
	Consumer interface {
		Run(ctx context.Context, h Handler) error
		Close() error
	}

	// Metrics instruments producers and consumers.
	Metrics interface {
		Published(topic string, count int)
		PublishFailed(topic string)
		HandleDuration(topic string) metrics.Timer
		Handled(topic string, success bool)
	}
)

type nopMetrics struct{}

func (nopMetrics) Published(string, int)               {}
func (nopMetrics) PublishFailed(string)                {}
func (nopMetrics) HandleDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) Handled(string, bool)                {}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
