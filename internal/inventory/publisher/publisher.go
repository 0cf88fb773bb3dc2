// Package publisher forwards committed inventory events from a durable
// subscription to the message bus.
package publisher

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"

	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/inventory"
	"github.com/codewandler/inventory-es/ports/bus"
)

const (
	DefaultTopic = "inventory_item"
	DefaultGroup = "inventory_item_subscription_group"
)

// Handler is an es.Handler that wraps every record in a bus.Envelope and
// publishes it keyed by aggregate id. The records of one stream go out in
// revision order: a record is published only after its predecessor, and a
// record already published is acknowledged without publishing it again.
type Handler struct {
	producer bus.Producer
	progress *Progress
	registry *es.Registry
	topic    string
	tracer   trace.Tracer
	now      func() time.Time
}

func New(producer bus.Producer, progress *Progress, registry *es.Registry, topic string) *Handler {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Handler{
		producer: producer,
		progress: progress,
		registry: registry,
		topic:    topic,
		tracer:   otel.Tracer("github.com/codewandler/inventory-es/publisher"),
		now:      time.Now,
	}
}

func (h *Handler) Handle(msgCtx es.MsgCtx) error {
	rec := msgCtx.Event()

	id, err := inventory.Streams.AggregateID(rec.StreamID)
	if err != nil {
		return err
	}

	last, keyRev, err := h.progress.Last(msgCtx.Context(), rec.StreamID)
	if err != nil {
		return err
	}
	switch {
	case rec.Revision <= last:
		msgCtx.Log().Debug("already published", last.SlogAttrWithKey("published"))
		return nil
	case rec.Revision > last+1:
		return fmt.Errorf("%w: %s@%d, published up to %d", ErrOutOfOrder, rec.StreamID, rec.Revision, last)
	}

	msg, err := h.message(rec, id)
	if err != nil {
		return err
	}

	ctx := es.ExtractTraceContext(msgCtx.Context(), rec.Metadata)
	ctx, span := h.tracer.Start(ctx, "publish "+rec.Type,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", h.topic),
			attribute.String("event.type", rec.Type),
			attribute.Int64("event.revision", int64(rec.Revision)),
		),
	)
	defer span.End()

	headers := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, headers)
	msg.Headers = headers

	if err := h.producer.Publish(ctx, msg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish %s: %w", rec.Type, err)
	}
	if err := h.progress.Mark(ctx, rec.StreamID, rec.Revision, keyRev); err != nil {
		span.RecordError(err)
		return err
	}
	msgCtx.Log().Debug("published")
	return nil
}

// message builds the bus message of rec. The payload is decoded and
// re-encoded so that only registered, well-formed events leave the log.
func (h *Handler) message(rec es.RecordedEvent, aggregateID string) (bus.Message, error) {
	ev, err := h.registry.Decode(rec)
	if err != nil {
		return bus.Message{}, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return bus.Message{}, err
	}

	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = h.now().UTC()
	}

	value, err := json.Marshal(bus.Envelope{
		Type:     rec.Type,
		Payload:  payload,
		Revision: int64(rec.Revision),
		Metadata: bus.Metadata{
			Timestamp:      ts,
			IdempotencyKey: IdempotencyKey(rec.StreamID, rec.Revision),
		},
	})
	if err != nil {
		return bus.Message{}, err
	}

	return bus.Message{
		Topic: h.topic,
		Key:   []byte(aggregateID),
		Value: value,
	}, nil
}

// IdempotencyKey identifies one record of the log. Every redelivery of the
// record yields the same key.
func IdempotencyKey(streamID string, revision es.Version) string {
	sum, _ := blake2b.New(16, nil)
	sum.Write([]byte(streamID + "@" + strconv.FormatInt(int64(revision), 10)))
	return hex.EncodeToString(sum.Sum(nil))
}

var _ es.Handler = (*Handler)(nil)

