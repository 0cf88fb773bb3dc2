package readmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/inventory"
	"github.com/codewandler/inventory-es/ports/bus"
)

// Denormaliser applies published inventory events to a Store. Redelivered
// events are no-ops. An event that arrives ahead of its predecessor fails
// with ErrRevisionGap and is retried, never skipped.
type Denormaliser struct {
	store    Store
	registry *es.Registry
	log      *slog.Logger
	tracer   trace.Tracer
}

func NewDenormaliser(store Store, registry *es.Registry, log *slog.Logger) *Denormaliser {
	if log == nil {
		log = slog.Default()
	}
	return &Denormaliser{
		store:    store,
		registry: registry,
		log:      log.With(slog.String("component", "denormaliser")),
		tracer:   otel.Tracer("github.com/codewandler/inventory-es/readmodel"),
	}
}

// Handle is a bus.Handler. Messages that can never be applied are
// reported as bus.ErrPoison; store failures, missing rows and revision gaps
// are returned as is and retried by the consumer.
func (d *Denormaliser) Handle(ctx context.Context, msg bus.Message) error {
	var env bus.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return bus.Poison(fmt.Errorf("invalid envelope at offset %d: %w", msg.Offset, err))
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
	ctx, span := d.tracer.Start(ctx, "denormalise "+env.Type, trace.WithAttributes(
		attribute.String("event.type", env.Type),
		attribute.Int64("event.revision", env.Revision),
	))
	defer span.End()

	ev, err := d.registry.Decode(es.RecordedEvent{Type: env.Type, Revision: es.Version(env.Revision), Data: env.Payload})
	if err != nil {
		return bus.Poison(err)
	}

	applied, err := d.apply(ctx, ev, env.Revision)
	if err != nil {
		span.RecordError(err)
		return err
	}

	log := d.log.With(
		slog.String("type", env.Type),
		slog.Int64("revision", env.Revision),
		slog.String("idempotency_key", env.Metadata.IdempotencyKey),
	)
	if !applied {
		log.Debug("already_applied")
		return nil
	}
	log.Debug("applied")
	return nil
}

func (d *Denormaliser) apply(ctx context.Context, ev es.Event, revision int64) (bool, error) {
	switch e := ev.(type) {
	case inventory.ItemCreated:
		return d.store.Create(ctx, newRow(e, revision))
	case inventory.StockAdded:
		return d.store.AdjustQuantity(ctx, e.ID, e.Quantity, revision)
	case inventory.StockDecreased:
		return d.store.AdjustQuantity(ctx, e.ID, -e.Quantity, revision)
	case inventory.ItemDeactivated:
		return d.store.SetStatus(ctx, e.ID, string(inventory.StatusInactive), revision)
	default:
		return false, bus.Poison(fmt.Errorf("%w: %T", es.ErrUnrecognizedEvent, ev))
	}
}
