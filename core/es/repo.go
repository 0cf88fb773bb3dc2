package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Repository loads and persists one aggregate type through an EventStore.
// Aggregates are transient: every GetByID constructs a fresh one with the
// factory and discards nothing but what the caller keeps.
type Repository[T Aggregate] struct {
	log       *slog.Logger
	store     EventStore
	registry  *Registry
	streams   StreamNames
	factory   func(id string) T
	metrics   ESMetrics
	snapshots bool
}

func NewRepository[T Aggregate](
	store EventStore,
	registry *Registry,
	streams StreamNames,
	factory func(id string) T,
	opts ...RepositoryOption,
) *Repository[T] {
	options := newRepoOpts(opts...)
	return &Repository[T]{
		log:       options.log.With(slog.String("repo", streams.Kind)),
		store:     store,
		registry:  registry,
		streams:   streams,
		factory:   factory,
		metrics:   options.metrics,
		snapshots: options.snapshots,
	}
}

func (r *Repository[T]) Streams() StreamNames { return r.streams }

// Save appends every uncommitted event of agg in one conditional append that
// requires the stream to be at expected (NoStream for a new aggregate). The
// uncommitted buffer is cleared only after the append is confirmed. A
// violated precondition fails with ErrConcurrencyConflict; the caller has to
// reload and retry.
func (r *Repository[T]) Save(ctx context.Context, agg T, expected Version) error {
	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return nil
	}
	aggID := agg.ID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}

	defer r.metrics.RepoSaveDuration(r.streams.Kind).ObserveDuration()

	metadata := InjectTraceContext(ctx)
	events := make([]EventData, 0, len(uncommitted))
	for _, ev := range uncommitted {
		data, err := r.registry.Encode(ev, metadata)
		if err != nil {
			return err
		}
		events = append(events, data)
	}

	stream := r.streams.Events(aggID)
	res, err := r.store.AppendToStream(ctx, stream, expected, events)
	if err != nil {
		if errors.Is(err, ErrWrongExpectedVersion) {
			r.metrics.ConcurrencyConflict(r.streams.Kind)
			return fmt.Errorf("%w: %s at %s: %w", ErrConcurrencyConflict, stream, expected, err)
		}
		return fmt.Errorf("failed to save %s: %w", stream, err)
	}

	agg.base().markCommitted(res.NextExpectedVersion, res.Position)
	r.metrics.EventsAppended(r.streams.Kind, len(events))

	r.log.Debug(
		"saved",
		slog.Group(
			"agg",
			slog.String("id", aggID),
			agg.Version().SlogAttr(),
		),
		expected.SlogAttrWithKey("expected"),
		slog.Int("num_events", len(events)),
	)

	return nil
}

// GetByID rehydrates the aggregate with the given id. The newest snapshot is
// applied first when there is one, then the events after the snapshot
// revision are folded in order. A failure anywhere aborts the load; a
// partially applied aggregate is never returned.
func (r *Repository[T]) GetByID(ctx context.Context, id string) (T, error) {
	var zero T
	if id == "" {
		return zero, errors.New("aggregate id is empty")
	}

	defer r.metrics.RepoLoadDuration(r.streams.Kind).ObserveDuration()

	log := r.log.With(slog.Group("agg", slog.String("id", id)))
	log.Debug("loading")

	agg := r.factory(id)

	if r.snapshots {
		if _, ok := any(agg).(Snapshottable); ok {
			snap, err := r.LoadSnapshot(ctx, id)
			switch {
			case errors.Is(err, ErrSnapshotNotFound):
			case err != nil:
				return zero, err
			default:
				if err := LoadFromSnapshot(agg, *snap); err != nil {
					return zero, err
				}
				log.Debug("snapshot applied", snap.Revision.SlogAttrWithKey("revision"))
			}
		}
	}

	from := agg.Version() + 1
	stream := r.streams.Events(id)
	opts := ReadForwards(from)
	opts.Position = agg.base().position
	for rec, err := range r.store.ReadStream(ctx, stream, opts) {
		if err != nil {
			if errors.Is(err, ErrStreamNotFound) && agg.Version() == NoStream {
				return zero, fmt.Errorf("%w: %s", ErrAggregateNotFound, id)
			}
			return zero, fmt.Errorf("failed to read %s: %w", stream, err)
		}
		ev, err := r.registry.Decode(rec)
		if err != nil {
			return zero, err
		}
		if err := loadRecord(agg, rec, ev); err != nil {
			return zero, err
		}
	}

	if agg.Version() == NoStream {
		return zero, fmt.Errorf("%w: %s", ErrAggregateNotFound, id)
	}

	log.Debug(
		"loaded",
		from.SlogAttrWithKey("from"),
		agg.Version().SlogAttr(),
	)

	return agg, nil
}

// SaveSnapshot appends s to the snapshot stream of id. Snapshot streams keep
// their history; only the newest record is read back.
func (r *Repository[T]) SaveSnapshot(ctx context.Context, id string, s Snapshot) error {
	if id == "" {
		return errors.New("aggregate id is empty")
	}
	defer r.metrics.SnapshotSaveDuration(r.streams.Kind).ObserveDuration()

	s.AggregateID = id
	data, err := encodeSnapshot(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if _, err := r.store.AppendToStream(ctx, r.streams.Snapshots(id), AnyVersion, []EventData{data}); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.log.Debug("snapshot saved", s.logAttrs())
	return nil
}

// LoadSnapshot reads the newest snapshot of id. A missing snapshot stream is
// reported as ErrSnapshotNotFound.
func (r *Repository[T]) LoadSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	defer r.metrics.SnapshotLoadDuration(r.streams.Kind).ObserveDuration()

	for rec, err := range r.store.ReadStream(ctx, r.streams.Snapshots(id), ReadLast()) {
		if err != nil {
			if errors.Is(err, ErrStreamNotFound) {
				return nil, ErrSnapshotNotFound
			}
			return nil, fmt.Errorf("failed to read snapshot: %w", err)
		}
		return decodeSnapshot(rec)
	}
	return nil, ErrSnapshotNotFound
}
