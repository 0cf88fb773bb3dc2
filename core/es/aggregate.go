package es

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrAggregateNotFound   = errors.New("aggregate not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrUnrecognizedEvent   = errors.New("unrecognized event")
	ErrMissingEventData    = errors.New("missing event data")
	ErrRevisionGap         = errors.New("revision gap")
)

// Aggregate is the contract between a domain object and the Repository.
//
// An aggregate maintains:
//   - Identity: the id that names its streams
//   - Version: the revision of the last applied event (NoStream if none)
//   - Uncommitted events: events raised since the last successful save
//
// The typical lifecycle is:
//  1. Construct a fresh aggregate or load one via Repository.GetByID
//  2. Execute a business operation, which calls Raise
//  3. Save via Repository, which appends the uncommitted events and clears them
//
// Aggregates get everything but When by embedding BaseAggregate.
type Aggregate interface {
	// ID returns the identifier of this aggregate instance.
	ID() string
	// Version returns the revision of the last applied event.
	Version() Version
	// When folds a single event into state. It must be pure: no I/O and no
	// side effects beyond the aggregate's own fields. Unknown events fail
	// with ErrUnrecognizedEvent.
	When(ev Event) error
	// Uncommitted returns a copy of the events raised but not yet persisted.
	Uncommitted() []Event

	base() *BaseAggregate
}

// BaseAggregate is an embeddable helper that tracks identity, version and the
// uncommitted buffer. Its zero value is an empty aggregate at NoStream.
type BaseAggregate struct {
	id          string
	applied     int64
	position    uint64 // log position of the last applied record, 0 if unknown
	uncommitted []Event
}

func (b *BaseAggregate) ID() string           { return b.id }
func (b *BaseAggregate) SetID(id string)      { b.id = id }
func (b *BaseAggregate) Version() Version     { return Version(b.applied - 1) }
func (b *BaseAggregate) Uncommitted() []Event { return slices.Clone(b.uncommitted) }
func (b *BaseAggregate) HasUncommitted() bool { return len(b.uncommitted) > 0 }
func (b *BaseAggregate) base() *BaseAggregate { return b }
func (b *BaseAggregate) setVersion(v Version) { b.applied = int64(v) + 1 }
func (b *BaseAggregate) markCommitted(v Version, position uint64) {
	b.uncommitted = nil
	b.setVersion(v)
	b.position = position
}

// Raise folds ev into agg and appends it to the uncommitted buffer. It does
// not touch the version; that moves when the events are committed or loaded.
func Raise(agg Aggregate, ev Event) error {
	if err := agg.When(ev); err != nil {
		return err
	}
	b := agg.base()
	b.uncommitted = append(b.uncommitted, ev)
	return nil
}

// LoadFromHistory folds events into a freshly constructed aggregate without
// recording them as uncommitted, advancing the version once per event. It is
// not meant to be called twice on the same aggregate.
func LoadFromHistory(agg Aggregate, events ...Event) error {
	b := agg.base()
	if len(b.uncommitted) != 0 {
		return errors.New("aggregate has uncommitted events")
	}
	for _, ev := range events {
		if err := agg.When(ev); err != nil {
			return err
		}
		b.applied++
	}
	return nil
}

// loadRecord folds one decoded record, requiring it to be the next revision.
func loadRecord(agg Aggregate, rec RecordedEvent, ev Event) error {
	expect := agg.Version() + 1
	if rec.Revision != expect {
		return fmt.Errorf("%w: %s expected revision %d, got %d", ErrRevisionGap, rec.StreamID, expect, rec.Revision)
	}
	if err := LoadFromHistory(agg, ev); err != nil {
		return err
	}
	agg.base().position = rec.Position
	return nil
}

// Unrecognized is the error When implementations return for events they have
// no case for.
func Unrecognized(agg Aggregate, ev Event) error {
	return fmt.Errorf("%w: %T on %T", ErrUnrecognizedEvent, ev, agg)
}
