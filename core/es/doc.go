// Package es provides the event sourcing building blocks the inventory
// services are made of.
//
// # Overview
//
// State is persisted as an ordered, append-only sequence of events per
// aggregate stream. Current state is reconstructed by folding those events
// into a fresh aggregate. Committed events are propagated to downstream
// consumers through durable subscriptions on the log.
//
// # Core Components
//
// Aggregate: the in-memory state machine. Business operations validate their
// preconditions and call [Raise], which folds the event through the
// aggregate's When method and records it as uncommitted. Embed
// [BaseAggregate] to get identity, version tracking and the uncommitted
// buffer:
//
//	type Item struct {
//	    es.BaseAggregate
//	    Quantity int64
//	}
//
//	func (i *Item) AddStock(n int64) error {
//	    return es.Raise(i, StockAdded{ID: i.ID(), Quantity: n})
//	}
//
// Version: revisions are 0-based per stream. [Aggregate.Version] returns the
// revision of the last applied event, or [NoStream] for an aggregate that has
// not applied anything yet.
//
// EventStore: the log collaborator. [EventStore.AppendToStream] performs one
// conditional append ("stream is at revision N" or "stream must not exist")
// and fails with [ErrWrongExpectedVersion] when the precondition does not
// hold. [EventStore.ReadStream] returns a lazy sequence of records.
// Use [NewInMemoryStore] in tests; adapters/nats provides JetStream.
//
// Repository: bridges an aggregate type to the log. [Repository.Save]
// appends the uncommitted events and fails with [ErrConcurrencyConflict] when
// another writer committed first. [Repository.GetByID] loads the newest
// snapshot (if any) and replays the events after it:
//
//	repo := es.NewRepository(store, registry, es.StreamNames{Kind: "inventory-item"}, inventory.New)
//	item, err := repo.GetByID(ctx, id)
//	err = item.AddStock(10)
//	err = repo.Save(ctx, item, item.Version())
//
// # Event Registration
//
// A [Registry] maps type tags to decode functions. It is built once at
// startup and handed to everything that decodes records:
//
//	reg := es.NewRegistry()
//	es.RegisterJSON[StockAdded](reg)
//
// Records with an unmapped tag fail with [ErrUnknownEventType].
//
// # Snapshots
//
// Snapshots are advisory. They are appended to a separate stream per
// aggregate and only the newest one is read on load. An aggregate that
// implements [Snapshottable] can be snapshotted; correctness never depends on
// a snapshot existing.
//
// # Subscriptions
//
// [SubscriptionRunner] tails the log through a durable, named subscription
// filtered by stream prefix. Each record is handed to a [Handler]; success
// acknowledges it, failure negatively acknowledges it for redelivery. One
// record is in flight at a time and a failing record never stops the loop.
package es
