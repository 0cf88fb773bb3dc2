// Package readmodel materialises inventory items from the bus into a query
// store and serves point lookups from it.
package readmodel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codewandler/inventory-es/internal/inventory"
)

var (
	ErrNotFound = errors.New("inventory item not found")
	// ErrRevisionGap is returned for an event that is more than one
	// revision ahead of the row. The events in between have not been
	// applied yet, so the write is retried.
	ErrRevisionGap = errors.New("read model is missing earlier revisions")
)

// Row is one denormalised inventory item. Version is the revision of the
// last event applied to the row.
type Row struct {
	ID       string `bson:"_id" json:"id"`
	SKU      string `bson:"sku" json:"sku"`
	Quantity int64  `bson:"quantity" json:"quantity"`
	Status   string `bson:"status" json:"status"`
	Version  int64  `bson:"version" json:"version"`
}

// Store is the query store. Every write carries the revision of the event
// it comes from and is applied only when it is the next revision of the
// row. A revision the row already holds reports applied=false and changes
// nothing. A revision further ahead fails with ErrRevisionGap and a write
// to a missing row fails with ErrNotFound; both are retryable.
type Store interface {
	Create(ctx context.Context, row Row) (applied bool, err error)
	AdjustQuantity(ctx context.Context, id string, delta, revision int64) (applied bool, err error)
	SetStatus(ctx context.Context, id, status string, revision int64) (applied bool, err error)
	Get(ctx context.Context, id string) (Row, error)
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]Row{}}
}

func (m *MemoryStore) Create(_ context.Context, row Row) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[row.ID]; ok {
		return false, nil
	}
	m.rows[row.ID] = row
	return true, nil
}

func (m *MemoryStore) AdjustQuantity(_ context.Context, id string, delta, revision int64) (bool, error) {
	return m.update(id, revision, func(r *Row) { r.Quantity += delta })
}

func (m *MemoryStore) SetStatus(_ context.Context, id, status string, revision int64) (bool, error) {
	return m.update(id, revision, func(r *Row) { r.Status = status })
}

func (m *MemoryStore) update(id string, revision int64, fn func(*Row)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return false, ErrNotFound
	}
	if err := checkRevision(id, row.Version, revision); err != nil {
		return false, err
	}
	if row.Version >= revision {
		return false, nil
	}
	fn(&row)
	row.Version = revision
	m.rows[id] = row
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return Row{}, ErrNotFound
	}
	return row, nil
}

var _ Store = (*MemoryStore)(nil)

// checkRevision fails with ErrRevisionGap when revision skips ahead of the
// row at version.
func checkRevision(id string, version, revision int64) error {
	if revision > version+1 {
		return fmt.Errorf("%w: %s at version %d, event revision %d", ErrRevisionGap, id, version, revision)
	}
	return nil
}

// newRow is the row created by the first event of an item.
func newRow(ev inventory.ItemCreated, revision int64) Row {
	return Row{
		ID:       ev.ID,
		SKU:      ev.SKU,
		Quantity: 0,
		Status:   string(inventory.StatusActive),
		Version:  revision,
	}
}
