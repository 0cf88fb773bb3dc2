package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/inventory"
	"github.com/codewandler/inventory-es/ports/bus"
)

func message(t *testing.T, ev es.Event, revision int64) bus.Message {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	value, err := json.Marshal(bus.Envelope{
		Type:     ev.EventType(),
		Payload:  payload,
		Revision: revision,
		Metadata: bus.Metadata{Timestamp: time.Now(), IdempotencyKey: "k"},
	})
	require.NoError(t, err)
	return bus.Message{Topic: "inventory_item", Key: []byte("item-1"), Value: value}
}

func newTestDenormaliser() (*Denormaliser, *MemoryStore) {
	store := NewMemoryStore()
	return NewDenormaliser(store, inventory.NewRegistry(), nil), store
}

func TestDenormaliser_AppliesEvents(t *testing.T) {
	d, store := newTestDenormaliser()
	ctx := t.Context()

	for _, m := range []bus.Message{
		message(t, inventory.ItemCreated{ID: "item-1", SKU: "WIDGET-1"}, 0),
		message(t, inventory.StockAdded{ID: "item-1", Quantity: 10}, 1),
		message(t, inventory.StockDecreased{ID: "item-1", Quantity: 3}, 2),
		message(t, inventory.ItemDeactivated{ID: "item-1"}, 3),
	} {
		require.NoError(t, d.Handle(ctx, m))
	}

	row, err := store.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, Row{ID: "item-1", SKU: "WIDGET-1", Quantity: 7, Status: "inactive", Version: 3}, row)
}

func TestDenormaliser_DuplicatesAndStaleAreNoOps(t *testing.T) {
	d, store := newTestDenormaliser()
	ctx := t.Context()

	created := message(t, inventory.ItemCreated{ID: "item-1", SKU: "WIDGET-1"}, 0)
	added := message(t, inventory.StockAdded{ID: "item-1", Quantity: 10}, 1)
	addedAgain := message(t, inventory.StockAdded{ID: "item-1", Quantity: 5}, 2)

	for _, m := range []bus.Message{created, created, added, added, addedAgain, added, created} {
		require.NoError(t, d.Handle(ctx, m))
	}

	row, err := store.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), row.Quantity)
	assert.Equal(t, int64(2), row.Version)
	assert.Equal(t, "WIDGET-1", row.SKU)
}

func TestDenormaliser_Poison(t *testing.T) {
	d, _ := newTestDenormaliser()
	ctx := t.Context()

	err := d.Handle(ctx, bus.Message{Value: []byte("not json")})
	require.ErrorIs(t, err, bus.ErrPoison)

	value, _ := json.Marshal(bus.Envelope{Type: "price_changed", Payload: json.RawMessage(`{}`), Revision: 1})
	err = d.Handle(ctx, bus.Message{Value: value})
	require.ErrorIs(t, err, bus.ErrPoison)
	require.ErrorIs(t, err, es.ErrUnknownEventType)

	value, _ = json.Marshal(bus.Envelope{Type: inventory.TypeStockAdded, Revision: 1})
	err = d.Handle(ctx, bus.Message{Value: value})
	require.ErrorIs(t, err, bus.ErrPoison)
	require.ErrorIs(t, err, es.ErrMissingEventData)
}

func TestDenormaliser_MissingRowIsRetryable(t *testing.T) {
	d, _ := newTestDenormaliser()
	err := d.Handle(t.Context(), message(t, inventory.StockAdded{ID: "item-1", Quantity: 1}, 1))
	require.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, bus.ErrPoison)
}

func TestDenormaliser_GapIsRetriedNotSkipped(t *testing.T) {
	d, store := newTestDenormaliser()
	ctx := t.Context()

	require.NoError(t, d.Handle(ctx, message(t, inventory.ItemCreated{ID: "item-1", SKU: "WIDGET-1"}, 0)))

	ahead := message(t, inventory.StockAdded{ID: "item-1", Quantity: 10}, 2)
	err := d.Handle(ctx, ahead)
	require.ErrorIs(t, err, ErrRevisionGap)
	assert.NotErrorIs(t, err, bus.ErrPoison)

	row, err := store.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), row.Version, "nothing applied past the gap")

	require.NoError(t, d.Handle(ctx, message(t, inventory.StockAdded{ID: "item-1", Quantity: 5}, 1)))
	require.NoError(t, d.Handle(ctx, ahead))

	row, err = store.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), row.Quantity)
	assert.Equal(t, int64(2), row.Version)
}

func TestMemoryStore_RevisionGuard(t *testing.T) {
	store := NewMemoryStore()
	ctx := t.Context()

	_, err := store.SetStatus(ctx, "item-1", "inactive", 1)
	require.ErrorIs(t, err, ErrNotFound)

	applied, err := store.Create(ctx, Row{ID: "item-1", SKU: "A", Status: "active"})
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = store.SetStatus(ctx, "item-1", "inactive", 3)
	require.ErrorIs(t, err, ErrRevisionGap)

	applied, err = store.AdjustQuantity(ctx, "item-1", 2, 1)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.AdjustQuantity(ctx, "item-1", 2, 1)
	require.NoError(t, err)
	assert.False(t, applied)

	row, err := store.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, Row{ID: "item-1", SKU: "A", Quantity: 2, Status: "active", Version: 1}, row)
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) Create(context.Context, Row) (bool, error) {
	return false, errors.New("store unavailable")
}

func TestDenormaliser_StoreFailureIsRetried(t *testing.T) {
	store := failingStore{NewMemoryStore()}
	d := NewDenormaliser(store, inventory.NewRegistry(), nil)
	b := bus.NewInMemory(nil)
	require.NoError(t, b.Publish(t.Context(), message(t, inventory.ItemCreated{ID: "item-1", SKU: "X"}, 0)))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	err := b.Consumer("g", "inventory_item", bus.WithBackoff(bus.Backoff{Min: time.Millisecond, Max: time.Millisecond})).Run(ctx, d.Handle)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Committed("g", "inventory_item"), "offset is not advanced past a failing message")
}

func TestQueryService_GetByID(t *testing.T) {
	d, store := newTestDenormaliser()
	q := NewQueryService(store)
	ctx := t.Context()

	_, err := q.GetByID(ctx, "item-1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.Handle(ctx, message(t, inventory.ItemCreated{ID: "item-1", SKU: "WIDGET-1"}, 0)))
	require.NoError(t, d.Handle(ctx, message(t, inventory.StockAdded{ID: "item-1", Quantity: 4}, 1)))

	view, err := q.GetByID(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, ItemView{ID: "item-1", SKU: "WIDGET-1", Status: "active", Quantity: 4, CurrentRevision: 1}, view)
}
