package inventory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/inventory-es/core/es"
)

func newItem(t *testing.T, sku string) *Item {
	t.Helper()
	i, err := Create("item-1", sku)
	require.NoError(t, err)
	return i
}

func TestCreate(t *testing.T) {
	i := newItem(t, "  WIDGET-1 ")
	assert.Equal(t, "item-1", i.ID())
	assert.Equal(t, "WIDGET-1", i.SKU())
	assert.Equal(t, int64(0), i.Quantity())
	assert.Equal(t, StatusActive, i.Status())
	assert.Equal(t, es.NoStream, i.Version(), "raising does not move the version")
	assert.Equal(t, []es.Event{ItemCreated{ID: "item-1", SKU: "WIDGET-1"}}, i.Uncommitted())

	_, err := Create("item-1", "   ")
	require.ErrorIs(t, err, ErrDomainRule)

	_, err = Create("", "WIDGET-1")
	require.Error(t, err)
}

func TestItem_Scenario(t *testing.T) {
	i := newItem(t, "WIDGET-1")
	require.NoError(t, i.AddStock(10))
	require.NoError(t, i.DecreaseStock(3))
	assert.Equal(t, int64(7), i.Quantity())
	assert.Equal(t, StatusActive, i.Status())
	assert.Len(t, i.Uncommitted(), 3)
}

func TestItem_AddThenDecreaseRoundTrip(t *testing.T) {
	for _, start := range []int64{0, 1, 5, 100} {
		for _, a := range []int64{0, 1, 7, 1000} {
			i := newItem(t, "SKU")
			require.NoError(t, i.AddStock(start))
			require.NoError(t, i.AddStock(a))
			require.NoError(t, i.DecreaseStock(a))
			assert.Equal(t, start, i.Quantity())
		}
	}
}

func TestItem_DecreaseBelowZero(t *testing.T) {
	for _, q := range []int64{0, 1, 9} {
		i := newItem(t, "SKU")
		require.NoError(t, i.AddStock(q))
		before := len(i.Uncommitted())

		err := i.DecreaseStock(q + 1)
		require.ErrorIs(t, err, ErrDomainRule)
		assert.EqualError(t, err, "not enough quantity to decrease")
		assert.Equal(t, q, i.Quantity())
		assert.Len(t, i.Uncommitted(), before, "rejected operations raise nothing")
	}
}

func TestItem_NegativeAmounts(t *testing.T) {
	i := newItem(t, "SKU")
	require.ErrorIs(t, i.AddStock(-1), ErrDomainRule)
	require.ErrorIs(t, i.DecreaseStock(-1), ErrDomainRule)
	assert.Equal(t, int64(0), i.Quantity())
}

func TestItem_AddStockOverflow(t *testing.T) {
	i := newItem(t, "SKU")
	require.NoError(t, i.AddStock(1))

	err := i.AddStock(math.MaxInt64)
	require.ErrorIs(t, err, ErrDomainRule)
	assert.EqualError(t, err, "quantity exceeds the maximum stock level")
	assert.Equal(t, int64(1), i.Quantity())
	assert.Len(t, i.Uncommitted(), 2)

	require.NoError(t, i.AddStock(math.MaxInt64-1))
	assert.Equal(t, int64(math.MaxInt64), i.Quantity())
	require.ErrorIs(t, i.AddStock(1), ErrDomainRule)
}

func TestItem_DeactivateTwice(t *testing.T) {
	i := newItem(t, "SKU")
	require.NoError(t, i.AddStock(4))
	require.NoError(t, i.Deactivate())

	err := i.Deactivate()
	require.ErrorIs(t, err, ErrDomainRule)
	assert.EqualError(t, err, "can not deactivate an inactive item")
	assert.Equal(t, StatusInactive, i.Status())
	assert.Equal(t, int64(4), i.Quantity())
	assert.Len(t, i.Uncommitted(), 3)
}

func TestItem_LoadFromHistoryIsDeterministic(t *testing.T) {
	history := []es.Event{
		ItemCreated{ID: "item-1", SKU: "SKU"},
		StockAdded{ID: "item-1", Quantity: 10},
		StockDecreased{ID: "item-1", Quantity: 4},
		StockAdded{ID: "item-1", Quantity: 2},
		ItemDeactivated{ID: "item-1"},
	}

	a := New("item-1")
	require.NoError(t, es.LoadFromHistory(a, history...))
	b := New("item-1")
	require.NoError(t, es.LoadFromHistory(b, history...))

	assert.Equal(t, a, b)
	assert.Equal(t, int64(8), a.Quantity())
	assert.Equal(t, StatusInactive, a.Status())
	assert.Equal(t, es.Version(4), a.Version())
	assert.Empty(t, a.Uncommitted())
}

func TestItem_UnrecognizedEvent(t *testing.T) {
	i := New("item-1")
	err := es.LoadFromHistory(i, foreignEvent{})
	require.ErrorIs(t, err, es.ErrUnrecognizedEvent)
}

func TestItem_SnapshotRoundTrip(t *testing.T) {
	i := New("item-1")
	require.NoError(t, es.LoadFromHistory(i,
		ItemCreated{ID: "item-1", SKU: "SKU"},
		StockAdded{ID: "item-1", Quantity: 3},
	))

	s, err := es.TakeSnapshot(i)
	require.NoError(t, err)
	assert.Equal(t, es.Version(1), s.Revision)

	restored := New("item-1")
	require.NoError(t, es.LoadFromSnapshot(restored, s))
	assert.Equal(t, i.SKU(), restored.SKU())
	assert.Equal(t, i.Quantity(), restored.Quantity())
	assert.Equal(t, i.Status(), restored.Status())
	assert.Equal(t, es.Version(1), restored.Version())
}

type foreignEvent struct{}

func (foreignEvent) EventType() string { return "foreign" }
