package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/inventory-es/ports/kv"
)

func TestKVStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	type progress struct {
		Revision int64 `json:"revision"`
	}
	ctx := t.Context()
	store, err := NewKVStore(ctx, KVConfig{Connect: NewTestContainer(t), Bucket: "test_progress"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	const key = "event.inventory-item.0190"
	_, _, err = kv.Get[progress](ctx, store, key)
	require.ErrorIs(t, err, kv.ErrNotFound)

	rev, err := kv.Put(ctx, store, key, progress{Revision: 0}, 0)
	require.NoError(t, err)
	_, err = kv.Put(ctx, store, key, progress{Revision: 3}, 0)
	require.ErrorIs(t, err, kv.ErrConflict)

	rev2, err := kv.Put(ctx, store, key, progress{Revision: 1}, rev)
	require.NoError(t, err)
	_, err = kv.Put(ctx, store, key, progress{Revision: 2}, rev)
	require.ErrorIs(t, err, kv.ErrConflict)

	loaded, loadedRev, err := kv.Get[progress](ctx, store, key)
	require.NoError(t, err)
	assert.Equal(t, progress{Revision: 1}, loaded)
	assert.Equal(t, rev2, loadedRev)
}
