package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	type progress struct {
		Revision int64 `json:"revision"`
	}
	s := NewMemStore()
	ctx := t.Context()

	_, _, err := Get[progress](ctx, s, "event.item.1")
	require.ErrorIs(t, err, ErrNotFound)

	rev, err := Put(ctx, s, "event.item.1", progress{Revision: 0}, 0)
	require.NoError(t, err)
	_, err = Put(ctx, s, "event.item.1", progress{Revision: 5}, 0)
	require.ErrorIs(t, err, ErrConflict, "create requires a missing key")

	rev2, err := Put(ctx, s, "event.item.1", progress{Revision: 1}, rev)
	require.NoError(t, err)
	assert.Greater(t, rev2, rev)

	_, err = Put(ctx, s, "event.item.1", progress{Revision: 2}, rev)
	require.ErrorIs(t, err, ErrConflict, "stale revision")

	loaded, loadedRev, err := Get[progress](ctx, s, "event.item.1")
	require.NoError(t, err)
	assert.Equal(t, progress{Revision: 1}, loaded)
	assert.Equal(t, rev2, loadedRev)
}
