package inventory

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/inventory-es/core/es"
)

func newTestRepo(t *testing.T) (*Repository, *es.InMemoryStore) {
	t.Helper()
	store := es.NewInMemoryStore()
	return NewRepository(store, NewRegistry()), store
}

func createItem(t *testing.T, repo *Repository, id string, adds ...int64) *Item {
	t.Helper()
	i, err := Create(id, "WIDGET-1")
	require.NoError(t, err)
	require.NoError(t, repo.Save(t.Context(), i, es.NoStream))
	for _, q := range adds {
		require.NoError(t, i.AddStock(q))
		require.NoError(t, repo.Save(t.Context(), i, i.Version()))
	}
	return i
}

func TestRepository_SaveAndGetByID(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := t.Context()

	i, err := Create("item-1", "WIDGET-1")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, i, es.NoStream))
	assert.Empty(t, i.Uncommitted(), "buffer is cleared after commit")
	assert.Equal(t, es.Version(0), i.Version())

	loaded, err := repo.GetByID(ctx, "item-1")
	require.NoError(t, err)
	require.NoError(t, loaded.AddStock(10))
	require.NoError(t, repo.Save(ctx, loaded, 0))

	loaded, err = repo.GetByID(ctx, "item-1")
	require.NoError(t, err)
	require.NoError(t, loaded.DecreaseStock(3))
	require.NoError(t, repo.Save(ctx, loaded, 1))

	loaded, err = repo.GetByID(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), loaded.Quantity())
	assert.Equal(t, StatusActive, loaded.Status())
	assert.Equal(t, es.Version(2), loaded.Version())
	assert.Empty(t, loaded.Uncommitted())
}

func TestRepository_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.GetByID(t.Context(), "missing")
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
}

func TestRepository_CreateTwiceConflicts(t *testing.T) {
	repo, _ := newTestRepo(t)
	createItem(t, repo, "item-1")

	again, err := Create("item-1", "OTHER")
	require.NoError(t, err)
	err = repo.Save(t.Context(), again, es.NoStream)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	require.ErrorIs(t, err, es.ErrWrongExpectedVersion)
	assert.Len(t, again.Uncommitted(), 1, "buffer survives a failed save")
}

func TestRepository_StaleExpectedVersion(t *testing.T) {
	repo, store := newTestRepo(t)
	createItem(t, repo, "item-1", 1, 1, 1)

	for _, stale := range []es.Version{es.NoStream, 0, 1, 2, 4, 10} {
		i, err := repo.GetByID(t.Context(), "item-1")
		require.NoError(t, err)
		require.NoError(t, i.AddStock(1))
		err = repo.Save(t.Context(), i, stale)
		require.ErrorIs(t, err, es.ErrConcurrencyConflict, "expected %s", stale)
	}

	n := 0
	for _, err := range store.ReadStream(t.Context(), Streams.Events("item-1"), es.ReadForwards(es.Start)) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 4, n, "stream is untouched by rejected saves")
}

func TestRepository_ConcurrentSaves(t *testing.T) {
	repo, _ := newTestRepo(t)
	createItem(t, repo, "item-1", 1, 1, 1)

	a, err := repo.GetByID(t.Context(), "item-1")
	require.NoError(t, err)
	b, err := repo.GetByID(t.Context(), "item-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(3), a.Version())
	require.Equal(t, es.Version(3), b.Version())

	require.NoError(t, a.AddStock(5))
	require.NoError(t, b.DecreaseStock(1))

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for n, item := range []*Item{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[n] = repo.Save(t.Context(), item, 3)
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, es.ErrConcurrencyConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestRepository_SnapshotEquivalence(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := t.Context()
	createItem(t, repo, "item-1", 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	full, err := repo.GetByID(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, es.Version(10), full.Version())

	snap, err := es.TakeSnapshot(full)
	require.NoError(t, err)
	require.NoError(t, repo.SaveSnapshot(ctx, "item-1", snap))

	fromSnapshot, err := repo.GetByID(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, full.Quantity(), fromSnapshot.Quantity())
	assert.Equal(t, full.SKU(), fromSnapshot.SKU())
	assert.Equal(t, full.Status(), fromSnapshot.Status())
	assert.Equal(t, full.Version(), fromSnapshot.Version())
}

func TestRepository_ReadsAfterSnapshotRevision(t *testing.T) {
	store := &recordingStore{InMemoryStore: es.NewInMemoryStore()}
	repo := NewRepository(store, NewRegistry())
	ctx := t.Context()
	createItem(t, repo, "item-1", 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)

	i, err := repo.GetByID(ctx, "item-1")
	require.NoError(t, err)
	snap, err := es.TakeSnapshot(i)
	require.NoError(t, err)
	require.Equal(t, es.Version(10), snap.Revision)
	require.Equal(t, uint64(11), snap.Position, "log position of revision 10")
	require.NoError(t, repo.SaveSnapshot(ctx, "item-1", snap))

	store.reads = nil
	require.NoError(t, i.AddStock(1))
	require.NoError(t, repo.Save(ctx, i, 10))

	loaded, err := repo.GetByID(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(11), loaded.Quantity())
	assert.Equal(t, es.Version(11), loaded.Version())
	assert.Contains(t, store.reads, readCall{stream: Streams.Events("item-1"), from: 11, position: 11})
}

func TestRepository_StaleSnapshotIsAdvisory(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := t.Context()
	i := createItem(t, repo, "item-1", 5)

	snap, err := es.TakeSnapshot(i)
	require.NoError(t, err)
	require.NoError(t, repo.SaveSnapshot(ctx, "item-1", snap))

	require.NoError(t, i.DecreaseStock(2))
	require.NoError(t, i.Deactivate())
	require.NoError(t, repo.Save(ctx, i, 1))

	loaded, err := repo.GetByID(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Quantity())
	assert.Equal(t, StatusInactive, loaded.Status())
	assert.Equal(t, es.Version(3), loaded.Version())
}

func TestRepository_UnknownEventTypeAbortsLoad(t *testing.T) {
	repo, store := newTestRepo(t)
	createItem(t, repo, "item-1", 5)

	_, err := store.AppendToStream(t.Context(), Streams.Events("item-1"), 1, []es.EventData{{
		ID:   "x",
		Type: "price_changed",
		Data: json.RawMessage(`{"id":"item-1"}`),
	}})
	require.NoError(t, err)

	i, err := repo.GetByID(t.Context(), "item-1")
	require.ErrorIs(t, err, es.ErrUnknownEventType)
	assert.Nil(t, i, "no partially applied aggregate")
}

func TestRepository_MissingPayloadAbortsLoad(t *testing.T) {
	repo, store := newTestRepo(t)
	createItem(t, repo, "item-1")

	_, err := store.AppendToStream(t.Context(), Streams.Events("item-1"), 0, []es.EventData{{
		ID:   "x",
		Type: TypeStockAdded,
		Data: json.RawMessage(`null`),
	}})
	require.NoError(t, err)

	_, err = repo.GetByID(t.Context(), "item-1")
	require.ErrorIs(t, err, es.ErrMissingEventData)
}

type readCall struct {
	stream   string
	from     es.Version
	position uint64
}

type recordingStore struct {
	*es.InMemoryStore
	reads []readCall
}

func (r *recordingStore) ReadStream(ctx context.Context, stream string, opts es.ReadOptions) iter.Seq2[es.RecordedEvent, error] {
	if opts.Direction == es.Forwards {
		r.reads = append(r.reads, readCall{stream: stream, from: opts.From, position: opts.Position})
	}
	return r.InMemoryStore.ReadStream(ctx, stream, opts)
}
