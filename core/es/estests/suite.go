// Package estests holds conformance tests every es.EventStore and
// es.PersistentSubscriptions implementation has to pass.
package estests

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/inventory-es/core/es"
)

type (
	StoreFactory func(t *testing.T) es.EventStore

	// SubscriptionStore is a log with durable subscriptions.
	SubscriptionStore interface {
		es.EventStore
		es.PersistentSubscriptions
	}

	SubscriptionStoreFactory func(t *testing.T) SubscriptionStore
)

const lower = "abcdefghijklmnopqrstuvwxyz"

// Events returns n valid records of type "counted".
func Events(n int) []es.EventData {
	out := make([]es.EventData, n)
	for i := range out {
		out[i] = es.EventData{
			ID:   gonanoid.Must(),
			Type: "counted",
			Data: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		}
	}
	return out
}

// ReadAll drains a ReadStream sequence.
func ReadAll(t *testing.T, store es.EventStore, stream string, opts es.ReadOptions) ([]es.RecordedEvent, error) {
	t.Helper()
	var out []es.RecordedEvent
	for rec, err := range store.ReadStream(t.Context(), stream, opts) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// uniqueStream keeps subtests independent when a factory reuses one store.
func uniqueStream() string {
	return "event.counter." + gonanoid.MustGenerate(lower, 12)
}

func RunEventStoreSuite(t *testing.T, newStore StoreFactory) {
	t.Run("append preconditions", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()
		stream := uniqueStream()

		res, err := store.AppendToStream(ctx, stream, es.NoStream, Events(3))
		require.NoError(t, err)
		assert.Equal(t, es.Version(2), res.NextExpectedVersion)

		_, err = store.AppendToStream(ctx, stream, es.NoStream, Events(1))
		require.ErrorIs(t, err, es.ErrWrongExpectedVersion)
		_, err = store.AppendToStream(ctx, stream, 1, Events(1))
		require.ErrorIs(t, err, es.ErrWrongExpectedVersion)
		_, err = store.AppendToStream(ctx, stream, 3, Events(1))
		require.ErrorIs(t, err, es.ErrWrongExpectedVersion)

		res, err = store.AppendToStream(ctx, stream, 2, Events(1))
		require.NoError(t, err)
		assert.Equal(t, es.Version(3), res.NextExpectedVersion)

		res, err = store.AppendToStream(ctx, stream, es.AnyVersion, Events(1))
		require.NoError(t, err)
		assert.Equal(t, es.Version(4), res.NextExpectedVersion)

		_, err = store.AppendToStream(ctx, stream, 4, nil)
		require.ErrorIs(t, err, es.ErrStoreNoEvents)
	})

	t.Run("read", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()
		stream := uniqueStream()

		_, err := ReadAll(t, store, stream, es.ReadForwards(es.Start))
		require.ErrorIs(t, err, es.ErrStreamNotFound)

		written := Events(4)
		_, err = store.AppendToStream(ctx, stream, es.NoStream, written)
		require.NoError(t, err)

		recs, err := ReadAll(t, store, stream, es.ReadForwards(es.Start))
		require.NoError(t, err)
		require.Len(t, recs, 4)
		var positions []uint64
		for i, rec := range recs {
			assert.Equal(t, es.Version(i), rec.Revision)
			assert.Equal(t, stream, rec.StreamID)
			assert.Equal(t, written[i].ID, rec.ID)
			assert.Equal(t, "counted", rec.Type)
			assert.JSONEq(t, string(written[i].Data), string(rec.Data))
			assert.False(t, rec.CreatedAt.IsZero())
			positions = append(positions, rec.Position)
		}
		assert.IsNonDecreasing(t, positions)

		recs, err = ReadAll(t, store, stream, es.ReadForwards(2))
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, es.Version(2), recs[0].Revision)

		recs, err = ReadAll(t, store, stream, es.ReadForwards(4))
		require.NoError(t, err)
		assert.Empty(t, recs)

		recs, err = ReadAll(t, store, stream, es.ReadLast())
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, es.Version(3), recs[0].Revision)

		recs, err = ReadAll(t, store, stream, es.ReadOptions{From: 1, Direction: es.Backwards})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, es.Version(1), recs[0].Revision)
		assert.Equal(t, es.Version(0), recs[1].Revision)
	})

	t.Run("read from position hint", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()
		stream := uniqueStream()

		var positions []uint64
		for rev := range 3 {
			res, err := store.AppendToStream(ctx, stream, es.Version(rev)-1, Events(1))
			require.NoError(t, err)
			positions = append(positions, res.Position)
		}

		recs, err := ReadAll(t, store, stream, es.ReadOptions{From: 2, Position: positions[1]})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, es.Version(2), recs[0].Revision)
		assert.Equal(t, positions[2], recs[0].Position)

		recs, err = ReadAll(t, store, stream, es.ReadOptions{From: 1, Position: positions[0], MaxCount: 1})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, es.Version(1), recs[0].Revision)
	})

	t.Run("concurrent appends, one wins", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()
		stream := uniqueStream()
		_, err := store.AppendToStream(ctx, stream, es.NoStream, Events(1))
		require.NoError(t, err)

		const writers = 5
		var (
			wg   sync.WaitGroup
			errs = make([]error, writers)
		)
		for n := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[n] = store.AppendToStream(ctx, stream, 0, Events(1))
			}()
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			require.ErrorIs(t, err, es.ErrWrongExpectedVersion)
		}
		assert.Equal(t, 1, ok)

		recs, err := ReadAll(t, store, stream, es.ReadForwards(es.Start))
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})
}

func RunSubscriptionSuite(t *testing.T, newStore SubscriptionStoreFactory) {
	t.Run("deliver and resume", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()
		kind := gonanoid.MustGenerate(lower, 8)
		prefix := "event." + kind + "."
		group := "g-" + kind

		_, err := store.AppendToStream(ctx, prefix+"a", es.NoStream, Events(1))
		require.NoError(t, err)
		_, err = store.AppendToStream(ctx, prefix+"a", 0, Events(1))
		require.NoError(t, err)
		_, err = store.AppendToStream(ctx, "snapshot."+kind+".a", es.NoStream, Events(1))
		require.NoError(t, err)

		_, err = store.GetSubscriptionInfo(ctx, group)
		require.ErrorIs(t, err, es.ErrSubscriptionNotFound)
		require.NoError(t, store.CreateSubscription(ctx, group, es.SubscriptionSettings{StreamPrefix: prefix}))

		info, err := store.GetSubscriptionInfo(ctx, group)
		require.NoError(t, err)
		assert.Equal(t, prefix, info.StreamPrefix)
		assert.Equal(t, uint64(2), info.Pending)

		sub, err := store.Subscribe(ctx, group)
		require.NoError(t, err)
		for rev := range 2 {
			d, err := sub.Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, prefix+"a", d.Event().StreamID)
			assert.Equal(t, es.Version(rev), d.Event().Revision)
			assert.Equal(t, 1, d.Attempt())
			require.NoError(t, d.Ack())
		}
		require.NoError(t, sub.Close())

		_, err = store.AppendToStream(ctx, prefix+"b", es.NoStream, Events(1))
		require.NoError(t, err)

		sub, err = store.Subscribe(ctx, group)
		require.NoError(t, err)
		defer sub.Close()

		nextCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		d, err := sub.Next(nextCtx)
		require.NoError(t, err)
		assert.Equal(t, prefix+"b", d.Event().StreamID, "acked records are not redelivered")
		require.NoError(t, d.Ack())
	})

	t.Run("unsettled delivery is redelivered after close", func(t *testing.T) {
		store := newStore(t)
		ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
		defer cancel()
		kind := gonanoid.MustGenerate(lower, 8)
		group := "g-" + kind

		_, err := store.AppendToStream(ctx, "event."+kind+".a", es.NoStream, Events(1))
		require.NoError(t, err)
		require.NoError(t, store.CreateSubscription(ctx, group, es.SubscriptionSettings{StreamPrefix: "event." + kind + "."}))

		sub, err := store.Subscribe(ctx, group)
		require.NoError(t, err)
		d, err := sub.Next(ctx)
		require.NoError(t, err)
		first := d.Event()
		require.NoError(t, sub.Close())

		sub, err = store.Subscribe(ctx, group)
		require.NoError(t, err)
		defer sub.Close()
		d, err = sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.ID, d.Event().ID)
		assert.Equal(t, 2, d.Attempt())
		require.NoError(t, d.Ack())
	})

	t.Run("next honours context", func(t *testing.T) {
		store := newStore(t)
		group := "idle-" + gonanoid.MustGenerate(lower, 8)
		require.NoError(t, store.CreateSubscription(t.Context(), group, es.SubscriptionSettings{StreamPrefix: "event." + group + "."}))

		sub, err := store.Subscribe(t.Context(), group)
		require.NoError(t, err)
		defer sub.Close()

		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()
		_, err = sub.Next(ctx)
		require.Error(t, err)
	})
}
