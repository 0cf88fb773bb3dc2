package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func appendN(t *testing.T, store *InMemoryStore, stream string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.AppendToStream(t.Context(), stream, AnyVersion, []EventData{{
			ID:   fmt.Sprintf("%s-%d", stream, i),
			Type: "counted",
			Data: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		}})
		require.NoError(t, err)
	}
}

type collector struct {
	mu   sync.Mutex
	seen []RecordedEvent
	fail func(RecordedEvent, int) error
	want int
	done chan struct{}
}

func newCollector(want int) *collector {
	return &collector{want: want, done: make(chan struct{})}
}

func (c *collector) Handle(msgCtx MsgCtx) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		if err := c.fail(msgCtx.Event(), msgCtx.Attempt()); err != nil {
			return err
		}
	}
	c.seen = append(c.seen, msgCtx.Event())
	if len(c.seen) == c.want {
		close(c.done)
	}
	return nil
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for events")
	}
}

func runInBackground(t *testing.T, r *SubscriptionRunner) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	return cancel, errCh
}

func TestSubscriptionRunner_DeliversInOrderAndCreatesSubscription(t *testing.T) {
	store := NewInMemoryStore()
	appendN(t, store, "event.counter.a", 3)
	appendN(t, store, "other.counter.a", 2)
	appendN(t, store, "event.counter.b", 2)

	c := newCollector(5)
	r := NewSubscriptionRunner(store, "group-1", "event.counter.", c)
	assert.Equal(t, StateNotStarted, r.State())

	cancel, errCh := runInBackground(t, r)
	c.wait(t)

	info, err := store.GetSubscriptionInfo(t.Context(), "group-1")
	require.NoError(t, err)
	assert.Equal(t, "event.counter.", info.StreamPrefix)
	assert.Equal(t, StateRunning, r.State())

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, StateStopped, r.State())

	var positions []uint64
	for _, ev := range c.seen {
		assert.Contains(t, ev.StreamID, "event.counter.")
		positions = append(positions, ev.Position)
	}
	assert.IsIncreasing(t, positions)
}

func TestSubscriptionRunner_ResumesFromDurablePosition(t *testing.T) {
	store := NewInMemoryStore()
	appendN(t, store, "event.counter.a", 2)

	first := newCollector(2)
	cancel, errCh := runInBackground(t, NewSubscriptionRunner(store, "group-1", "event.counter.", first))
	first.wait(t)
	cancel()
	require.NoError(t, <-errCh)

	appendN(t, store, "event.counter.b", 1)

	second := newCollector(1)
	cancel, errCh = runInBackground(t, NewSubscriptionRunner(store, "group-1", "event.counter.", second))
	second.wait(t)
	cancel()
	require.NoError(t, <-errCh)

	require.Len(t, second.seen, 1)
	assert.Equal(t, "event.counter.b", second.seen[0].StreamID)
}

func TestSubscriptionRunner_NackedEventIsRetriedAndDoesNotBlock(t *testing.T) {
	store := NewInMemoryStore()
	appendN(t, store, "event.counter.a", 3)

	c := newCollector(3)
	c.fail = func(ev RecordedEvent, attempt int) error {
		if ev.Revision == 0 && attempt < 3 {
			return errors.New("transient")
		}
		return nil
	}

	cancel, errCh := runInBackground(t, NewSubscriptionRunner(store, "group-1", "event.counter.", c))
	c.wait(t)
	cancel()
	require.NoError(t, <-errCh)

	require.Len(t, c.seen, 3)
	assert.Equal(t, Version(1), c.seen[0].Revision, "later records are not blocked by a failing one")
	assert.Equal(t, Version(0), c.seen[2].Revision)
}

func TestSubscriptionRunner_PanicIsIsolated(t *testing.T) {
	store := NewInMemoryStore()
	appendN(t, store, "event.counter.a", 2)

	c := newCollector(2)
	var once sync.Once
	c.fail = func(ev RecordedEvent, attempt int) error {
		once.Do(func() { panic("boom") })
		return nil
	}

	cancel, errCh := runInBackground(t, NewSubscriptionRunner(store, "group-1", "event.counter.", c))
	c.wait(t)
	cancel()
	require.NoError(t, <-errCh)
}

type failingSubs struct {
	*InMemoryStore
	infoErr error
}

func (f *failingSubs) GetSubscriptionInfo(context.Context, string) (SubscriptionInfo, error) {
	return SubscriptionInfo{}, f.infoErr
}

func TestSubscriptionRunner_DescribeErrorIsFatal(t *testing.T) {
	subs := &failingSubs{InMemoryStore: NewInMemoryStore(), infoErr: errors.New("unavailable")}
	r := NewSubscriptionRunner(subs, "group-1", "event.counter.", HandleFunc(func(MsgCtx) error { return nil }))

	err := r.Run(t.Context())
	require.ErrorContains(t, err, "unavailable")
	assert.Equal(t, StateStopped, r.State())

	_, err = subs.InMemoryStore.GetSubscriptionInfo(t.Context(), "group-1")
	require.ErrorIs(t, err, ErrSubscriptionNotFound, "nothing is created after a failed describe")
}

func TestSubscriptionRunner_RunTwice(t *testing.T) {
	store := NewInMemoryStore()
	r := NewSubscriptionRunner(store, "group-1", "event.", HandleFunc(func(MsgCtx) error { return nil }))
	cancel, errCh := runInBackground(t, r)
	defer func() {
		cancel()
		<-errCh
	}()

	require.Eventually(t, func() bool { return r.State() == StateRunning }, time.Second, 5*time.Millisecond)
	require.Error(t, r.Run(t.Context()))
}

func TestSubscriptionRunner_Middlewares(t *testing.T) {
	store := NewInMemoryStore()
	appendN(t, store, "event.counter.a", 1)

	var order []string
	mw := func(name string) HandlerMiddleware {
		return MiddlewareHandle(func(msgCtx MsgCtx, next Handler) error {
			order = append(order, name)
			return next.Handle(msgCtx)
		})
	}

	c := newCollector(1)
	cancel, errCh := runInBackground(t, NewSubscriptionRunner(
		store, "group-1", "event.counter.", c,
		WithMiddlewares(mw("outer"), NewLogMiddleware(), mw("inner")),
	))
	c.wait(t)
	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestTraceMiddleware_RestoresWriterContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	store := NewInMemoryStore()
	_, err := store.AppendToStream(t.Context(), "event.counter.a", NoStream, []EventData{{
		ID:       "a",
		Type:     "counted",
		Data:     json.RawMessage(`{}`),
		Metadata: map[string]string{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
	}})
	require.NoError(t, err)

	got := make(chan string, 1)
	h := HandleFunc(func(msgCtx MsgCtx) error {
		got <- InjectTraceContext(msgCtx.Context())["traceparent"]
		return nil
	})

	cancel, errCh := runInBackground(t, NewSubscriptionRunner(store, "group-1", "event.counter.", h,
		WithMiddlewares(NewTraceMiddleware()),
	))
	defer func() {
		cancel()
		require.NoError(t, <-errCh)
	}()

	select {
	case tp := <-got:
		assert.Contains(t, tp, "4bf92f3577b34da6a3ce929d0e0e4736")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
}
