package integration

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/inventory-es/core/app"
	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/inventory"
	"github.com/codewandler/inventory-es/internal/inventory/command"
	"github.com/codewandler/inventory-es/internal/inventory/publisher"
	"github.com/codewandler/inventory-es/internal/inventory/readmodel"
	"github.com/codewandler/inventory-es/internal/inventory/snapshotter"
	"github.com/codewandler/inventory-es/ports/bus"
	"github.com/codewandler/inventory-es/ports/kv"
)

type pipeline struct {
	commands *command.Bus
	repo     *inventory.Repository
	queries  *readmodel.QueryService
	broker   *bus.InMemory
}

// startPipeline runs the write side, the publisher, the snapshotter and the
// denormaliser in process, wired the way the binaries wire them.
func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	return startPipelineWith(t, func(b *bus.InMemory) bus.Producer { return b })
}

// startPipelineWith publishes through the producer returned by producer.
func startPipelineWith(t *testing.T, producer func(*bus.InMemory) bus.Producer) *pipeline {
	t.Helper()

	store := es.NewInMemoryStore()
	registry := inventory.NewRegistry()
	repo := inventory.NewRepository(store, registry)

	commands := command.NewBus(nil)
	require.NoError(t, command.NewHandlers(repo).Register(commands))

	broker := bus.NewInMemory(nil)
	rows := readmodel.NewMemoryStore()
	denormaliser := readmodel.NewDenormaliser(rows, registry, nil)
	consumer := broker.Consumer("denormaliser", publisher.DefaultTopic, bus.WithBackoff(bus.Backoff{Min: time.Millisecond, Max: 10 * time.Millisecond}))

	ctx, cancel := context.WithCancel(t.Context())
	a := app.New(app.Config{Context: ctx, ShutdownTimeout: 2 * time.Second})
	a.Go("publisher", es.NewSubscriptionRunner(
		store, publisher.DefaultGroup, inventory.Streams.EventsPrefix(),
		publisher.New(producer(broker), publisher.NewProgress(kv.NewMemStore()), registry, publisher.DefaultTopic),
	).Run)
	a.Go("snapshotter", es.NewSubscriptionRunner(
		store, snapshotter.DefaultGroup, inventory.Streams.EventsPrefix(),
		snapshotter.New(repo, snapshotter.DefaultInterval),
	).Run)
	a.Go("denormaliser", func(ctx context.Context) error {
		return consumer.Run(ctx, denormaliser.Handle)
	})
	a.OnClose("bus", broker.Close)

	done := make(chan error, 1)
	go func() { done <- a.Run() }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	return &pipeline{commands: commands, repo: repo, queries: readmodel.NewQueryService(rows), broker: broker}
}

func (p *pipeline) eventuallyView(t *testing.T, id string, want readmodel.ItemView) {
	t.Helper()
	require.EventuallyWithT(t, func(c *assert.CollectT) {
		view, err := p.queries.GetByID(t.Context(), id)
		if !assert.NoError(c, err) {
			return
		}
		assert.Equal(c, want, view)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPipeline_CommandsReachTheReadModel(t *testing.T) {
	p := startPipeline(t)
	ctx := t.Context()

	res, err := p.commands.Dispatch(ctx, command.Create{SKU: "WIDGET-1"})
	require.NoError(t, err)
	id := res.ID

	res, err = p.commands.Dispatch(ctx, command.AddStock{ID: id, Quantity: 10, ExpectedRevision: res.Revision})
	require.NoError(t, err)
	res, err = p.commands.Dispatch(ctx, command.DecreaseStock{ID: id, Quantity: 3, ExpectedRevision: res.Revision})
	require.NoError(t, err)

	p.eventuallyView(t, id, readmodel.ItemView{ID: id, SKU: "WIDGET-1", Status: "active", Quantity: 7, CurrentRevision: 2})

	_, err = p.commands.Dispatch(ctx, command.Deactivate{ID: id, ExpectedRevision: res.Revision})
	require.NoError(t, err)

	p.eventuallyView(t, id, readmodel.ItemView{ID: id, SKU: "WIDGET-1", Status: "inactive", Quantity: 7, CurrentRevision: 3})

	msgs := p.broker.Messages(publisher.DefaultTopic)
	require.Len(t, msgs, 4)
	for _, m := range msgs {
		assert.Equal(t, id, string(m.Key))
	}
}

func TestPipeline_SnapshotsAreWrittenEveryTenEvents(t *testing.T) {
	p := startPipeline(t)
	ctx := t.Context()

	res, err := p.commands.Dispatch(ctx, command.Create{SKU: "WIDGET-2"})
	require.NoError(t, err)
	for range 11 {
		res, err = p.commands.Dispatch(ctx, command.AddStock{ID: res.ID, Quantity: 1, ExpectedRevision: res.Revision})
		require.NoError(t, err)
	}
	require.Equal(t, es.Version(11), res.Revision)

	require.EventuallyWithT(t, func(c *assert.CollectT) {
		snap, err := p.repo.LoadSnapshot(ctx, res.ID)
		if !assert.NoError(c, err) || !assert.NotNil(c, snap) {
			return
		}
		assert.GreaterOrEqual(c, snap.Revision, es.Version(10))
	}, 5*time.Second, 10*time.Millisecond)

	item, err := p.repo.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11), item.Quantity())
	assert.Equal(t, es.Version(11), item.Version())

	p.eventuallyView(t, res.ID, readmodel.ItemView{ID: res.ID, SKU: "WIDGET-2", Status: "active", Quantity: 11, CurrentRevision: 11})
}

func TestPipeline_StaleCommandLeavesNoTrace(t *testing.T) {
	p := startPipeline(t)
	ctx := t.Context()

	res, err := p.commands.Dispatch(ctx, command.Create{SKU: "WIDGET-3"})
	require.NoError(t, err)
	_, err = p.commands.Dispatch(ctx, command.AddStock{ID: res.ID, Quantity: 5, ExpectedRevision: 0})
	require.NoError(t, err)
	_, err = p.commands.Dispatch(ctx, command.AddStock{ID: res.ID, Quantity: 5, ExpectedRevision: 0})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	p.eventuallyView(t, res.ID, readmodel.ItemView{ID: res.ID, SKU: "WIDGET-3", Status: "active", Quantity: 5, CurrentRevision: 1})
	assert.Len(t, p.broker.Messages(publisher.DefaultTopic), 2)
}

// unreliableBroker fails the first publish.
type unreliableBroker struct {
	*bus.InMemory
	failed atomic.Bool
}

func (u *unreliableBroker) Publish(ctx context.Context, msgs ...bus.Message) error {
	if u.failed.CompareAndSwap(false, true) {
		return errors.New("broker unavailable")
	}
	return u.InMemory.Publish(ctx, msgs...)
}

func TestPipeline_FailedPublishKeepsOrderOnTheBus(t *testing.T) {
	p := startPipelineWith(t, func(b *bus.InMemory) bus.Producer { return &unreliableBroker{InMemory: b} })
	ctx := t.Context()

	res, err := p.commands.Dispatch(ctx, command.Create{SKU: "WIDGET-4"})
	require.NoError(t, err)
	id := res.ID
	for _, q := range []int64{5, 10} {
		res, err = p.commands.Dispatch(ctx, command.AddStock{ID: id, Quantity: q, ExpectedRevision: res.Revision})
		require.NoError(t, err)
	}

	p.eventuallyView(t, id, readmodel.ItemView{ID: id, SKU: "WIDGET-4", Status: "active", Quantity: 15, CurrentRevision: 2})

	var order []int64
	for _, m := range p.broker.Messages(publisher.DefaultTopic) {
		var env bus.Envelope
		require.NoError(t, json.Unmarshal(m.Value, &env))
		order = append(order, env.Revision)
	}
	assert.Equal(t, []int64{0, 1, 2}, order)
}
