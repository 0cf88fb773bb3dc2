// Command snapshot-subscriber writes an inventory item snapshot every
// SNAPSHOT_INTERVAL events.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/inventory"
	"github.com/codewandler/inventory-es/internal/inventory/snapshotter"
	"github.com/codewandler/inventory-es/internal/process"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("snapshot-subscriber failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	p, err := process.Start(ctx, "snapshot-subscriber")
	if err != nil {
		return err
	}

	store, err := p.EventStore(ctx)
	if err != nil {
		return err
	}

	runner := es.NewSubscriptionRunner(
		store,
		p.Config.Snapshot.Group,
		inventory.Streams.EventsPrefix(),
		snapshotter.New(p.Repository(store), p.Config.Snapshot.Interval),
		es.WithLog(p.Log),
		es.WithMetrics(p.Metrics.ES),
		es.WithMiddlewares(es.NewTraceMiddleware(), es.NewLogMiddleware()),
	)

	p.App.Go("snapshotter", runner.Run)
	p.App.OnClose("nats", store.Close)

	return p.Run()
}
