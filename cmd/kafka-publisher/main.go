// Command kafka-publisher forwards every committed inventory event from the
// durable log subscription to Kafka.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/codewandler/inventory-es/adapters/kafka"
	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/inventory"
	"github.com/codewandler/inventory-es/internal/inventory/publisher"
	"github.com/codewandler/inventory-es/internal/process"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("kafka-publisher failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	p, err := process.Start(ctx, "kafka-publisher")
	if err != nil {
		return err
	}

	store, err := p.EventStore(ctx)
	if err != nil {
		return err
	}

	progress, err := p.PublishProgress(ctx)
	if err != nil {
		_ = store.Close()
		return err
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  p.Config.Kafka.Brokers,
		ClientID: p.Config.Kafka.ClientID,
		Log:      p.Log,
		Metrics:  p.Metrics.Bus,
	})

	runner := es.NewSubscriptionRunner(
		store,
		p.Config.PublisherGroup,
		inventory.Streams.EventsPrefix(),
		publisher.New(producer, publisher.NewProgress(progress), inventory.NewRegistry(), p.Config.Kafka.Topic),
		es.WithLog(p.Log),
		es.WithMetrics(p.Metrics.ES),
		es.WithMiddlewares(es.NewLogMiddleware()),
	)

	p.App.Go("publisher", runner.Run)
	p.App.OnClose("kafka", producer.Close)
	p.App.OnClose("progress", progress.Close)
	p.App.OnClose("nats", store.Close)

	return p.Run()
}
