// Command denormaliser consumes the published inventory events from Kafka
// and maintains the MongoDB read model.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/codewandler/inventory-es/adapters/kafka"
	"github.com/codewandler/inventory-es/internal/inventory"
	"github.com/codewandler/inventory-es/internal/inventory/readmodel"
	"github.com/codewandler/inventory-es/internal/process"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("denormaliser failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	p, err := process.Start(ctx, "denormaliser")
	if err != nil {
		return err
	}

	rows, mongoClient, err := p.ReadModel(ctx)
	if err != nil {
		return err
	}

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: p.Config.Kafka.Brokers,
		Topic:   p.Config.Kafka.Topic,
		GroupID: p.Config.Kafka.GroupID,
		Log:     p.Log,
		Metrics: p.Metrics.Bus,
	})
	denormaliser := readmodel.NewDenormaliser(rows, inventory.NewRegistry(), p.Log)

	p.App.Go("denormaliser", func(ctx context.Context) error {
		return consumer.Run(ctx, denormaliser.Handle)
	})
	p.App.OnClose("kafka", consumer.Close)
	p.App.OnClose("mongo", mongoClient.Close)

	return p.Run()
}
