// Command inventory-service serves the inventory commands and queries over
// HTTP. Commands are written to the NATS JetStream log, queries are read
// from the MongoDB read model.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codewandler/inventory-es/core/app"
	"github.com/codewandler/inventory-es/internal/httpapi"
	"github.com/codewandler/inventory-es/internal/inventory/command"
	"github.com/codewandler/inventory-es/internal/inventory/readmodel"
	"github.com/codewandler/inventory-es/internal/process"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("inventory-service failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	p, err := process.Start(ctx, "inventory-service")
	if err != nil {
		return err
	}

	store, err := p.EventStore(ctx)
	if err != nil {
		return err
	}
	rows, mongoClient, err := p.ReadModel(ctx)
	if err != nil {
		_ = store.Close()
		return err
	}

	bus := command.NewBus(p.Log)
	if err := command.NewHandlers(p.Repository(store)).Register(bus); err != nil {
		return err
	}

	api := httpapi.New(p.Log, bus, readmodel.NewQueryService(rows))
	p.App.Go("http", app.HTTPServer(&http.Server{
		Addr:              p.Config.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}, p.Config.ShutdownTimeout))

	p.App.OnClose("mongo", mongoClient.Close)
	p.App.OnClose("nats", store.Close)

	p.Log.Info("listening", slog.String("addr", p.Config.HTTPAddr))
	return p.Run()
}
