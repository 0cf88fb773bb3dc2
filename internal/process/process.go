// Package process wires the ambient stack shared by every inventory binary:
// configuration, logging, tracing, metrics and the lifecycle.
package process

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/codewandler/inventory-es/adapters/mongo"
	"github.com/codewandler/inventory-es/adapters/nats"
	promadapter "github.com/codewandler/inventory-es/adapters/prometheus"
	"github.com/codewandler/inventory-es/core/app"
	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/config"
	"github.com/codewandler/inventory-es/internal/inventory"
	"github.com/codewandler/inventory-es/internal/logging"
	"github.com/codewandler/inventory-es/internal/telemetry"
)

type Process struct {
	Config  config.Config
	Log     *slog.Logger
	Metrics *promadapter.AllMetrics
	App     *app.App

	natsConnect     nats.Connector
	shutdownTracing telemetry.ShutdownFunc
}

// Start loads the configuration and sets up logging, tracing and metrics
// for the process called name. ctx ends the process.
func Start(ctx context.Context, name string) (*Process, error) {
	cfg, err := config.Load(".env")
	if err != nil {
		return nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = name
	}

	log, err := logging.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := app.New(app.Config{
		Context:         ctx,
		Log:             log,
		Name:            cfg.ServiceName,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MetricsAddr:     cfg.MetricsAddr,
		Gatherer:        reg,
	})

	return &Process{
		Config:          cfg,
		Log:             log,
		Metrics:         promadapter.NewAllMetrics(reg),
		App:             a,
		natsConnect:     nats.ReuseConnection(nats.ConnectURL(cfg.NATS.URL, log)),
		shutdownTracing: shutdownTracing,
	}, nil
}

// EventStore connects the NATS JetStream log.
func (p *Process) EventStore(ctx context.Context) (*nats.EventStore, error) {
	c := p.Config.NATS
	store, err := nats.NewEventStore(ctx, nats.EventStoreConfig{
		Connect:       p.natsConnect,
		Log:           p.Log,
		StreamName:    c.Stream,
		SubjectPrefix: c.SubjectPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	return store, nil
}

// PublishProgress opens the bucket tracking the last published revision of
// every stream. It shares the connection of the event store.
func (p *Process) PublishProgress(ctx context.Context) (*nats.KVStore, error) {
	store, err := nats.NewKVStore(ctx, nats.KVConfig{
		Connect: p.natsConnect,
		Log:     p.Log,
		Bucket:  p.Config.NATS.ProgressBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open publish progress: %w", err)
	}
	return store, nil
}

// Repository returns the inventory repository on store, instrumented.
func (p *Process) Repository(store es.EventStore) *inventory.Repository {
	return inventory.NewRepository(store, inventory.NewRegistry(), es.WithLog(p.Log), es.WithMetrics(p.Metrics.ES))
}

// ReadModel opens the MongoDB read model store.
func (p *Process) ReadModel(ctx context.Context) (*mongo.InventoryStore, *mongo.Client, error) {
	c := p.Config.Mongo
	client, err := mongo.Connect(ctx, mongo.Config{URI: c.URI, Database: c.Database, Timeout: c.Timeout})
	if err != nil {
		return nil, nil, err
	}
	store, err := mongo.NewInventoryStore(ctx, client.Collection(c.Collection))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, client, nil
}

// Run runs the app. Pending spans are flushed after every resource closed.
func (p *Process) Run() error {
	err := p.App.Run()

	ctx, cancel := context.WithTimeout(context.Background(), p.Config.ShutdownTimeout)
	defer cancel()
	if flushErr := p.shutdownTracing(ctx); flushErr != nil {
		p.Log.Warn("failed to flush traces", slog.Any("error", flushErr))
	}
	return err
}
