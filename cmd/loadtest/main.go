// Command loadtest measures command throughput against the inventory log.
//
// Run NATS with JetStream first:
//
//	docker run --net=host nats:latest -js
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/codewandler/inventory-es/adapters/nats"
	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/inventory"
	"github.com/codewandler/inventory-es/internal/inventory/command"
	"github.com/codewandler/inventory-es/internal/inventory/snapshotter"
)

type settings struct {
	N             int           `env:"N" envDefault:"50000"`
	BatchSize     int           `env:"B" envDefault:"1000"`
	Backend       string        `env:"BACKEND" envDefault:"nats"`
	NATSURL       string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Snapshot      bool          `env:"SNAPSHOT" envDefault:"true"`
	LoadAfterSave bool          `env:"LOAD_AFTER_SAVE" envDefault:"false"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"120s"`
}

func main() {
	var s settings
	checkErr(env.Parse(&s))
	if s.BatchSize < 1 {
		s.BatchSize = 1000
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	fmt.Printf("Snapshot: %t\n", s.Snapshot)
	fmt.Printf("Backend:  %s\n", s.Backend)

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	var store es.EventStore
	switch s.Backend {
	case "nats":
		natsStore, err := nats.NewEventStore(ctx, nats.EventStoreConfig{
			Log:           log,
			Connect:       nats.ConnectURL(s.NATSURL, log),
			StreamName:    "INVENTORY_LOADTEST",
			SubjectPrefix: "inventory-loadtest",
		})
		checkErr(err)
		defer natsStore.Close()
		store = natsStore
	default:
		store = es.NewInMemoryStore(es.WithLog(log))
	}

	repo := inventory.NewRepository(store, inventory.NewRegistry(), es.WithLog(log))
	bus := command.NewBus(log)
	checkErr(command.NewHandlers(repo).Register(bus))
	snaps := snapshotter.New(repo, snapshotter.DefaultInterval)

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	startAt := time.Now()
	res, err := bus.Dispatch(ctx, command.Create{SKU: "LOADTEST-1"})
	checkErr(err)

	lastTime := time.Now()
	for i := 1; i <= s.N; i++ {
		res, err = bus.Dispatch(ctx, command.AddStock{ID: res.ID, Quantity: 1, ExpectedRevision: res.Revision})
		checkErr(err)

		// inline compaction, as the snapshot subscriber would do it
		if s.Snapshot && snaps.Due(res.Revision) {
			item, err := repo.GetByID(ctx, res.ID)
			checkErr(err)
			snap, err := es.TakeSnapshot(item)
			checkErr(err)
			checkErr(repo.SaveSnapshot(ctx, res.ID, snap))
		}

		if s.LoadAfterSave {
			_, err := repo.GetByID(ctx, res.ID)
			checkErr(err)
		}

		if i%100 == 0 {
			print(".")
		}
		if i%s.BatchSize == 0 {
			mu := getMemUsage()
			n := time.Now()
			took := n.Sub(lastTime)
			fmt.Printf(" | %5d commands | %6d ms | %6d commands/s | (%d / %d) MiB mem (sys) |\n",
				s.BatchSize, took.Milliseconds(), int(float64(s.BatchSize)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
			lastTime = n
		}
	}

	// === stats ===
	println("")
	println("==========================================")

	took := time.Since(startAt)
	runtime.GC()

	item, err := repo.GetByID(ctx, res.ID)
	checkErr(err)

	fmt.Printf("  total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("       revision: %d\n", item.Version())
	fmt.Printf("       quantity: %d\n", item.Quantity())
	fmt.Printf("avg. commands/s: %d\n", int(float64(s.N)/took.Seconds()))
}

// === stats helpers ===

type memUsage struct {
	Alloc uint64 // bytes allocated and not yet freed (heap)
	Sys   uint64 // total bytes obtained from OS
}

func getMemUsage() memUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memUsage{Alloc: m.Alloc, Sys: m.Sys}
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
