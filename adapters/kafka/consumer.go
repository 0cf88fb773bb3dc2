package kafka

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/codewandler/inventory-es/ports/bus"
)

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	// StartOffset is where a new group starts reading: "first" or "last".
	// Default: "first".
	StartOffset string

	MinBytes int
	MaxBytes int

	Backoff bus.Backoff
	Log     *slog.Logger
	Metrics bus.Metrics
}

// Consumer reads a topic as a consumer group. Offsets are committed only
// after the handler succeeded, so a crash redelivers the last messages.
type Consumer struct {
	mu  sync.Mutex
	r   *kafkago.Reader
	cfg ConsumerConfig
	log *slog.Logger
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.Backoff == (bus.Backoff{}) {
		cfg.Backoff = bus.DefaultBackoff
	}
	if cfg.Metrics == nil {
		cfg.Metrics = bus.NopMetrics()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		r:   newReader(cfg),
		cfg: cfg,
		log: log.With(slog.String("topic", cfg.Topic), slog.String("group_id", cfg.GroupID)),
	}
}

func newReader(cfg ConsumerConfig) *kafkago.Reader {
	minB := cfg.MinBytes
	maxB := cfg.MaxBytes
	if minB == 0 {
		minB = 1
	}
	if maxB == 0 {
		maxB = 10e6
	}

	start := kafkago.FirstOffset
	if strings.EqualFold(cfg.StartOffset, "last") {
		start = kafkago.LastOffset
	}

	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    start,
		MinBytes:       minB,
		MaxBytes:       maxB,
		MaxWait:        500 * time.Millisecond,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: 1 * time.Second,
	})
}

func (c *Consumer) reader() *kafkago.Reader {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.r
}

// Run fetches and handles messages until ctx is done. A failing message is
// retried with backoff and blocks its partition; a poison message stops
// Run with an error and is not committed.
func (c *Consumer) Run(ctx context.Context, h bus.Handler) error {
	c.log.Info("consumer_start")
	defer c.log.Info("consumer_shutdown")

	for {
		r := c.reader()
		if r == nil {
			return errors.New("kafka consumer closed")
		}

		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("kafka_fetch_failed", slog.String("err", err.Error()))
			if shouldReset(err) {
				c.reopen()
			}
			if !sleep(ctx, 300*time.Millisecond) {
				return nil
			}
			continue
		}

		err = bus.HandleWithRetry(ctx, c.log, h, fromKafka(km), c.cfg.Backoff, c.cfg.Metrics)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error(
				"message_poisoned",
				slog.String("err", err.Error()),
				slog.Int("partition", km.Partition),
				slog.Int64("offset", km.Offset),
			)
			return err
		}

		// a handled message is committed even when shutdown began meanwhile
		if err := r.CommitMessages(context.WithoutCancel(ctx), km); err != nil {
			c.log.Error("kafka_commit_failed", slog.String("err", err.Error()))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// reopen recreates the reader after a broker or metadata failure.
func (c *Consumer) reopen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r == nil {
		return
	}
	_ = c.r.Close()
	c.r = newReader(c.cfg)
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r == nil {
		return nil
	}
	err := c.r.Close()
	c.r = nil
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ bus.Consumer = (*Consumer)(nil)
