package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/codewandler/inventory-es/ports/bus"
)

var errProducerClosed = errors.New("kafka producer closed")

type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	WriteTimeout time.Duration
	Log          *slog.Logger
	Metrics      bus.Metrics
}

// Producer writes messages synchronously, keyed by the message key so
// that every message of one key lands on the same partition in order.
type Producer struct {
	mu        sync.Mutex
	w         *kafkago.Writer
	cfg       ProducerConfig
	log       *slog.Logger
	metrics   bus.Metrics
	lastReset time.Time
}

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = bus.NopMetrics()
	}
	return &Producer{
		w:       newWriter(cfg),
		cfg:     cfg,
		log:     log.With(slog.String("kafka", "producer")),
		metrics: m,
	}
}

func newWriter(cfg ProducerConfig) *kafkago.Writer {
	// a short metadata TTL lets the writer follow broker address changes
	tr := &kafkago.Transport{
		ClientID:    cfg.ClientID,
		MetadataTTL: 10 * time.Second,
	}

	return &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		Async:                  false,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Transport:              tr,
	}
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil {
		return nil
	}
	err := p.w.Close()
	p.w = nil
	return err
}

// Publish writes msgs and returns once the brokers acknowledged all of
// them. On a network or metadata failure the writer is recreated and the
// write retried once.
func (p *Producer) Publish(ctx context.Context, msgs ...bus.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	kmsgs := make([]kafkago.Message, len(msgs))
	for i, m := range msgs {
		kmsgs[i] = toKafka(m)
	}
	topic := msgs[0].Topic

	write := func() error {
		p.mu.Lock()
		w := p.w
		p.mu.Unlock()
		if w == nil {
			return errProducerClosed
		}
		wctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		defer cancel()
		return w.WriteMessages(wctx, kmsgs...)
	}

	err := write()
	if err != nil && shouldReset(err) {
		p.log.Warn("kafka_writer_reset", slog.String("err", err.Error()))
		p.resetOnce()
		err = write()
	}
	if err != nil {
		p.metrics.PublishFailed(topic)
		return err
	}
	p.metrics.Published(topic, len(msgs))
	return nil
}

func (p *Producer) resetOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil || time.Since(p.lastReset) < 2*time.Second {
		return
	}
	_ = p.w.Close()
	p.w = newWriter(p.cfg)
	p.lastReset = time.Now()
}

var _ bus.Producer = (*Producer)(nil)
