package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("bus closed")

// InMemory is a single-partition bus kept in process memory. Each consumer
// group keeps its own committed offset per topic.
type InMemory struct {
	mu      sync.Mutex
	log     *slog.Logger
	topics  map[string][]Message
	offsets map[string]int64
	changed chan struct{}
	closed  bool
}

func NewInMemory(log *slog.Logger) *InMemory {
	if log == nil {
		log = slog.Default()
	}
	return &InMemory{
		log:     log.With(slog.String("bus", "memory")),
		topics:  map[string][]Message{},
		offsets: map[string]int64{},
		changed: make(chan struct{}),
	}
}

func (b *InMemory) Publish(_ context.Context, msgs ...Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for _, m := range msgs {
		m.Offset = int64(len(b.topics[m.Topic]))
		b.topics[m.Topic] = append(b.topics[m.Topic], m)
	}
	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

// Messages returns everything published to topic.
func (b *InMemory) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.topics[topic]...)
}

// Committed returns the next offset group reads from topic.
func (b *InMemory) Committed(group, topic string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offsets[group+"/"+topic]
}

func (b *InMemory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.changed)
	}
	return nil
}

// Consumer returns a Consumer reading topic as group.
func (b *InMemory) Consumer(group, topic string, opts ...ConsumerOption) Consumer {
	options := newConsumerOpts(opts...)
	return &memConsumer{
		bus:     b,
		key:     group + "/" + topic,
		topic:   topic,
		backoff: options.backoff,
		metrics: options.metrics,
		log:     b.log.With(slog.String("group", group), slog.String("topic", topic)),
	}
}

type memConsumer struct {
	bus     *InMemory
	key     string
	topic   string
	backoff Backoff
	metrics Metrics
	log     *slog.Logger
}

func (c *memConsumer) Run(ctx context.Context, h Handler) error {
	for {
		c.bus.mu.Lock()
		if c.bus.closed {
			c.bus.mu.Unlock()
			return ErrClosed
		}
		offset := c.bus.offsets[c.key]
		msgs := c.bus.topics[c.topic]
		changed := c.bus.changed
		c.bus.mu.Unlock()

		if offset < int64(len(msgs)) {
			if err := HandleWithRetry(ctx, c.log, h, msgs[offset], c.backoff, c.metrics); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			c.bus.mu.Lock()
			c.bus.offsets[c.key] = offset + 1
			c.bus.mu.Unlock()
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}

func (c *memConsumer) Close() error { return nil }

var (
	_ Producer = (*InMemory)(nil)
	_ Consumer = (*memConsumer)(nil)
)
