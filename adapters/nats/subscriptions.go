package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/inventory-es/core/es"
)

const (
	metaStreamPrefix = "stream_prefix"
	defaultAckWait   = 30 * time.Second
	maxRetryDelay    = 5 * time.Second
)

// GetSubscriptionInfo describes the durable consumer named group.
func (e *EventStore) GetSubscriptionInfo(ctx context.Context, group string) (es.SubscriptionInfo, error) {
	cons, err := e.consumer(ctx, group)
	if err != nil {
		return es.SubscriptionInfo{}, err
	}
	info, err := cons.Info(ctx)
	if err != nil {
		return es.SubscriptionInfo{}, err
	}
	return es.SubscriptionInfo{
		Group:        group,
		StreamPrefix: info.Config.Metadata[metaStreamPrefix],
		Pending:      info.NumPending + uint64(info.NumAckPending),
	}, nil
}

// CreateSubscription creates a durable pull consumer starting at the
// beginning of the log. At most one record is in flight per group. A
// nacked record is redelivered after a delay, later records are delivered
// in the meantime.
func (e *EventStore) CreateSubscription(ctx context.Context, group string, settings es.SubscriptionSettings) error {
	filter, err := e.filterSubject(settings.StreamPrefix)
	if err != nil {
		return err
	}
	_, err = e.stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       group,
		Description:   "durable subscription over " + settings.StreamPrefix,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       defaultAckWait,
		MaxDeliver:    -1,
		MaxAckPending: 1,
		FilterSubject: filter,
		Metadata:      map[string]string{metaStreamPrefix: settings.StreamPrefix},
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", group, err)
	}
	e.log.Info("created consumer", slog.String("group", group), slog.String("filter", filter))
	return nil
}

func (e *EventStore) Subscribe(ctx context.Context, group string) (es.PersistentSubscription, error) {
	cons, err := e.consumer(ctx, group)
	if err != nil {
		return nil, err
	}
	it, err := cons.Messages(jetstream.PullMaxMessages(1))
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", group, err)
	}
	return &subscription{
		store: e,
		it:    it,
		log:   e.log.With(slog.String("group", group)),
	}, nil
}

func (e *EventStore) consumer(ctx context.Context, group string) (jetstream.Consumer, error) {
	cons, err := e.stream.Consumer(ctx, group)
	if err != nil {
		if errors.Is(err, jetstream.ErrConsumerNotFound) {
			return nil, fmt.Errorf("%w: %s", es.ErrSubscriptionNotFound, group)
		}
		return nil, err
	}
	return cons, nil
}

// subscription hands out the records of one message at a time. The message
// is settled once every record of it was acked or nacked.
type subscription struct {
	store  *EventStore
	it     jetstream.MessagesContext
	log    *slog.Logger
	closed atomic.Bool

	mu      sync.Mutex
	cur     *batch
	pending []es.RecordedEvent
}

func (s *subscription) Next(ctx context.Context) (es.Delivery, error) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		rec := s.pending[0]
		s.pending = s.pending[1:]
		b := s.cur
		s.mu.Unlock()
		return &delivery{batch: b, ev: rec}, nil
	}
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.it.Stop)
	defer stop()

	for {
		msg, err := s.it.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if s.closed.Load() || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return nil, es.ErrSubscriptionClosed
			}
			return nil, err
		}

		md, err := msg.Metadata()
		if err != nil {
			return nil, err
		}
		recs, err := s.store.decode(msg.Subject(), md.Sequence.Stream, md.Timestamp, msg.Data())
		if err != nil {
			// an undecodable message can never be handled
			s.log.Error("terminating undecodable message", slog.Uint64("seq", md.Sequence.Stream), slog.Any("error", err))
			if termErr := msg.TermWithReason(err.Error()); termErr != nil {
				return nil, termErr
			}
			continue
		}

		b := &batch{msg: msg, open: len(recs), attempt: int(md.NumDelivered)}
		s.mu.Lock()
		s.cur = b
		s.pending = recs[1:]
		s.mu.Unlock()
		return &delivery{batch: b, ev: recs[0]}, nil
	}
}

// Close stops the subscription. A message with unsettled records is nacked
// so that it is redelivered right away instead of after the ack wait.
func (s *subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.it.Stop()

	s.mu.Lock()
	b := s.cur
	s.cur, s.pending = nil, nil
	s.mu.Unlock()

	if b != nil {
		return b.abandon()
	}
	return nil
}

// batch tracks the settlement of the records of one message.
type batch struct {
	mu      sync.Mutex
	msg     jetstream.Msg
	attempt int
	open    int
	retry   bool
	park    string
	done    bool
}

func (b *batch) settle(action es.NackAction, nacked bool, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	if nacked {
		switch action {
		case es.NackRetry:
			b.retry = true
		default:
			b.park = reason
		}
	}
	b.open--
	if b.open > 0 {
		return nil
	}
	b.done = true
	switch {
	case b.retry:
		return b.msg.NakWithDelay(retryDelay(b.attempt))
	case b.park != "":
		return b.msg.TermWithReason(b.park)
	default:
		return b.msg.Ack()
	}
}

func (b *batch) abandon() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true
	return b.msg.Nak()
}

// delivery is one record of a message. Every record of a redelivered
// message is delivered again, including those acked before.
type delivery struct {
	batch *batch
	ev    es.RecordedEvent
}

func (d *delivery) Event() es.RecordedEvent { return d.ev }
func (d *delivery) Attempt() int            { return d.batch.attempt }
func (d *delivery) Ack() error              { return d.batch.settle(0, false, "") }

func (d *delivery) Nack(action es.NackAction, reason string) error {
	if reason == "" {
		reason = action.String()
	}
	return d.batch.settle(action, true, reason)
}

func retryDelay(attempt int) time.Duration {
	return min(time.Duration(attempt)*100*time.Millisecond, maxRetryDelay)
}

var _ es.PersistentSubscriptions = (*EventStore)(nil)
