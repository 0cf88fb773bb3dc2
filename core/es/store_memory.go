package es

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

type (
	memOpts struct {
		log *slog.Logger
		now func() time.Time
	}

	InMemoryStoreOption interface {
		applyToInMemoryStore(*memOpts)
	}
)

func (o LogOption) applyToInMemoryStore(opts *memOpts)   { opts.log = o.v }
func (o ClockOption) applyToInMemoryStore(opts *memOpts) { opts.now = o.v }

// InMemoryStore is an EventStore with durable subscriptions kept in process
// memory, for tests and local development.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	now     func() time.Time
	all     []RecordedEvent
	streams map[string][]int
	groups  map[string]*memGroup
	changed chan struct{}
}

type memGroup struct {
	settings SubscriptionSettings
	cursor   int
	retry    []RecordedEvent
	attempts map[uint64]int
	parked   []RecordedEvent
}

func NewInMemoryStore(opts ...InMemoryStoreOption) *InMemoryStore {
	options := memOpts{log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt.applyToInMemoryStore(&options)
	}
	return &InMemoryStore{
		log:     options.log.With(slog.String("store", "memory")),
		now:     options.now,
		streams: map[string][]int{},
		groups:  map[string]*memGroup{},
		changed: make(chan struct{}),
	}
}

// notify wakes up every waiting subscription. Must hold s.mu.
func (s *InMemoryStore) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *InMemoryStore) head(stream string) Version {
	return Version(len(s.streams[stream]) - 1)
}

func (s *InMemoryStore) AppendToStream(
	_ context.Context,
	stream string,
	expected Version,
	events []EventData,
) (AppendResult, error) {
	if len(events) == 0 {
		return AppendResult{}, ErrStoreNoEvents
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return AppendResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	head := s.head(stream)
	if !ExpectedVersionMatches(expected, head) {
		return AppendResult{}, fmt.Errorf("%w: %s expected %s, head %s", ErrWrongExpectedVersion, stream, expected, head)
	}

	for _, e := range events {
		head++
		s.all = append(s.all, RecordedEvent{
			ID:        e.ID,
			StreamID:  stream,
			Type:      e.Type,
			Revision:  head,
			Position:  uint64(len(s.all) + 1),
			CreatedAt: s.now().UTC(),
			Data:      e.Data,
			Metadata:  e.Metadata,
		})
		s.streams[stream] = append(s.streams[stream], len(s.all)-1)
	}
	s.notify()

	s.log.Debug(
		"append",
		slog.String("stream", stream),
		head.SlogAttrWithKey("head"),
		slog.Int("num_events", len(events)),
	)

	return AppendResult{NextExpectedVersion: head, Position: uint64(len(s.all))}, nil
}

func (s *InMemoryStore) ReadStream(ctx context.Context, stream string, opts ReadOptions) iter.Seq2[RecordedEvent, error] {
	return func(yield func(RecordedEvent, error) bool) {
		s.mu.Lock()
		idx := s.streams[stream]
		records := make([]RecordedEvent, 0, len(idx))
		for _, i := range idx {
			records = append(records, s.all[i])
		}
		s.mu.Unlock()

		if len(records) == 0 {
			yield(RecordedEvent{}, fmt.Errorf("%w: %s", ErrStreamNotFound, stream))
			return
		}

		n := 0
		emit := func(rec RecordedEvent) bool {
			if err := ctx.Err(); err != nil {
				yield(RecordedEvent{}, err)
				return false
			}
			n++
			if !yield(rec, nil) {
				return false
			}
			return opts.MaxCount == 0 || n < opts.MaxCount
		}

		if opts.Direction == Backwards {
			for i := len(records) - 1; i >= 0; i-- {
				if records[i].Revision > opts.From {
					continue
				}
				if !emit(records[i]) {
					return
				}
			}
			return
		}
		for _, rec := range records {
			if rec.Revision < opts.From {
				continue
			}
			if !emit(rec) {
				return
			}
		}
	}
}

// === durable subscriptions ===

func (s *InMemoryStore) GetSubscriptionInfo(_ context.Context, group string) (SubscriptionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[group]
	if !ok {
		return SubscriptionInfo{}, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, group)
	}
	var pending uint64
	for _, rec := range s.all[g.cursor:] {
		if strings.HasPrefix(rec.StreamID, g.settings.StreamPrefix) {
			pending++
		}
	}
	return SubscriptionInfo{
		Group:        group,
		StreamPrefix: g.settings.StreamPrefix,
		Pending:      pending + uint64(len(g.retry)),
	}, nil
}

func (s *InMemoryStore) CreateSubscription(_ context.Context, group string, settings SubscriptionSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group]; ok {
		return fmt.Errorf("subscription %s already exists", group)
	}
	s.groups[group] = &memGroup{settings: settings, attempts: map[uint64]int{}}
	return nil
}

func (s *InMemoryStore) Subscribe(_ context.Context, group string) (PersistentSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, group)
	}
	return &memSubscription{
		store:    s,
		group:    group,
		inflight: map[uint64]RecordedEvent{},
		closed:   make(chan struct{}),
	}, nil
}

// Parked returns the records parked or skipped by group.
func (s *InMemoryStore) Parked(group string) []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[group]; ok {
		return append([]RecordedEvent(nil), g.parked...)
	}
	return nil
}

// next takes the next record for group. New records go first; nacked
// records are redelivered once the group has caught up. Must hold s.mu.
func (s *InMemoryStore) next(g *memGroup) (RecordedEvent, bool) {
	for g.cursor < len(s.all) {
		rec := s.all[g.cursor]
		g.cursor++
		if strings.HasPrefix(rec.StreamID, g.settings.StreamPrefix) {
			return rec, true
		}
	}
	if len(g.retry) > 0 {
		rec := g.retry[0]
		g.retry = g.retry[1:]
		return rec, true
	}
	return RecordedEvent{}, false
}

type memSubscription struct {
	store     *InMemoryStore
	group     string
	inflight  map[uint64]RecordedEvent // guarded by store.mu
	closed    chan struct{}
	closeOnce sync.Once
}

func (m *memSubscription) Next(ctx context.Context) (Delivery, error) {
	for {
		m.store.mu.Lock()
		g := m.store.groups[m.group]
		rec, ok := m.store.next(g)
		if ok {
			m.inflight[rec.Position] = rec
			g.attempts[rec.Position]++
			attempt := g.attempts[rec.Position]
			m.store.mu.Unlock()
			return &memDelivery{sub: m, ev: rec, attempt: attempt}, nil
		}
		changed := m.store.changed
		m.store.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.closed:
			return nil, ErrSubscriptionClosed
		case <-changed:
		}
	}
}

// Close ends the subscription. Records delivered but not yet settled are
// put back in front of the retry queue of the group.
func (m *memSubscription) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)

		s := m.store
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(m.inflight) == 0 {
			return
		}
		requeue := make([]RecordedEvent, 0, len(m.inflight))
		for _, rec := range m.inflight {
			requeue = append(requeue, rec)
		}
		slices.SortFunc(requeue, func(a, b RecordedEvent) int { return cmp.Compare(a.Position, b.Position) })
		g := s.groups[m.group]
		g.retry = append(requeue, g.retry...)
		clear(m.inflight)
		s.notify()
	})
	return nil
}

// settle removes rec from the in-flight set, or from the retry queue when
// Close already requeued it. Must hold store.mu.
func (m *memSubscription) settle(g *memGroup, rec RecordedEvent) {
	if _, ok := m.inflight[rec.Position]; ok {
		delete(m.inflight, rec.Position)
		return
	}
	g.retry = slices.DeleteFunc(g.retry, func(r RecordedEvent) bool { return r.Position == rec.Position })
}

type memDelivery struct {
	sub     *memSubscription
	ev      RecordedEvent
	attempt int
}

func (d *memDelivery) Event() RecordedEvent { return d.ev }
func (d *memDelivery) Attempt() int         { return d.attempt }

func (d *memDelivery) Ack() error {
	s := d.sub.store
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.groups[d.sub.group]
	d.sub.settle(g, d.ev)
	delete(g.attempts, d.ev.Position)
	return nil
}

func (d *memDelivery) Nack(action NackAction, reason string) error {
	s := d.sub.store
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.groups[d.sub.group]
	d.sub.settle(g, d.ev)
	switch action {
	case NackRetry:
		g.retry = append(g.retry, d.ev)
		s.notify()
	default:
		delete(g.attempts, d.ev.Position)
		g.parked = append(g.parked, d.ev)
	}
	s.log.Debug(
		"nack",
		slog.String("group", d.sub.group),
		slog.String("action", action.String()),
		slog.String("reason", reason),
		d.ev.SlogAttr(),
	)
	return nil
}

var (
	_ EventStore              = (*InMemoryStore)(nil)
	_ PersistentSubscriptions = (*InMemoryStore)(nil)
)
