package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// RunnerState is the lifecycle state of a SubscriptionRunner.
type RunnerState int32

const (
	StateNotStarted RunnerState = iota
	StateEnsuringSubscription
	StateRunning
	StateStopped
)

func (s RunnerState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateEnsuringSubscription:
		return "ensuring_subscription"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// SubscriptionRunner tails the log through a durable subscription and hands
// every record to a Handler. A record is acknowledged when the handler
// succeeds and nacked for retry when it fails. Records are handled one at a
// time and a failing record never stops the loop; retry scheduling belongs
// to the log.
type SubscriptionRunner struct {
	subs     PersistentSubscriptions
	group    string
	settings SubscriptionSettings
	handler  Handler
	log      *slog.Logger
	metrics  ESMetrics
	state    atomic.Int32
}

func NewSubscriptionRunner(
	subs PersistentSubscriptions,
	group string,
	streamPrefix string,
	handler Handler,
	opts ...RunnerOption,
) *SubscriptionRunner {
	options := newRunnerOpts(opts...)
	return &SubscriptionRunner{
		subs:     subs,
		group:    group,
		settings: SubscriptionSettings{StreamPrefix: streamPrefix},
		handler:  applyMiddlewares(handler, options.mws),
		log:      options.log.With(slog.String("subscription", group)),
		metrics:  options.metrics,
	}
}

func (r *SubscriptionRunner) State() RunnerState { return RunnerState(r.state.Load()) }
func (r *SubscriptionRunner) Group() string      { return r.group }

func (r *SubscriptionRunner) setState(s RunnerState) {
	r.state.Store(int32(s))
	r.log.Debug("state", slog.String("state", s.String()))
}

// Run ensures the subscription exists and processes records until ctx is
// done. A handler invocation that is in flight when ctx is cancelled is
// allowed to finish and its record is acked or nacked before Run returns.
// Run returns nil on cancellation and an error when the subscription could
// not be ensured or the log stopped delivering.
func (r *SubscriptionRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNotStarted), int32(StateEnsuringSubscription)) {
		return fmt.Errorf("subscription runner %s already started", r.group)
	}
	defer r.setState(StateStopped)

	r.log.Info("starting", slog.String("handler", fmt.Sprintf("%T", r.handler)), slog.String("stream_prefix", r.settings.StreamPrefix))

	if err := r.ensureSubscription(ctx); err != nil {
		return err
	}

	sub, err := r.subs.Subscribe(ctx, r.group)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.group, err)
	}
	defer func() {
		if closeErr := sub.Close(); closeErr != nil {
			r.log.Error("failed to close subscription", slog.Any("error", closeErr))
		}
		r.log.Info("stopped")
	}()

	r.setState(StateRunning)

	for {
		d, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSubscriptionClosed) {
				return nil
			}
			return fmt.Errorf("subscription %s: %w", r.group, err)
		}
		r.process(context.WithoutCancel(ctx), d)
	}
}

func (r *SubscriptionRunner) ensureSubscription(ctx context.Context) error {
	info, err := r.subs.GetSubscriptionInfo(ctx, r.group)
	if err == nil {
		r.log.Debug("subscription exists", slog.Uint64("pending", info.Pending))
		r.metrics.SubscriptionLag(r.group, info.Pending)
		return nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return fmt.Errorf("failed to describe subscription %s: %w", r.group, err)
	}
	if err := r.subs.CreateSubscription(ctx, r.group, r.settings); err != nil {
		return fmt.Errorf("failed to create subscription %s: %w", r.group, err)
	}
	r.log.Info("subscription created", slog.String("stream_prefix", r.settings.StreamPrefix))
	return nil
}

func (r *SubscriptionRunner) process(ctx context.Context, d Delivery) {
	ev := d.Event()
	log := r.log.With(ev.SlogAttr(), slog.Int("attempt", d.Attempt()))

	timer := r.metrics.SubscriptionEventDuration(r.group, ev.Type)
	err := r.handle(NewMsgCtx(ctx, log, r.group, ev, d.Attempt()))
	timer.ObserveDuration()
	r.metrics.SubscriptionEventProcessed(r.group, ev.Type, err == nil)

	if err != nil {
		log.Warn("handler failed, nacking", slog.Any("error", err))
		if nackErr := d.Nack(NackRetry, err.Error()); nackErr != nil {
			log.Error("failed to nack", slog.Any("error", nackErr))
		}
		return
	}
	if ackErr := d.Ack(); ackErr != nil {
		log.Error("failed to ack", slog.Any("error", ackErr))
	}
}

func (r *SubscriptionRunner) handle(msgCtx MsgCtx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return r.handler.Handle(msgCtx)
}
