package es

import (
	"context"
	"errors"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionClosed   = errors.New("subscription closed")
)

// NackAction tells the log what to do with a negatively acknowledged record.
type NackAction int

const (
	// NackRetry asks the log to redeliver the record later.
	NackRetry NackAction = iota
	// NackPark removes the record from the subscription and keeps it for
	// inspection, where the log supports that.
	NackPark
	// NackSkip drops the record from the subscription.
	NackSkip
)

func (a NackAction) String() string {
	switch a {
	case NackRetry:
		return "retry"
	case NackPark:
		return "park"
	case NackSkip:
		return "skip"
	}
	return "unknown"
}

type (
	// SubscriptionSettings describe a durable subscription over every stream
	// whose name starts with StreamPrefix.
	SubscriptionSettings struct {
		StreamPrefix string
	}

	// SubscriptionInfo describes an existing durable subscription.
	SubscriptionInfo struct {
		Group        string
		StreamPrefix string
		Pending      uint64
	}

	// PersistentSubscriptions is the durable subscription part of the log
	// collaborator. The position of a group survives process restarts.
	PersistentSubscriptions interface {
		// GetSubscriptionInfo fails with ErrSubscriptionNotFound when group
		// does not exist.
		GetSubscriptionInfo(ctx context.Context, group string) (SubscriptionInfo, error)
		CreateSubscription(ctx context.Context, group string, settings SubscriptionSettings) error
		Subscribe(ctx context.Context, group string) (PersistentSubscription, error)
	}

	// PersistentSubscription delivers the records of one group in log order.
	PersistentSubscription interface {
		// Next blocks until a record is available. It returns
		// ErrSubscriptionClosed once Close was called and ctx.Err() once ctx
		// is done.
		Next(ctx context.Context) (Delivery, error)
		Close() error
	}

	// Delivery is one received record awaiting acknowledgement.
	Delivery interface {
		Event() RecordedEvent
		// Attempt is 1 on first delivery and increases with every redelivery.
		Attempt() int
		Ack() error
		Nack(action NackAction, reason string) error
	}
)
