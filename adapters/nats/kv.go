package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/inventory-es/ports/kv"
)

const defaultKVBucket = "inventory_publisher_progress"

type KVConfig struct {
	Connect Connector // Connect creates the NATS connection. If nil, ConnectDefault() is used.
	Log     *slog.Logger
	Bucket  string
}

// KVStore is a kv.Store on a JetStream key-value bucket. Key revisions are
// the sequences of the bucket stream.
type KVStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
	log     *slog.Logger
}

func NewKVStore(ctx context.Context, cfg KVConfig) (*KVStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultKVBucket
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	bkt, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "last revision published per event stream",
		Storage:     jetstream.FileStorage,
		History:     1,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("failed to ensure bucket %s: %w", bucket, err)
	}

	return &KVStore{
		kv:      bkt,
		closeNc: closeNc,
		log:     log.With(slog.String("kv", bucket)),
	}, nil
}

func (k *KVStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	e, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, fmt.Errorf("%w: %s", kv.ErrNotFound, key)
		}
		return kv.Entry{}, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return kv.Entry{Value: e.Value(), Revision: e.Revision()}, nil
}

func (k *KVStore) Put(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	var (
		rev uint64
		err error
	)
	if revision == 0 {
		rev, err = k.kv.Create(ctx, key, value)
	} else {
		rev, err = k.kv.Update(ctx, key, value, revision)
	}
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || isWrongLastSequence(err) {
			return 0, fmt.Errorf("%w: %s at revision %d", kv.ErrConflict, key, revision)
		}
		return 0, fmt.Errorf("failed to put %s: %w", key, err)
	}
	return rev, nil
}

func (k *KVStore) Close() error {
	k.closeNc()
	k.log.Debug("closed kv store")
	return nil
}

var _ kv.Store = (*KVStore)(nil)
