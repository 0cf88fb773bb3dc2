// Package kv is the key-value port for small pieces of process state that
// must survive restarts. Writes are conditional on the revision of the key.
package kv

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrConflict = errors.New("key changed concurrently")
)

// Entry is a stored value and the store revision it was written at.
type Entry struct {
	Value    []byte
	Revision uint64
}

type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	// Put writes value if key is still at revision, where revision 0 means
	// the key must not exist. It returns the new revision and fails with
	// ErrConflict when the precondition does not hold.
	Put(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
}

func Get[T any](ctx context.Context, store Store, key string) (out T, revision uint64, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, 0, err
	}
	if err := json.Unmarshal(entry.Value, &out); err != nil {
		return out, 0, err
	}
	return out, entry.Revision, nil
}

func Put[T any](ctx context.Context, store Store, key string, v T, revision uint64) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return store.Put(ctx, key, data, revision)
}
