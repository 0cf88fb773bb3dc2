package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/ports/kv"
)

// ErrOutOfOrder is returned for a record whose predecessor in the same
// stream has not been published yet. The record is retried later.
var ErrOutOfOrder = errors.New("previous revision not published yet")

type published struct {
	Revision es.Version `json:"revision"`
}

// Progress keeps the last revision published per stream.
type Progress struct {
	store kv.Store
}

func NewProgress(store kv.Store) *Progress {
	return &Progress{store: store}
}

// Last returns the last revision published for stream, es.NoStream when
// nothing was, together with the key revision to pass to Mark.
func (p *Progress) Last(ctx context.Context, stream string) (es.Version, uint64, error) {
	v, rev, err := kv.Get[published](ctx, p.store, stream)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return es.NoStream, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to read publish progress of %s: %w", stream, err)
	}
	return v.Revision, rev, nil
}

// Mark records revision as published for stream. keyRevision is the one
// Last returned.
func (p *Progress) Mark(ctx context.Context, stream string, revision es.Version, keyRevision uint64) error {
	if _, err := kv.Put(ctx, p.store, stream, published{Revision: revision}, keyRevision); err != nil {
		return fmt.Errorf("failed to record publish progress of %s: %w", stream, err)
	}
	return nil
}
