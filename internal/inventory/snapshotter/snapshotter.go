// Package snapshotter compacts inventory item history into snapshots.
package snapshotter

import (
	"fmt"
	"log/slog"

	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/inventory"
)

const (
	DefaultGroup    = "inventory_item_snapshot_subscription"
	DefaultInterval = 10
)

// Handler is an es.Handler writing a snapshot whenever a record's revision
// is a positive multiple of the interval. Snapshots only shorten replays;
// skipping one never changes what GetByID returns.
type Handler struct {
	repo     *inventory.Repository
	interval int64
}

// New returns a Handler snapshotting every interval events. An interval
// below 1 uses DefaultInterval.
func New(repo *inventory.Repository, interval int) *Handler {
	if interval < 1 {
		interval = DefaultInterval
	}
	return &Handler{repo: repo, interval: int64(interval)}
}

// Due reports whether a snapshot is taken at revision.
func (h *Handler) Due(revision es.Version) bool {
	return revision > 0 && int64(revision)%h.interval == 0
}

func (h *Handler) Handle(msgCtx es.MsgCtx) error {
	if !h.Due(msgCtx.Revision()) {
		return nil
	}

	id, err := inventory.Streams.AggregateID(msgCtx.StreamID())
	if err != nil {
		return err
	}

	ctx := msgCtx.Context()
	item, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load %s for snapshot: %w", id, err)
	}

	snap, err := es.TakeSnapshot(item)
	if err != nil {
		return err
	}
	if err := h.repo.SaveSnapshot(ctx, id, snap); err != nil {
		return err
	}

	msgCtx.Log().Info("snapshot saved", slog.String("id", id), snap.Revision.SlogAttrWithKey("revision"))
	return nil
}

var _ es.Handler = (*Handler)(nil)
