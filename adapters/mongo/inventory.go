package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codewandler/inventory-es/internal/inventory/readmodel"
)

// InventoryStore is a readmodel.Store on one collection. Every update is
// filtered on version == revision-1, so only the next revision of a row
// matches.
type InventoryStore struct {
	collection *mongo.Collection
}

// NewInventoryStore returns a store on collection and ensures its indexes.
func NewInventoryStore(ctx context.Context, collection *mongo.Collection) (*InventoryStore, error) {
	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sku", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory indexes: %w", err)
	}
	return &InventoryStore{collection: collection}, nil
}

// Create inserts row unless a row with the same id exists.
func (s *InventoryStore) Create(ctx context.Context, row readmodel.Row) (bool, error) {
	res, err := s.collection.UpdateOne(
		ctx,
		bson.M{"_id": row.ID},
		bson.M{"$setOnInsert": bson.M{
			"sku":      row.SKU,
			"quantity": row.Quantity,
			"status":   row.Status,
			"version":  row.Version,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create inventory item %s: %w", row.ID, err)
	}
	return res.UpsertedCount == 1, nil
}

func (s *InventoryStore) AdjustQuantity(ctx context.Context, id string, delta, revision int64) (bool, error) {
	return s.update(ctx, id, revision, bson.M{
		"$inc": bson.M{"quantity": delta},
		"$set": bson.M{"version": revision},
	})
}

func (s *InventoryStore) SetStatus(ctx context.Context, id, status string, revision int64) (bool, error) {
	return s.update(ctx, id, revision, bson.M{
		"$set": bson.M{"status": status, "version": revision},
	})
}

func (s *InventoryStore) update(ctx context.Context, id string, revision int64, update bson.M) (bool, error) {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id, "version": revision - 1}, update)
	if err != nil {
		return false, fmt.Errorf("failed to update inventory item %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	// nothing matched: the row is missing, already past revision or behind
	var row struct {
		Version int64 `bson:"version"`
	}
	err = s.collection.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"version": 1})).Decode(&row)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, fmt.Errorf("%w: %s", readmodel.ErrNotFound, id)
		}
		return false, fmt.Errorf("failed to look up inventory item %s: %w", id, err)
	}
	if row.Version >= revision {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s at version %d, event revision %d", readmodel.ErrRevisionGap, id, row.Version, revision)
}

func (s *InventoryStore) Get(ctx context.Context, id string) (readmodel.Row, error) {
	var row readmodel.Row
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&row)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return readmodel.Row{}, fmt.Errorf("%w: %s", readmodel.ErrNotFound, id)
		}
		return readmodel.Row{}, fmt.Errorf("failed to get inventory item %s: %w", id, err)
	}
	return row, nil
}

var _ readmodel.Store = (*InventoryStore)(nil)
