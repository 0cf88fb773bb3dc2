package readmodel

import "context"

// ItemView is the query-side representation of an inventory item.
type ItemView struct {
	ID              string `json:"id"`
	SKU             string `json:"sku"`
	Status          string `json:"status"`
	Quantity        int64  `json:"quantity"`
	CurrentRevision int64  `json:"currentRevision"`
}

// QueryService answers reads from the denormalised store, never from the
// log.
type QueryService struct {
	store Store
}

func NewQueryService(store Store) *QueryService {
	return &QueryService{store: store}
}

// GetByID fails with ErrNotFound when the item has not been materialised.
func (q *QueryService) GetByID(ctx context.Context, id string) (ItemView, error) {
	row, err := q.store.Get(ctx, id)
	if err != nil {
		return ItemView{}, err
	}
	return ItemView{
		ID:              row.ID,
		SKU:             row.SKU,
		Status:          row.Status,
		Quantity:        row.Quantity,
		CurrentRevision: row.Version,
	}, nil
}
