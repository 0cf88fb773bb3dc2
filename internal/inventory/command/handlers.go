package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/inventory"
)

const (
	TypeCreate        = "create_inventory_item"
	TypeAddStock      = "add_stock"
	TypeDecreaseStock = "decrease_stock"
	TypeDeactivate    = "deactivate_inventory_item"
)

type (
	Create struct {
		SKU string `json:"sku"`
	}

	AddStock struct {
		ID               string     `json:"id"`
		Quantity         int64      `json:"quantity"`
		ExpectedRevision es.Version `json:"expectedRevision"`
	}

	DecreaseStock struct {
		ID               string     `json:"id"`
		Quantity         int64      `json:"quantity"`
		ExpectedRevision es.Version `json:"expectedRevision"`
	}

	Deactivate struct {
		ID               string     `json:"id"`
		ExpectedRevision es.Version `json:"expectedRevision"`
	}
)

func (Create) CommandType() string        { return TypeCreate }
func (AddStock) CommandType() string      { return TypeAddStock }
func (DecreaseStock) CommandType() string { return TypeDecreaseStock }
func (Deactivate) CommandType() string    { return TypeDeactivate }

// Handlers executes inventory commands against the repository.
type Handlers struct {
	repo  *inventory.Repository
	newID func() (string, error)
}

func NewHandlers(repo *inventory.Repository) *Handlers {
	return &Handlers{repo: repo, newID: newItemID}
}

func newItemID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Register adds every inventory handler to b.
func (h *Handlers) Register(b *Bus) error {
	for t, fn := range map[string]HandlerFunc{
		TypeCreate:        Typed(h.Create),
		TypeAddStock:      Typed(h.AddStock),
		TypeDecreaseStock: Typed(h.DecreaseStock),
		TypeDeactivate:    Typed(h.Deactivate),
	} {
		if err := b.Register(t, fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) Create(ctx context.Context, cmd Create) (Result, error) {
	id, err := h.newID()
	if err != nil {
		return Result{}, fmt.Errorf("failed to generate item id: %w", err)
	}
	item, err := inventory.Create(id, cmd.SKU)
	if err != nil {
		return Result{}, err
	}
	if err := h.repo.Save(ctx, item, es.NoStream); err != nil {
		return Result{}, err
	}
	return Result{ID: id, Revision: item.Version()}, nil
}

func (h *Handlers) AddStock(ctx context.Context, cmd AddStock) (Result, error) {
	return h.update(ctx, cmd.ID, cmd.ExpectedRevision, func(i *inventory.Item) error {
		return i.AddStock(cmd.Quantity)
	})
}

func (h *Handlers) DecreaseStock(ctx context.Context, cmd DecreaseStock) (Result, error) {
	return h.update(ctx, cmd.ID, cmd.ExpectedRevision, func(i *inventory.Item) error {
		return i.DecreaseStock(cmd.Quantity)
	})
}

func (h *Handlers) Deactivate(ctx context.Context, cmd Deactivate) (Result, error) {
	return h.update(ctx, cmd.ID, cmd.ExpectedRevision, (*inventory.Item).Deactivate)
}

// update loads id, applies op and saves under the caller's expected
// revision. The loaded version is never used as the precondition.
func (h *Handlers) update(ctx context.Context, id string, expected es.Version, op func(*inventory.Item) error) (Result, error) {
	if id == "" {
		return Result{}, fmt.Errorf("%w: id is required", ErrInvalidCommand)
	}
	if expected < 0 {
		return Result{}, fmt.Errorf("%w: expected revision %d", ErrInvalidCommand, expected)
	}
	item, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if err := op(item); err != nil {
		return Result{}, err
	}
	if err := h.repo.Save(ctx, item, expected); err != nil {
		return Result{}, err
	}
	return Result{ID: id, Revision: item.Version()}, nil
}
