package inventory

import "github.com/codewandler/inventory-es/core/es"

// Event type tags as stored in the log and published on the bus.
const (
	TypeItemCreated     = "inventory_item_created"
	TypeStockAdded      = "stock_added"
	TypeStockDecreased  = "stock_decreased"
	TypeItemDeactivated = "inventory_item_deactivated"
)

// Event is the closed set of inventory item events. Only the types in this
// file implement it.
type Event interface {
	es.Event
	inventoryEvent()
}

type (
	ItemCreated struct {
		ID  string `json:"id"`
		SKU string `json:"skuId"`
	}

	StockAdded struct {
		ID       string `json:"id"`
		Quantity int64  `json:"quantity"`
	}

	StockDecreased struct {
		ID       string `json:"id"`
		Quantity int64  `json:"quantity"`
	}

	ItemDeactivated struct {
		ID string `json:"id"`
	}
)

func (ItemCreated) EventType() string     { return TypeItemCreated }
func (StockAdded) EventType() string      { return TypeStockAdded }
func (StockDecreased) EventType() string  { return TypeStockDecreased }
func (ItemDeactivated) EventType() string { return TypeItemDeactivated }

func (ItemCreated) inventoryEvent()     {}
func (StockAdded) inventoryEvent()      {}
func (StockDecreased) inventoryEvent()  {}
func (ItemDeactivated) inventoryEvent() {}

// NewRegistry returns the registry that decodes every inventory item event.
func NewRegistry() *es.Registry {
	reg := es.NewRegistry()
	es.RegisterJSON[ItemCreated](reg)
	es.RegisterJSON[StockAdded](reg)
	es.RegisterJSON[StockDecreased](reg)
	es.RegisterJSON[ItemDeactivated](reg)
	return reg
}
