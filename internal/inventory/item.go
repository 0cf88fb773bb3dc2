package inventory

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/codewandler/inventory-es/core/es"
)

// Kind names the inventory item streams.
const Kind = "inventory-item"

// Streams are the event and snapshot stream names of inventory items.
var Streams = es.StreamNames{Kind: Kind}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Item is the inventory item aggregate. State only changes by folding events
// in When; business operations validate and raise.
type Item struct {
	es.BaseAggregate

	sku      string
	quantity int64
	status   Status
}

// New returns an empty item for id, ready to be loaded.
func New(id string) *Item {
	i := &Item{}
	i.SetID(id)
	return i
}

// Create starts a new item. sku is trimmed and must not be empty.
func Create(id, sku string) (*Item, error) {
	if id == "" {
		return nil, errors.New("item id is empty")
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, ruleViolation("sku must not be empty")
	}
	i := New(id)
	if err := es.Raise(i, ItemCreated{ID: id, SKU: sku}); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Item) SKU() string     { return i.sku }
func (i *Item) Quantity() int64 { return i.quantity }
func (i *Item) Status() Status  { return i.status }
func (i *Item) IsActive() bool  { return i.status == StatusActive }

func (i *Item) AddStock(quantity int64) error {
	if quantity < 0 {
		return ruleViolation("quantity must be non-negative")
	}
	if quantity > math.MaxInt64-i.quantity {
		return ruleViolation("quantity exceeds the maximum stock level")
	}
	return es.Raise(i, StockAdded{ID: i.ID(), Quantity: quantity})
}

func (i *Item) DecreaseStock(quantity int64) error {
	if quantity < 0 {
		return ruleViolation("quantity must be non-negative")
	}
	if quantity > i.quantity {
		return ruleViolation("not enough quantity to decrease")
	}
	return es.Raise(i, StockDecreased{ID: i.ID(), Quantity: quantity})
}

func (i *Item) Deactivate() error {
	if i.status == StatusInactive {
		return ruleViolation("can not deactivate an inactive item")
	}
	return es.Raise(i, ItemDeactivated{ID: i.ID()})
}

func (i *Item) When(ev es.Event) error {
	switch e := ev.(type) {
	case ItemCreated:
		i.SetID(e.ID)
		i.sku = e.SKU
		i.quantity = 0
		i.status = StatusActive
	case StockAdded:
		i.quantity += e.Quantity
	case StockDecreased:
		i.quantity -= e.Quantity
	case ItemDeactivated:
		i.status = StatusInactive
	default:
		return es.Unrecognized(i, ev)
	}
	return nil
}

// ItemSnapshot is the persisted state of an item.
type ItemSnapshot struct {
	ID       string `json:"id"`
	SKU      string `json:"skuId"`
	Quantity int64  `json:"quantity"`
	Status   Status `json:"status"`
}

func (i *Item) Snapshot() ([]byte, error) {
	return json.Marshal(ItemSnapshot{
		ID:       i.ID(),
		SKU:      i.sku,
		Quantity: i.quantity,
		Status:   i.status,
	})
}

func (i *Item) RestoreSnapshot(data []byte) error {
	var s ItemSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	i.SetID(s.ID)
	i.sku = s.SKU
	i.quantity = s.Quantity
	i.status = s.Status
	return nil
}

var (
	_ es.Aggregate     = (*Item)(nil)
	_ es.Snapshottable = (*Item)(nil)
	_ Event            = ItemCreated{}
	_ Event            = StockAdded{}
	_ Event            = StockDecreased{}
	_ Event            = ItemDeactivated{}
)
