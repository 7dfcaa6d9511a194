package order

import (
	"github.com/dogmatiq/vista/eventstream"
)

// Status is the lifecycle stage of an order.
type Status string

const (
	// Open orders accept new items.
	Open Status = "open"

	// ShippedStatus orders are complete.
	ShippedStatus Status = "shipped"
)

// Item is a line on an order.
type Item struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// State is the folded state of an order.
type State struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Items    []Item `json:"items"`
	Status   Status `json:"status"`
	Carrier  string `json:"carrier,omitempty"`
}

// FoldState applies ev to the state of an order.
func FoldState(prev *State, ev eventstream.Event) (State, error) {
	var s State
	if prev != nil {
		s = *prev
		s.Items = append([]Item(nil), prev.Items...)
	}

	switch ev.Type {
	case CreatedType:
		if prev != nil {
			return State{}, errAlreadyCreated
		}

		p, err := decode[Created](ev)
		if err != nil {
			return State{}, err
		}

		return State{
			ID:       ev.EntityID,
			Customer: p.Customer,
			Status:   Open,
		}, nil

	case ItemAddedType:
		if prev == nil {
			return State{}, errNotCreated
		}

		p, err := decode[ItemAdded](ev)
		if err != nil {
			return State{}, err
		}

		if err := checkItem(s.Status, p); err != nil {
			return State{}, err
		}

		s.Items = append(s.Items, Item(p))
		return s, nil

	case ShippedType:
		if prev == nil {
			return State{}, errNotCreated
		}

		if s.Status == ShippedStatus {
			return State{}, errAlreadyShipped
		}

		p, err := decode[Shipped](ev)
		if err != nil {
			return State{}, err
		}

		s.Status = ShippedStatus
		s.Carrier = p.Carrier
		return s, nil

	default:
		return State{}, unrecognized(ev)
	}
}
