// Package order is the reference entity whose projections are maintained by
// the vista-consumer binary.
package order

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dogmatiq/vista/eventstream"
)

// Event types.
const (
	CreatedType   = "OrderCreated"
	ItemAddedType = "ItemAdded"
	ShippedType   = "OrderShipped"
)

// Created is the payload of an OrderCreated event.
type Created struct {
	Customer string `json:"customer"`
}

// ItemAdded is the payload of an ItemAdded event.
type ItemAdded struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"` // minor currency units
}

// Shipped is the payload of an OrderShipped event.
type Shipped struct {
	Carrier string `json:"carrier"`
}

// NewEvent returns an event of the given type with v as its JSON payload.
func NewEvent(orderID, eventType string, v any) (eventstream.Event, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return eventstream.Event{}, err
	}

	return eventstream.Event{
		EntityID: orderID,
		Type:     eventType,
		Payload:  payload,
	}, nil
}

func decode[T any](ev eventstream.Event) (T, error) {
	var v T
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		return v, fmt.Errorf("malformed %s payload: %w", ev.Type, err)
	}

	return v, nil
}

var (
	errNotCreated     = errors.New("order has not been created")
	errAlreadyCreated = errors.New("order has already been created")
	errAlreadyShipped = errors.New("order has already been shipped")
)

// checkItem returns an error if p can not be added to an order with the given
// status.
func checkItem(s Status, p ItemAdded) error {
	if s != Open {
		return fmt.Errorf("can not add items to a %s order", s)
	}

	if p.Quantity <= 0 {
		return fmt.Errorf("item quantity must be positive, got %d", p.Quantity)
	}

	return nil
}

func unrecognized(ev eventstream.Event) error {
	return fmt.Errorf("unrecognized event type: %s", ev.Type)
}
