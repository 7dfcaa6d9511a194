package order

import (
	"time"

	"github.com/dogmatiq/vista/eventstream"
)

// Summary is the denormalized read-model of an order.
type Summary struct {
	OrderID   string    `json:"order_id"`
	Customer  string    `json:"customer"`
	ItemCount int       `json:"item_count"`
	Total     int64     `json:"total"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FoldSummary applies ev to the summary of an order.
//
// The summary is a view of the same history as State, so it applies the same
// rules. Events that State would reject are rejected here too.
func FoldSummary(prev *Summary, ev eventstream.Event) (Summary, error) {
	var s Summary
	if prev != nil {
		s = *prev
	}

	switch ev.Type {
	case CreatedType:
		if prev != nil {
			return Summary{}, errAlreadyCreated
		}

		p, err := decode[Created](ev)
		if err != nil {
			return Summary{}, err
		}

		s = Summary{
			OrderID:  ev.EntityID,
			Customer: p.Customer,
			Status:   Open,
		}

	case ItemAddedType:
		if prev == nil {
			return Summary{}, errNotCreated
		}

		p, err := decode[ItemAdded](ev)
		if err != nil {
			return Summary{}, err
		}

		if err := checkItem(s.Status, p); err != nil {
			return Summary{}, err
		}

		s.ItemCount += p.Quantity
		s.Total += int64(p.Quantity) * p.Price

	case ShippedType:
		if prev == nil {
			return Summary{}, errNotCreated
		}

		if s.Status == ShippedStatus {
			return Summary{}, errAlreadyShipped
		}

		s.Status = ShippedStatus

	default:
		return Summary{}, unrecognized(ev)
	}

	s.UpdatedAt = ev.CreatedAt

	return s, nil
}
