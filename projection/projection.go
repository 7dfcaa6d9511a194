// Package projection maintains cached projections of entities by folding
// events from the log into the cache store.
package projection

import (
	"context"
	"fmt"

	"github.com/dogmatiq/vista/eventstream"
)

// Kind identifies a type of projection. It namespaces cache keys so that
// projections of different kinds for the same entity never collide.
type Kind string

const (
	// State is the kind of projection that holds the folded state of an
	// entity.
	State Kind = "state"

	// Dto is the kind of projection that holds a denormalized read-model of an
	// entity.
	Dto Kind = "dto"
)

// Fold computes the next value of a projection from its previous value and an
// event. prev is nil if the entity has no projection yet.
//
// A Fold must be free of side-effects. It returns an error if the event can
// not be applied to prev.
type Fold[T any] func(prev *T, ev eventstream.Event) (T, error)

// Snapshot is the value of a projection along with the position of the last
// event folded into it.
type Snapshot[T any] struct {
	Value   T
	Version uint64
}

// Repository provides access to the projections of a single kind.
type Repository[T any] interface {
	// Get returns the current projection of the entity with the given ID.
	//
	// It returns false if there is no such projection.
	Get(ctx context.Context, id string) (Snapshot[T], bool, error)

	// ApplyEvent folds ev into the projection of the entity with the given
	// ID.
	//
	// If the projection already reflects ev it is returned unchanged.
	ApplyEvent(ctx context.Context, id string, ev eventstream.Event) (Snapshot[T], error)
}

// StreamAdaptor applies events from the log to the projections in a
// repository, resolving the entity from each event.
type StreamAdaptor[T any] struct {
	Repository Repository[T]
}

// HandleEvent applies ev to the projection of the entity it belongs to.
func (a *StreamAdaptor[T]) HandleEvent(ctx context.Context, ev eventstream.Event) error {
	if ev.EntityID == "" {
		return fmt.Errorf("event %s does not identify an entity", ev.ID)
	}

	_, err := a.Repository.ApplyEvent(ctx, ev.EntityID, ev)
	return err
}
