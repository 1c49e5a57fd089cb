package repository

import (
	"context"

	"trip-planner/internal/tripplanner/domain/model"
)

// ChildEventHandler receives child events for one subscription. Events for a
// single subscription are delivered sequentially, in emission order.
type ChildEventHandler func(event model.ChildEvent)

// Subscription is a live listener on a path
type Subscription interface {
	// Path returns the normalized path the subscription watches.
	Path() string
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe() error
}

// Reader reads values by path. A missing path yields a nil value and no error.
type Reader interface {
	Get(ctx context.Context, path string) (interface{}, error)
}

// Writer mutates the tree. All values are JSON-like: maps, slices, strings,
// float64, bool or nil.
type Writer interface {
	// Set replaces the value at path. A nil value removes it.
	Set(ctx context.Context, path string, value interface{}) error
	// Push stores value under a newly generated, time ordered child key of path.
	Push(ctx context.Context, path string, value interface{}) (string, error)
	// Update merges fields into the map at path.
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	// Remove deletes the value at path. Removing a missing path is not an error.
	Remove(ctx context.Context, path string) error
}

// Subscriber streams changes to the direct children of a path. A new
// subscription first receives child_added for every existing child in key order.
type Subscriber interface {
	Subscribe(ctx context.Context, path string, handler ChildEventHandler) (Subscription, error)
}

// Backend is the remote hierarchical key-value store
type Backend interface {
	Reader
	Writer
	Subscriber
	Close() error
}
