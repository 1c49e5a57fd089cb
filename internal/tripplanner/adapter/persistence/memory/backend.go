// Package memory is an in-process Backend used for tests, demos and the
// gateway's default storage.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"trip-planner/internal/shared/dbpath"
	"trip-planner/internal/shared/dispatch"
	"trip-planner/internal/shared/errors"
	"trip-planner/internal/shared/eventbus"
	"trip-planner/internal/shared/logger"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/domain/repository"
	"trip-planner/internal/tripplanner/domain/service"
)

const eventSource = "memory"

// Backend keeps the whole tree in a map. Each subscription is a topic on the
// event bus; events are delivered through a per-subscription queue so handlers
// run outside the tree lock and in emission order.
type Backend struct {
	mu     sync.Mutex
	root   map[string]interface{}
	bus    *eventbus.EventBus
	newKey func() string
	logger logger.Logger
	closed bool
	subs   map[eventbus.SubscriptionID]*subscription
}

var _ repository.Backend = (*Backend)(nil)

// Option customizes a Backend
type Option func(*Backend)

// WithKeyGenerator overrides the key generator used by Push
func WithKeyGenerator(fn func() string) Option {
	return func(b *Backend) { b.newKey = fn }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(b *Backend) { b.logger = log }
}

// New creates an empty in-memory backend
func New(opts ...Option) *Backend {
	b := &Backend{
		root:   make(map[string]interface{}),
		newKey: service.NewKey,
		logger: logger.NewNopLogger(),
		subs:   make(map[eventbus.SubscriptionID]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithComponent("memory_backend")
	b.bus = eventbus.NewEventBus(b.logger)
	return b
}

// Get returns a copy of the value at path
func (b *Backend) Get(ctx context.Context, path string) (interface{}, error) {
	if err := dbpath.ValidatePath(path); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.ErrSubscriptionClosed
	}
	if dbpath.IsRoot(path) {
		return service.DeepCopy(b.root), nil
	}
	return service.DeepCopy(service.Lookup(b.root, dbpath.Segments(path))), nil
}

// Set replaces the value at path
func (b *Backend) Set(ctx context.Context, path string, value interface{}) error {
	if err := dbpath.ValidatePath(path); err != nil {
		return err
	}
	normalized, err := service.Normalize(value)
	if err != nil {
		return err
	}
	return b.write(ctx, []string{path}, func() {
		b.assignPath(path, normalized)
	})
}

// Push stores value under a new child key of path
func (b *Backend) Push(ctx context.Context, path string, value interface{}) (string, error) {
	if err := dbpath.ValidatePath(path); err != nil {
		return "", err
	}
	key := b.newKey()
	if err := dbpath.ValidateKey(key); err != nil {
		return "", err
	}
	if err := b.Set(ctx, dbpath.Child(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Update merges fields into path. Field names may themselves be relative paths.
func (b *Backend) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	if err := dbpath.ValidatePath(path); err != nil {
		return err
	}
	targets := make([]string, 0, len(fields))
	values := make(map[string]interface{}, len(fields))
	for field, value := range fields {
		target := dbpath.Join(path, field)
		if err := dbpath.ValidatePath(target); err != nil || target == dbpath.Normalize(path) {
			return fmt.Errorf("%w: update field %q", errors.ErrInvalidKey, field)
		}
		normalized, err := service.Normalize(value)
		if err != nil {
			return err
		}
		targets = append(targets, target)
		values[target] = normalized
	}
	return b.write(ctx, targets, func() {
		for _, target := range targets {
			b.assignPath(target, values[target])
		}
	})
}

// Remove deletes the value at path
func (b *Backend) Remove(ctx context.Context, path string) error {
	if err := dbpath.ValidatePath(path); err != nil {
		return err
	}
	return b.write(ctx, []string{path}, func() {
		b.assignPath(path, nil)
	})
}

func (b *Backend) assignPath(path string, value interface{}) {
	if dbpath.IsRoot(path) {
		root, _ := value.(map[string]interface{})
		if root == nil {
			root = make(map[string]interface{})
		}
		b.root = root
		return
	}
	service.Assign(b.root, dbpath.Segments(path), value)
}

// write applies mutate under the lock and emits child events to every
// subscription whose children may have changed.
func (b *Backend) write(ctx context.Context, targets []string, mutate func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.ErrSubscriptionClosed
	}

	topics := b.affectedTopics(targets)
	before := make(map[string]map[string]interface{}, len(topics))
	for _, topic := range topics {
		before[topic] = b.childrenCopy(topic)
	}

	mutate()

	for _, topic := range topics {
		after := b.childrenCopy(topic)
		for _, event := range service.DiffChildren(topic, before[topic], after) {
			if err := b.bus.Publish(ctx, eventbus.NewBasicEventWithSource(topic, event, eventSource)); err != nil {
				b.logger.Errorf("Publishing %s for %s failed: %v", event.Type, topic, err)
			}
		}
	}
	return nil
}

func (b *Backend) affectedTopics(targets []string) []string {
	var topics []string
	for _, topic := range b.bus.GetTopics() {
		for _, target := range targets {
			t := dbpath.Normalize(target)
			if t == topic || dbpath.IsAncestor(topic, t) || dbpath.IsAncestor(t, topic) {
				topics = append(topics, topic)
				break
			}
		}
	}
	return topics
}

func (b *Backend) childrenCopy(path string) map[string]interface{} {
	var node interface{} = b.root
	if !dbpath.IsRoot(path) {
		node = service.Lookup(b.root, dbpath.Segments(path))
	}
	children, _ := service.DeepCopy(service.Children(node)).(map[string]interface{})
	return children
}

// Subscribe delivers the current children as child_added, then live changes
func (b *Backend) Subscribe(ctx context.Context, path string, handler repository.ChildEventHandler) (repository.Subscription, error) {
	if err := dbpath.ValidatePath(path); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("nil child event handler")
	}
	path = dbpath.Normalize(path)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.ErrSubscriptionClosed
	}

	sub := &subscription{
		backend: b,
		path:    path,
		queue:   dispatch.NewQueue(),
		handler: handler,
	}
	for _, event := range service.SnapshotEvents(path, b.childrenCopy(path)) {
		sub.deliver(event)
	}
	sub.id = b.bus.Subscribe(path, func(ctx context.Context, e eventbus.Event) error {
		event, ok := e.Data().(model.ChildEvent)
		if !ok {
			return fmt.Errorf("unexpected event payload %T", e.Data())
		}
		sub.deliver(event)
		return nil
	})
	b.subs[sub.id] = sub
	b.logger.Debugf("Subscription %d on %s", sub.id, path)
	return sub, nil
}

// SubscriberCount returns the number of live subscriptions on path
func (b *Backend) SubscriberCount(path string) int {
	return b.bus.GetSubscriberCount(dbpath.Normalize(path))
}

// Close drops all subscriptions. Further calls fail.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}

type subscription struct {
	backend *Backend
	id      eventbus.SubscriptionID
	path    string
	queue   *dispatch.Queue
	handler repository.ChildEventHandler
	stopped atomic.Bool
}

func (s *subscription) deliver(event model.ChildEvent) {
	s.queue.Dispatch(func() {
		if !s.stopped.Load() {
			s.handler(event)
		}
	})
}

func (s *subscription) Path() string { return s.path }

func (s *subscription) Unsubscribe() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.backend.bus.Unsubscribe(s.id)
	s.backend.mu.Lock()
	delete(s.backend.subs, s.id)
	s.backend.mu.Unlock()
	// the handler may be the caller; do not wait for the queue to drain
	go s.queue.Close()
	return nil
}
