// Package store mirrors one backend path into a live, ordered local collection.
package store

import (
	"context"
	"fmt"
	"sync"

	"trip-planner/internal/shared/async"
	"trip-planner/internal/shared/dbpath"
	"trip-planner/internal/shared/dispatch"
	"trip-planner/internal/shared/errors"
	"trip-planner/internal/shared/logger"
	"trip-planner/internal/tripplanner/codec"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/domain/repository"
)

// Options configures an ObjectStore.
type Options[T model.Record] struct {
	Backend repository.Backend
	Path    string
	Codec   codec.Codec[T]
	// Main serializes event application, notifications and completions.
	// Defaults to a private dispatch.Queue owned by the store.
	Main   dispatch.Dispatcher
	Logger logger.Logger
}

// ObjectStore keeps an ordered collection of T in sync with the children of one path.
// The collection changes only through subscription events (and RemoveLocal); writes
// go to the backend and come back as events.
type ObjectStore[T model.Record] struct {
	backend repository.Backend
	path    string
	codec   codec.Codec[T]
	main    dispatch.Dispatcher
	ownMain *dispatch.Queue
	logger  logger.Logger

	mu       sync.RWMutex
	items    []T
	onChange func([]T)
	closed   bool
	sub      repository.Subscription
}

// New builds a store bound to opts.Path and subscribes immediately.
func New[T model.Record](ctx context.Context, opts Options[T]) (*ObjectStore[T], error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("object store requires a backend")
	}
	if opts.Codec.Encode == nil || opts.Codec.Decode == nil {
		return nil, fmt.Errorf("object store requires a codec")
	}
	if err := dbpath.ValidatePath(opts.Path); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &ObjectStore[T]{
		backend: opts.Backend,
		path:    dbpath.Normalize(opts.Path),
		codec:   opts.Codec,
		main:    opts.Main,
	}
	s.logger = log.WithComponent("object_store").WithFields(map[string]interface{}{"path": s.path})
	if s.main == nil {
		s.ownMain = dispatch.NewQueue()
		s.main = s.ownMain
	}

	sub, err := s.backend.Subscribe(ctx, s.path, s.receive)
	if err != nil {
		if s.ownMain != nil {
			s.ownMain.Close()
		}
		return nil, fmt.Errorf("subscribe %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.logger.Debug("object store subscribed")
	return s, nil
}

// Path returns the bound path
func (s *ObjectStore[T]) Path() string { return s.path }

// Main returns the dispatcher completions should be delivered on
func (s *ObjectStore[T]) Main() dispatch.Dispatcher { return s.main }

// receive runs on the backend's goroutine and hands the event to the main context.
func (s *ObjectStore[T]) receive(event model.ChildEvent) {
	s.main.Dispatch(func() { s.apply(event) })
}

func (s *ObjectStore[T]) apply(event model.ChildEvent) {
	if s.isClosed() {
		return
	}
	switch event.Type {
	case model.ChildAdded:
		s.onChildAdded(event.Key, event.Value)
	case model.ChildChanged:
		s.onChildChanged(event.Key, event.Value)
	case model.ChildRemoved:
		s.onChildRemoved(event.Key)
	default:
		s.logger.Warnf("Ignoring unknown event type %q for key %s", event.Type, event.Key)
	}
}

func (s *ObjectStore[T]) decode(key string, value interface{}) (T, bool) {
	var zero T
	raw, ok := value.(map[string]interface{})
	if !ok {
		s.logger.Warnf("Skipping child %s: payload is %T, not an object", key, value)
		return zero, false
	}
	payload := make(map[string]interface{}, len(raw)+1)
	for k, v := range raw {
		payload[k] = v
	}
	payload[codec.KeyField] = key

	rec, err := s.codec.Decode(payload)
	if err != nil {
		s.logger.Warnf("Skipping child %s: %v", key, err)
		return zero, false
	}
	return rec, true
}

func (s *ObjectStore[T]) onChildAdded(key string, value interface{}) {
	rec, ok := s.decode(key, value)
	if !ok {
		return
	}
	s.mu.Lock()
	if i := s.indexOf(key); i >= 0 {
		// replayed snapshot after a reconnect
		s.items[i] = rec
	} else {
		s.items = append(s.items, rec)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *ObjectStore[T]) onChildChanged(key string, value interface{}) {
	rec, ok := s.decode(key, value)
	if !ok {
		return
	}
	s.mu.Lock()
	i := s.indexOf(key)
	if i < 0 {
		s.mu.Unlock()
		s.logger.Warnf("Change for unknown child %s ignored", key)
		return
	}
	s.items[i] = rec
	s.mu.Unlock()
	s.notify()
}

func (s *ObjectStore[T]) onChildRemoved(key string) {
	if s.removeKey(key) {
		s.notify()
	}
}

// indexOf must be called with s.mu held
func (s *ObjectStore[T]) indexOf(key string) int {
	for i, item := range s.items {
		if item.StoreKey() == key {
			return i
		}
	}
	return -1
}

func (s *ObjectStore[T]) removeKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(key)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

// notify runs on the main context
func (s *ObjectStore[T]) notify() {
	s.mu.RLock()
	fn := s.onChange
	snapshot := append([]T(nil), s.items...)
	s.mu.RUnlock()
	if fn != nil {
		fn(snapshot)
	}
}

// OnChange installs the single change subscriber, replacing any previous one.
// It is invoked on the main context with a snapshot after every mutation.
func (s *ObjectStore[T]) OnChange(fn func(objects []T)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Objects returns a snapshot of the collection in arrival order
func (s *ObjectStore[T]) Objects() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]T(nil), s.items...)
}

// Find returns the record with key
func (s *ObjectStore[T]) Find(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(key); i >= 0 {
		return s.items[i], true
	}
	var zero T
	return zero, false
}

// Len returns the collection size
func (s *ObjectStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Upsert writes rec: records with a key are set in place, others are pushed under
// a new key. The future carries the written key. The collection is not touched.
func (s *ObjectStore[T]) Upsert(ctx context.Context, rec T) *async.Future[string] {
	if s.isClosed() {
		return async.Failed[string](errors.ErrStoreClosed)
	}
	payload := s.codec.Encode(rec)
	key := rec.StoreKey()

	if key != "" {
		if err := dbpath.ValidateKey(key); err != nil {
			return async.Failed[string](err)
		}
		target := dbpath.Child(s.path, key)
		return async.Go(func() (string, error) {
			if err := s.backend.Set(ctx, target, payload); err != nil {
				s.logger.Errorf("Set %s failed: %v", target, err)
				return "", err
			}
			return key, nil
		})
	}

	return async.Go(func() (string, error) {
		newKey, err := s.backend.Push(ctx, s.path, payload)
		if err != nil {
			s.logger.Errorf("Push under %s failed: %v", s.path, err)
			return "", err
		}
		return newKey, nil
	})
}

// Remove deletes the child with key from the backend
func (s *ObjectStore[T]) Remove(ctx context.Context, key string) *async.Future[struct{}] {
	if s.isClosed() {
		return async.Failed[struct{}](errors.ErrStoreClosed)
	}
	if err := dbpath.ValidateKey(key); err != nil {
		return async.Failed[struct{}](err)
	}
	target := dbpath.Child(s.path, key)
	return async.Go(func() (struct{}, error) {
		if err := s.backend.Remove(ctx, target); err != nil {
			s.logger.Errorf("Remove %s failed: %v", target, err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// RemoveLocal drops key from the collection ahead of the remote removal event,
// which then becomes a no-op. It reports whether anything was removed.
func (s *ObjectStore[T]) RemoveLocal(key string) bool {
	if !s.removeKey(key) {
		return false
	}
	s.main.Dispatch(s.notify)
	return true
}

func (s *ObjectStore[T]) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close ends the subscription. Events already queued are dropped. Close must not
// be called from an OnChange callback of a store that owns its main queue.
func (s *ObjectStore[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	if s.ownMain != nil {
		s.ownMain.Close()
	}
	s.logger.Debug("object store closed")
	return err
}
