package store

import (
	"context"
	"fmt"
	"sync"

	"trip-planner/internal/shared/async"
	"trip-planner/internal/shared/dbpath"
	"trip-planner/internal/shared/dispatch"
	"trip-planner/internal/shared/logger"
	"trip-planner/internal/tripplanner/codec"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/domain/repository"
)

// RecordWatcher follows a single record, e.g. the signed-in user's profile.
// It subscribes at the record's own path, so a reader needs no access to the
// parent, and rebuilds the record from its field events.
type RecordWatcher[T model.Record] struct {
	backend repository.Backend
	path    string
	key     string
	codec   codec.Codec[T]
	main    dispatch.Dispatcher
	logger  logger.Logger

	mu       sync.RWMutex
	fields   map[string]interface{}
	current  T
	present  bool
	onChange func(T, bool)
	closed   bool
	sub      repository.Subscription
}

// NewRecordWatcher watches the record at path
func NewRecordWatcher[T model.Record](ctx context.Context, backend repository.Backend, path string, c codec.Codec[T], main dispatch.Dispatcher, log logger.Logger) (*RecordWatcher[T], error) {
	if err := dbpath.ValidatePath(path); err != nil {
		return nil, err
	}
	if dbpath.IsRoot(path) {
		return nil, fmt.Errorf("record watcher needs a child path")
	}
	if main == nil {
		main = dispatch.Immediate{}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	w := &RecordWatcher[T]{
		backend: backend,
		path:    dbpath.Normalize(path),
		key:     dbpath.Key(path),
		codec:   c,
		main:    main,
		fields:  make(map[string]interface{}),
	}
	w.logger = log.WithComponent("record_watcher").WithFields(map[string]interface{}{"path": w.path})

	sub, err := backend.Subscribe(ctx, w.path, w.receive)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", w.path, err)
	}
	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()
	return w, nil
}

// NewUserInfoWatcher follows /users/<uid>
func NewUserInfoWatcher(ctx context.Context, backend repository.Backend, uid string, main dispatch.Dispatcher, log logger.Logger) (*RecordWatcher[model.User], error) {
	if err := dbpath.ValidateKey(uid); err != nil {
		return nil, err
	}
	return NewRecordWatcher(ctx, backend, UserPathFor(uid), codec.UserCodec(), main, log)
}

func (w *RecordWatcher[T]) receive(event model.ChildEvent) {
	w.main.Dispatch(func() { w.apply(event) })
}

func (w *RecordWatcher[T]) apply(event model.ChildEvent) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}

	switch event.Type {
	case model.ChildAdded, model.ChildChanged:
		w.fields[event.Key] = event.Value
	case model.ChildRemoved:
		if _, ok := w.fields[event.Key]; !ok {
			w.mu.Unlock()
			return
		}
		delete(w.fields, event.Key)
	default:
		w.mu.Unlock()
		return
	}

	if len(w.fields) == 0 {
		var zero T
		w.current, w.present = zero, false
	} else {
		payload := make(map[string]interface{}, len(w.fields)+1)
		for k, v := range w.fields {
			payload[k] = v
		}
		payload[codec.KeyField] = w.key
		rec, err := w.codec.Decode(payload)
		if err != nil {
			w.mu.Unlock()
			w.logger.Warnf("Skipping record: %v", err)
			return
		}
		w.current, w.present = rec, true
	}

	fn, cur, present := w.onChange, w.current, w.present
	w.mu.Unlock()
	if fn != nil {
		fn(cur, present)
	}
}

// Current returns the last known record and whether it exists
func (w *RecordWatcher[T]) Current() (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, w.present
}

// OnChange installs the single change subscriber
func (w *RecordWatcher[T]) OnChange(fn func(record T, present bool)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// Save writes rec at the watched path
func (w *RecordWatcher[T]) Save(ctx context.Context, rec T) *async.Future[struct{}] {
	payload := w.codec.Encode(rec)
	return async.Go(func() (struct{}, error) {
		return struct{}{}, w.backend.Set(ctx, w.path, payload)
	})
}

// Close ends the subscription
func (w *RecordWatcher[T]) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	sub := w.sub
	w.mu.Unlock()
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}
