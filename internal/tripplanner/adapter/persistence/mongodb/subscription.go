package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trip-planner/internal/shared/dbpath"
	apperrors "trip-planner/internal/shared/errors"
	"trip-planner/internal/tripplanner/domain/repository"
	"trip-planner/internal/tripplanner/domain/service"
)

const retryDelay = time.Second

type changeEvent struct {
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// subscription follows a change stream below path. Each change re-reads the
// touched child and emits the difference against the last value it reported.
type subscription struct {
	backend *Backend
	path    string
	handler repository.ChildEventHandler
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once

	// owned by the run goroutine
	children map[string]interface{}
}

// Subscribe opens the change stream before reading the snapshot so no change
// between the two is lost.
func (b *Backend) Subscribe(ctx context.Context, path string, handler repository.ChildEventHandler) (repository.Subscription, error) {
	if err := dbpath.ValidatePath(path); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("nil child event handler")
	}
	if b.isClosed() {
		return nil, apperrors.ErrSubscriptionClosed
	}
	path = dbpath.Normalize(path)

	stream, err := b.watch(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	value, err := b.read(ctx, path)
	if err != nil {
		_ = stream.Close(context.Background())
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		backend:  b,
		path:     path,
		handler:  handler,
		ctx:      subCtx,
		cancel:   cancel,
		children: make(map[string]interface{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		_ = stream.Close(context.Background())
		return nil, apperrors.ErrSubscriptionClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(stream, service.Children(value))
	b.log.Debugf("Subscription on %s", path)
	return sub, nil
}

func (b *Backend) watch(ctx context.Context, path string, resumeToken bson.Raw) (*mongo.ChangeStream, error) {
	opts := options.ChangeStream()
	if resumeToken != nil {
		opts.SetResumeAfter(resumeToken)
	}
	return b.coll.Watch(ctx, mongo.Pipeline{changeFilter(path)}, opts)
}

func (s *subscription) run(stream *mongo.ChangeStream, snapshot map[string]interface{}) {
	for _, event := range service.SnapshotEvents(s.path, snapshot) {
		if s.ctx.Err() != nil {
			_ = stream.Close(context.Background())
			return
		}
		s.children[event.Key] = event.Value
		s.handler(event)
	}

	for {
		for stream.Next(s.ctx) {
			var change changeEvent
			if err := stream.Decode(&change); err != nil {
				s.backend.log.Warnf("Skipping change on %s: %v", s.path, err)
				continue
			}
			if key := childKeyOf(s.path, change.DocumentKey.ID); key != "" {
				s.refresh(key)
			}
		}
		token := stream.ResumeToken()
		streamErr := stream.Err()
		_ = stream.Close(context.Background())
		if s.ctx.Err() != nil {
			return
		}
		s.backend.log.Warnf("Change stream on %s interrupted: %v", s.path, streamErr)

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			next, err := s.backend.watch(s.ctx, s.path, token)
			if err == nil {
				stream = next
				break
			}
			s.backend.log.Warnf("Reopening change stream on %s failed: %v", s.path, err)
		}
	}
}

// refresh re-reads one child and reports how it differs from the last value seen
func (s *subscription) refresh(key string) {
	value, err := s.backend.read(s.ctx, dbpath.Child(s.path, key))
	if err != nil {
		if s.ctx.Err() == nil {
			s.backend.log.Warnf("Reading %s/%s failed: %v", s.path, key, err)
		}
		return
	}

	before := map[string]interface{}{}
	if old, ok := s.children[key]; ok {
		before[key] = old
	}
	after := map[string]interface{}{}
	if value != nil {
		after[key] = value
		s.children[key] = value
	} else {
		delete(s.children, key)
	}

	for _, event := range service.DiffChildren(s.path, before, after) {
		if s.ctx.Err() != nil {
			return
		}
		s.handler(event)
	}
}

func (s *subscription) Path() string { return s.path }

// Unsubscribe stops the change stream. It does not wait for the handler.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.backend.mu.Lock()
		delete(s.backend.subs, s)
		s.backend.mu.Unlock()
	})
	return nil
}
