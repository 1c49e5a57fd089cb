package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"trip-planner/internal/shared/dbpath"
	apperrors "trip-planner/internal/shared/errors"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/domain/repository"
	"trip-planner/internal/tripplanner/domain/service"
)

const (
	streamReadCount = 100
	retryDelay      = time.Second
	emptyStreamID   = "0-0"
)

type subscription struct {
	backend *Backend
	path    string
	handler repository.ChildEventHandler
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// Subscribe registers path as watched, reads a consistent snapshot together
// with the stream position it corresponds to, then tails the stream.
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

	// bumping the version makes in-flight writes retry and see the new watcher
	_, err := b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HIncrBy(ctx, b.keys.watched(), path, 1)
		pipe.Incr(ctx, b.keys.version())
		return nil
	})
	if err != nil {
		return nil, err
	}

	children, lastID, err := b.snapshot(ctx, path)
	if err != nil {
		b.unwatch(path)
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		backend: b,
		path:    path,
		handler: handler,
		ctx:     subCtx,
		cancel:  cancel,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		b.unwatch(path)
		return nil, apperrors.ErrSubscriptionClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(children, lastID)
	b.log.Debugf("Subscription on %s from stream id %s", path, lastID)
	return sub, nil
}

// snapshot reads the children of path together with the id of the last
// stream entry already reflected in them
func (b *Backend) snapshot(ctx context.Context, path string) (map[string]interface{}, string, error) {
	var (
		children map[string]interface{}
		lastID   string
	)
	err := b.consistentRead(ctx, func() error {
		value, err := b.readValue(ctx, b.client, path)
		if err != nil {
			return err
		}
		children = service.Children(value)
		lastID, err = b.lastStreamID(ctx, path)
		return err
	})
	return children, lastID, err
}

func (b *Backend) lastStreamID(ctx context.Context, path string) (string, error) {
	msgs, err := b.client.XRevRangeN(ctx, b.keys.stream(path), "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return emptyStreamID, nil
	}
	return msgs[0].ID, nil
}

func (b *Backend) unwatch(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := unwatchScript.Run(ctx, b.client, []string{b.keys.watched()}, path).Err(); err != nil {
		b.log.Warnf("Unwatch %s failed: %v", path, err)
	}
}

// run replays the snapshot and then tails the stream. children mirrors what
// the handler has seen so a trimmed stream can be recovered by diffing.
func (s *subscription) run(children map[string]interface{}, lastID string) {
	if children == nil {
		children = make(map[string]interface{})
	}
	for _, event := range service.SnapshotEvents(s.path, children) {
		if s.ctx.Err() != nil {
			return
		}
		s.handler(event)
	}

	stream := s.backend.keys.stream(s.path)
	for {
		res, err := s.backend.client.XRead(s.ctx, &goredis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   streamReadCount,
			Block:   s.backend.cfg.BlockTimeout,
		}).Result()
		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, goredis.Nil) {
			continue
		}

		var trimmed bool
		if err == nil {
			trimmed, err = s.trimmedPast(stream, lastID)
		}
		if err == nil && trimmed {
			s.backend.log.Warnf("Stream %s was trimmed past %s, reloading %s", stream, lastID, s.path)
			children, lastID, err = s.resync(children)
			if err == nil {
				continue
			}
		}
		if err != nil {
			s.backend.log.Warnf("Reading %s failed: %v", stream, err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, st := range res {
			for _, msg := range st.Messages {
				lastID = msg.ID
				event, err := decodeEvent(s.path, msg)
				if err != nil {
					s.backend.log.Warnf("Skipping stream entry: %v", err)
					continue
				}
				if s.ctx.Err() != nil {
					return
				}
				applyEvent(children, event)
				s.handler(event)
			}
		}
	}
}

// trimmedPast reports whether entries after lastID may have been dropped by
// the stream cap. Trimming removes the oldest entries first, so that is the
// case once lastID itself is gone. "0-0" stands for an empty stream at
// snapshot time and is never reported.
func (s *subscription) trimmedPast(stream, lastID string) (bool, error) {
	if lastID == emptyStreamID {
		return false, nil
	}
	oldest, err := s.backend.client.XRangeN(s.ctx, stream, "-", "+", 1).Result()
	if err != nil || len(oldest) == 0 {
		return false, err
	}
	return compareStreamIDs(oldest[0].ID, lastID) > 0, nil
}

// resync reloads the children and delivers the difference to the handler
func (s *subscription) resync(children map[string]interface{}) (map[string]interface{}, string, error) {
	fresh, lastID, err := s.backend.snapshot(s.ctx, s.path)
	if err != nil {
		return children, "", err
	}
	if fresh == nil {
		fresh = make(map[string]interface{})
	}
	for _, event := range service.DiffChildren(s.path, children, fresh) {
		if s.ctx.Err() != nil {
			break
		}
		s.handler(event)
	}
	return fresh, lastID, nil
}

func applyEvent(children map[string]interface{}, event model.ChildEvent) {
	switch event.Type {
	case model.ChildAdded, model.ChildChanged:
		children[event.Key] = event.Value
	case model.ChildRemoved:
		delete(children, event.Key)
	}
}

func (s *subscription) Path() string { return s.path }

// Unsubscribe stops the tail loop without waiting for it, so it may be called
// from the handler.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.backend.mu.Lock()
		delete(s.backend.subs, s)
		s.backend.mu.Unlock()
		s.backend.unwatch(s.path)
	})
	return nil
}
