package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"trip-planner/internal/shared/dbpath"
	apperrors "trip-planner/internal/shared/errors"
	"trip-planner/internal/shared/logger"
	"trip-planner/internal/tripplanner/config"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/domain/repository"
	"trip-planner/internal/tripplanner/domain/service"
)

const maxTxRetries = 32

// unwatchScript decrements a path's subscription count and drops it at zero
var unwatchScript = goredis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

// Backend stores the tree in Redis. Every object node is a hash of its
// children; child events are appended to one stream per watched path.
type Backend struct {
	client *goredis.Client
	keys   keyspace
	cfg    config.RedisConfig
	newKey func() string
	log    logger.Logger

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
}

var _ repository.Backend = (*Backend)(nil)

// Option customizes a Backend
type Option func(*Backend)

// WithKeyGenerator replaces the push key generator
func WithKeyGenerator(fn func() string) Option {
	return func(b *Backend) { b.newKey = fn }
}

// New creates a backend over client. The backend owns the client.
func New(client *goredis.Client, cfg config.RedisConfig, log logger.Logger, opts ...Option) *Backend {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "tp"
	}
	b := &Backend{
		client: client,
		keys:   keyspace{prefix: cfg.KeyPrefix},
		cfg:    cfg,
		newKey: service.NewKey,
		log:    log.WithComponent("redis_backend"),
		subs:   make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ping checks the connection
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) version(ctx context.Context, c goredis.Cmdable) (int64, error) {
	v, err := c.Get(ctx, b.keys.version()).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return v, err
}

// readNode loads the object stored in path's hash, or nil
func (b *Backend) readNode(ctx context.Context, c goredis.Cmdable, path string) (map[string]interface{}, error) {
	fields, err := c.HGetAll(ctx, b.keys.node(path)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(fields))
	for key, raw := range fields {
		value, isObject, err := decodeField(raw)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", path, key, err)
		}
		if !isObject {
			out[key] = value
			continue
		}
		child, err := b.readNode(ctx, c, dbpath.Child(path, key))
		if err != nil {
			return nil, err
		}
		if child != nil {
			out[key] = child
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (b *Backend) readValue(ctx context.Context, c goredis.Cmdable, path string) (interface{}, error) {
	if !dbpath.IsRoot(path) {
		raw, err := c.HGet(ctx, b.keys.node(dbpath.Parent(path)), dbpath.Key(path)).Result()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		value, isObject, err := decodeField(raw)
		if err != nil || !isObject {
			return value, err
		}
	}
	node, err := b.readNode(ctx, c, path)
	if err != nil || node == nil {
		return nil, err
	}
	return node, nil
}

// consistentRead retries fn until no write lands while it runs
func (b *Backend) consistentRead(ctx context.Context, fn func() error) error {
	for i := 0; i < maxTxRetries; i++ {
		v1, err := b.version(ctx, b.client)
		if err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		v2, err := b.version(ctx, b.client)
		if err != nil {
			return err
		}
		if v1 == v2 {
			return nil
		}
	}
	return fmt.Errorf("read did not settle after %d attempts", maxTxRetries)
}

// Get implements repository.Reader
func (b *Backend) Get(ctx context.Context, path string) (interface{}, error) {
	if err := dbpath.ValidatePath(path); err != nil {
		return nil, err
	}
	if b.isClosed() {
		return nil, apperrors.ErrSubscriptionClosed
	}
	path = dbpath.Normalize(path)
	var value interface{}
	err := b.consistentRead(ctx, func() error {
		var err error
		value, err = b.readValue(ctx, b.client, path)
		return err
	})
	return value, err
}

// Set implements repository.Writer
func (b *Backend) Set(ctx context.Context, path string, value interface{}) error {
	return b.mutate(ctx, path, func(interface{}) (interface{}, error) { return value, nil })
}

// Push implements repository.Writer
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

// Update implements repository.Writer. Field names may be relative paths.
func (b *Backend) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	if err := dbpath.ValidatePath(path); err != nil {
		return err
	}
	values := make(map[string]interface{}, len(fields))
	for field, value := range fields {
		target := dbpath.Join(path, field)
		if err := dbpath.ValidatePath(target); err != nil || target == dbpath.Normalize(path) {
			return fmt.Errorf("%w: update field %q", apperrors.ErrInvalidKey, field)
		}
		normalized, err := service.Normalize(value)
		if err != nil {
			return err
		}
		values[field] = normalized
	}
	return b.mutate(ctx, path, func(old interface{}) (interface{}, error) {
		merged, ok := old.(map[string]interface{})
		if !ok {
			merged = make(map[string]interface{})
		}
		for field, value := range values {
			service.Assign(merged, dbpath.Segments(field), value)
		}
		return merged, nil
	})
}

// Remove implements repository.Writer
func (b *Backend) Remove(ctx context.Context, path string) error {
	return b.mutate(ctx, path, func(interface{}) (interface{}, error) { return nil, nil })
}

// mutate replaces the value at path with compute(old) in one optimistic
// transaction and appends the resulting child events to the watched streams.
func (b *Backend) mutate(ctx context.Context, path string, compute func(old interface{}) (interface{}, error)) error {
	if err := dbpath.ValidatePath(path); err != nil {
		return err
	}
	if b.isClosed() {
		return apperrors.ErrSubscriptionClosed
	}
	path = dbpath.Normalize(path)

	txf := func(tx *goredis.Tx) error {
		watched, err := tx.HKeys(ctx, b.keys.watched()).Result()
		if err != nil {
			return err
		}
		topics := relevantTopics(watched, path)

		// read from the highest watched ancestor so its children can be diffed
		top := path
		for _, t := range topics {
			if dbpath.IsAncestor(t, top) {
				top = t
			}
		}
		beforeTop, err := b.readValue(ctx, tx, top)
		if err != nil {
			return err
		}
		old := lookupIn(beforeTop, relSegments(top, path))

		next, err := compute(service.DeepCopy(old))
		if err != nil {
			return err
		}
		if next, err = service.Normalize(next); err != nil {
			return err
		}
		next = compact(next)
		if dbpath.IsRoot(path) {
			if _, ok := next.(map[string]interface{}); !ok {
				next = nil
			}
		}
		afterTop := replaceIn(beforeTop, relSegments(top, path), next)

		var events []model.ChildEvent
		for _, t := range topics {
			before := service.Children(lookupIn(beforeTop, relSegments(top, t)))
			after := service.Children(lookupIn(afterTop, relSegments(top, t)))
			events = append(events, service.DiffChildren(t, before, after)...)
		}

		var emptied []string
		if next == nil && !dbpath.IsRoot(path) {
			if emptied, err = b.emptiedAncestors(ctx, tx, path); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Incr(ctx, b.keys.version())
			b.deleteTree(ctx, pipe, path, old)
			if next == nil {
				if !dbpath.IsRoot(path) {
					pipe.HDel(ctx, b.keys.node(dbpath.Parent(path)), dbpath.Key(path))
				}
				for _, p := range emptied {
					pipe.Del(ctx, b.keys.node(p))
					if !dbpath.IsRoot(p) {
						pipe.HDel(ctx, b.keys.node(dbpath.Parent(p)), dbpath.Key(p))
					}
				}
			} else if err := b.writeTree(ctx, pipe, path, next); err != nil {
				return err
			}
			for _, event := range events {
				values, err := encodeEvent(event)
				if err != nil {
					return err
				}
				pipe.XAdd(ctx, &goredis.XAddArgs{
					Stream: b.keys.stream(event.Path),
					MaxLen: b.cfg.StreamMaxLength,
					Approx: b.cfg.StreamMaxLength > 0,
					Values: values,
				})
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := b.client.Watch(ctx, txf, b.keys.version())
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			b.log.Errorf("Write to %s failed: %v", path, err)
		}
		return err
	}
	return fmt.Errorf("write to %s: too much contention", path)
}

// emptiedAncestors lists the ancestors of path whose hash is left empty once
// path is removed, nearest first. The root hash is never listed.
func (b *Backend) emptiedAncestors(ctx context.Context, c goredis.Cmdable, path string) ([]string, error) {
	var emptied []string
	child := path
	for parent := dbpath.Parent(path); !dbpath.IsRoot(parent); parent = dbpath.Parent(parent) {
		keys, err := c.HKeys(ctx, b.keys.node(parent)).Result()
		if err != nil {
			return nil, err
		}
		found, remaining := false, 0
		for _, k := range keys {
			if k == dbpath.Key(child) {
				found = true
			} else {
				remaining++
			}
		}
		if !found || remaining > 0 {
			break
		}
		emptied = append(emptied, parent)
		child = parent
	}
	return emptied, nil
}

func (b *Backend) deleteTree(ctx context.Context, pipe goredis.Pipeliner, path string, old interface{}) {
	m, ok := old.(map[string]interface{})
	if !ok {
		return
	}
	pipe.Del(ctx, b.keys.node(path))
	for key, child := range m {
		b.deleteTree(ctx, pipe, dbpath.Child(path, key), child)
	}
}

// writeTree stores value at path and links every ancestor to it
func (b *Backend) writeTree(ctx context.Context, pipe goredis.Pipeliner, path string, value interface{}) error {
	if err := b.writeNode(ctx, pipe, path, value); err != nil {
		return err
	}
	if dbpath.IsRoot(path) {
		return nil
	}
	field, err := encodeField(value)
	if err != nil {
		return err
	}
	pipe.HSet(ctx, b.keys.node(dbpath.Parent(path)), dbpath.Key(path), field)
	for a := dbpath.Parent(path); !dbpath.IsRoot(a); a = dbpath.Parent(a) {
		pipe.HSet(ctx, b.keys.node(dbpath.Parent(a)), dbpath.Key(a), objectMarker)
	}
	return nil
}

func (b *Backend) writeNode(ctx context.Context, pipe goredis.Pipeliner, path string, value interface{}) error {
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	fields := make(map[string]interface{}, len(m))
	for key, child := range m {
		field, err := encodeField(child)
		if err != nil {
			return err
		}
		fields[key] = field
		if err := b.writeNode(ctx, pipe, dbpath.Child(path, key), child); err != nil {
			return err
		}
	}
	pipe.HSet(ctx, b.keys.node(path), fields)
	return nil
}

// lookupIn walks segments below value
func lookupIn(value interface{}, segments []string) interface{} {
	if len(segments) == 0 {
		return value
	}
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	return service.Lookup(m, segments)
}

// replaceIn returns a copy of value with next stored at segments
func replaceIn(value interface{}, segments []string, next interface{}) interface{} {
	if len(segments) == 0 {
		return service.DeepCopy(next)
	}
	m, ok := service.DeepCopy(value).(map[string]interface{})
	if !ok {
		m = make(map[string]interface{})
	}
	service.Assign(m, segments, service.DeepCopy(next))
	if len(m) == 0 {
		return nil
	}
	return m
}

// Close stops every subscription and closes the client
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return b.client.Close()
}
