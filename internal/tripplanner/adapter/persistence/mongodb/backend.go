package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"trip-planner/internal/shared/dbpath"
	apperrors "trip-planner/internal/shared/errors"
	"trip-planner/internal/shared/logger"
	"trip-planner/internal/tripplanner/config"
	"trip-planner/internal/tripplanner/domain/repository"
	"trip-planner/internal/tripplanner/domain/service"
)

// Backend stores the tree as one document per leaf in a single collection.
// Writes run in transactions and subscriptions follow change streams, so the
// server must be a replica set.
type Backend struct {
	client *mongo.Client
	coll   *mongo.Collection
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

// Connect dials MongoDB with cfg
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// New creates a backend over the configured collection and ensures its
// indexes. The backend owns the client.
func New(ctx context.Context, client *mongo.Client, cfg config.MongoConfig, log logger.Logger, opts ...Option) (*Backend, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	b := &Backend{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		newKey: service.NewKey,
		log:    log.WithComponent("mongodb_backend"),
		subs:   make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	_, err := b.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ancestors", Value: 1}}},
		{Keys: bson.D{{Key: "parent", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return b, nil
}

// Ping checks the connection
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx, readpref.Primary())
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) read(ctx context.Context, path string) (interface{}, error) {
	cursor, err := b.coll.Find(ctx, subtreeFilter(path))
	if err != nil {
		return nil, err
	}
	var docs []leafDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return assemble(path, docs), nil
}

// Get implements repository.Reader
func (b *Backend) Get(ctx context.Context, path string) (interface{}, error) {
	if err := dbpath.ValidatePath(path); err != nil {
		return nil, err
	}
	if b.isClosed() {
		return nil, apperrors.ErrSubscriptionClosed
	}
	return b.read(ctx, dbpath.Normalize(path))
}

// Set implements repository.Writer
func (b *Backend) Set(ctx context.Context, path string, value interface{}) error {
	if err := dbpath.ValidatePath(path); err != nil {
		return err
	}
	normalized, err := service.Normalize(value)
	if err != nil {
		return err
	}
	return b.transact(ctx, func(sc mongo.SessionContext) error {
		return b.replace(sc, dbpath.Normalize(path), normalized)
	})
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
	targets := make(map[string]interface{}, len(fields))
	for field, value := range fields {
		target := dbpath.Join(path, field)
		if err := dbpath.ValidatePath(target); err != nil || target == dbpath.Normalize(path) {
			return fmt.Errorf("%w: update field %q", apperrors.ErrInvalidKey, field)
		}
		normalized, err := service.Normalize(value)
		if err != nil {
			return err
		}
		targets[target] = normalized
	}
	return b.transact(ctx, func(sc mongo.SessionContext) error {
		for target, value := range targets {
			if err := b.replace(sc, target, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Remove implements repository.Writer
func (b *Backend) Remove(ctx context.Context, path string) error {
	return b.Set(ctx, path, nil)
}

func (b *Backend) transact(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	if b.isClosed() {
		return apperrors.ErrSubscriptionClosed
	}
	session, err := b.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil {
		b.log.Errorf("Transaction failed: %v", err)
	}
	return err
}

// replace swaps the subtree at path for value. Leaves standing where value
// needs an object are removed.
func (b *Backend) replace(ctx context.Context, path string, value interface{}) error {
	if dbpath.IsRoot(path) {
		if _, ok := value.(map[string]interface{}); !ok {
			value = nil
		}
	}
	if _, err := b.coll.DeleteMany(ctx, subtreeFilter(path)); err != nil {
		return err
	}
	docs := flatten(path, value)
	if len(docs) == 0 {
		return nil
	}
	if !dbpath.IsRoot(path) {
		if _, err := b.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ancestors(path)}}); err != nil {
			return err
		}
	}
	batch := make([]interface{}, len(docs))
	for i := range docs {
		batch[i] = docs[i]
	}
	_, err := b.coll.InsertMany(ctx, batch)
	return err
}

// Close stops every subscription and disconnects the client
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
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}
