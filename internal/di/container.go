package di

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	apperrors "trip-planner/internal/shared/errors"
	"trip-planner/internal/shared/logger"
	httpadapter "trip-planner/internal/tripplanner/adapter/http"
	"trip-planner/internal/tripplanner/adapter/persistence/memory"
	"trip-planner/internal/tripplanner/adapter/persistence/mongodb"
	redisbackend "trip-planner/internal/tripplanner/adapter/persistence/redis"
	"trip-planner/internal/tripplanner/adapter/realtime"
	"trip-planner/internal/tripplanner/adapter/security"
	"trip-planner/internal/tripplanner/config"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/domain/repository"
	"trip-planner/internal/tripplanner/requestmanager"
	"trip-planner/internal/tripplanner/session"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Container wires the backend, the gateway security and the request layer
type Container struct {
	mu        sync.RWMutex
	services  map[reflect.Type]interface{}
	factories map[reflect.Type]func() (interface{}, error)

	Config *config.Config
	Logger logger.Logger

	Backend     repository.Backend
	RedisClient *goredis.Client
	MongoClient *mongo.Client

	Tokens   *security.TokenService
	Rules    *security.RulesEngine
	Requests *requestmanager.Manager
}

// NewContainer creates an empty container for cfg
func NewContainer(cfg *config.Config, log logger.Logger) *Container {
	if log == nil {
		log = logger.NewLoggerWithConfig(cfg.Log.Level, cfg.Log.Format, cfg.Log.Backend)
	}
	return &Container{
		services:  make(map[reflect.Type]interface{}),
		factories: make(map[reflect.Type]func() (interface{}, error)),
		Config:    cfg,
		Logger:    log,
	}
}

// InitializeBackend builds the backend named by Config.Backend
func (c *Container) InitializeBackend(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Backend != nil {
		return nil
	}

	cfg := c.Config
	switch cfg.Backend {
	case config.BackendMemory:
		c.Backend = memory.New(memory.WithLogger(c.Logger))

	case config.BackendRedis:
		client := redisbackend.NewRedisClient(cfg.Redis)
		backend := redisbackend.New(client, cfg.Redis, c.Logger)
		if err := backend.Ping(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.GetAddr(), err)
		}
		c.RedisClient = client
		c.Backend = backend

	case config.BackendMongoDB:
		client, err := mongodb.Connect(ctx, cfg.Mongo)
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		backend, err := mongodb.New(ctx, client, cfg.Mongo, c.Logger)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return fmt.Errorf("failed to create MongoDB backend: %w", err)
		}
		c.MongoClient = client
		c.Backend = backend

	case config.BackendGateway:
		client, err := realtime.New(realtime.Options{
			URL:           cfg.Gateway.URL,
			WebSocketPath: cfg.Gateway.WebSocketPath,
			AccessToken:   cfg.AccessToken,
			Timeout:       cfg.RequestTimeout,
			Logger:        c.Logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway client: %w", err)
		}
		c.Backend = client

	default:
		return fmt.Errorf("%w: %s", apperrors.ErrUnsupportedBackend, cfg.Backend)
	}

	c.Logger.Infof("Backend %s initialized", cfg.Backend)
	return nil
}

// InitializeSecurity builds the token service and the rules engine
func (c *Container) InitializeSecurity() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tokens, err := security.NewTokenService(c.Config.Gateway)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}
	rules, err := security.NewRulesEngine(security.DefaultRules(), c.Logger)
	if err != nil {
		return fmt.Errorf("failed to create rules engine: %w", err)
	}
	c.Tokens = tokens
	c.Rules = rules
	return nil
}

// InitializeRequests builds the REST request manager. Sessions rebind it to
// their own main queue.
func (c *Container) InitializeRequests() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Requests != nil {
		return nil
	}

	manager, err := requestmanager.NewFromConfig(c.Config, nil, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to create request manager: %w", err)
	}
	c.Requests = manager
	return nil
}

// NewGateway returns the sync gateway over the initialized backend
func (c *Container) NewGateway() (*httpadapter.Gateway, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Backend == nil {
		return nil, fmt.Errorf("backend must be initialized before the gateway")
	}
	if c.Tokens == nil || c.Rules == nil {
		return nil, fmt.Errorf("security must be initialized before the gateway")
	}
	return httpadapter.NewGateway(c.Backend, c.Tokens, c.Rules, c.Config.Gateway, c.Logger), nil
}

// OpenSession opens a session for uid over the initialized backend. The
// request manager is built on first use.
func (c *Container) OpenSession(ctx context.Context, uid string, role model.UserRole) (*session.Session, error) {
	c.mu.RLock()
	backend := c.Backend
	c.mu.RUnlock()
	if backend == nil {
		return nil, fmt.Errorf("backend must be initialized before opening a session")
	}
	if err := c.InitializeRequests(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	requests := c.Requests
	c.mu.RUnlock()
	return session.Open(ctx, session.Options{
		UID:      uid,
		Role:     role,
		Backend:  backend,
		Requests: requests,
		Logger:   c.Logger,
	})
}

// Register registers a service instance
func (c *Container) Register(service interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	serviceType := reflect.TypeOf(service)
	if serviceType.Kind() == reflect.Ptr {
		serviceType = serviceType.Elem()
	}

	c.services[serviceType] = service
	return nil
}

// RegisterFactory registers a factory function for a service
func (c *Container) RegisterFactory(serviceType reflect.Type, factory func() (interface{}, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.factories[serviceType] = factory
	return nil
}

// Resolve resolves a service by type. Factory results are cached.
func (c *Container) Resolve(serviceType reflect.Type) (interface{}, error) {
	c.mu.RLock()
	if service, exists := c.services[serviceType]; exists {
		c.mu.RUnlock()
		return service, nil
	}
	factory, exists := c.factories[serviceType]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("service of type %v not registered", serviceType)
	}

	service, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	c.mu.Lock()
	c.services[serviceType] = service
	c.mu.Unlock()
	return service, nil
}

// GetService is a generic helper for resolving services
func GetService[T any](c *Container) (T, error) {
	var zero T
	serviceType := reflect.TypeOf((*T)(nil)).Elem()
	if serviceType.Kind() == reflect.Ptr {
		serviceType = serviceType.Elem()
	}

	service, err := c.Resolve(serviceType)
	if err != nil {
		return zero, err
	}
	if typed, ok := service.(T); ok {
		return typed, nil
	}
	return zero, fmt.Errorf("service is not of expected type %T", zero)
}

// HealthCheck pings the backend when it supports it
func (c *Container) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	backend := c.Backend
	c.mu.RUnlock()

	if backend == nil {
		return fmt.Errorf("backend not initialized")
	}
	if p, ok := backend.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", c.Config.Backend, err)
		}
	}
	return nil
}

// Cleanup closes the backend and any registered service with a Cleanup method
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, service := range c.services {
		if cleaner, ok := service.(interface{ Cleanup(context.Context) error }); ok {
			if err := cleaner.Cleanup(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to cleanup service: %w", err))
			}
		}
	}
	if c.Backend != nil {
		if err := c.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close backend: %w", err))
		}
		c.Backend = nil
	}
	// the backends own their clients
	c.MongoClient = nil
	c.RedisClient = nil

	c.services = make(map[reflect.Type]interface{})
	c.factories = make(map[reflect.Type]func() (interface{}, error))

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// Close shuts the container down with a timeout
func (c *Container) Close() error {
	c.Logger.Info("Closing container resources")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Cleanup(ctx); err != nil {
		c.Logger.Warnf("Cleanup errors occurred: %v", err)
		return err
	}
	c.Logger.Info("Container resources closed")
	return nil
}
