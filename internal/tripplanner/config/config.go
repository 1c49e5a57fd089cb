package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// Backend kinds accepted in BACKEND
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendMongoDB = "mongodb"
	BackendGateway = "gateway"
)

// LogConfig controls the shared logger.
type LogConfig struct {
	Level   string `env:"LOG_LEVEL" envDefault:"info" json:"level"`
	Format  string `env:"LOG_FORMAT" envDefault:"text" json:"format"`
	Backend string `env:"LOG_BACKEND" envDefault:"logrus" json:"backend"`
}

// RedisConfig holds the Redis backend connection settings.
type RedisConfig struct {
	Host            string        `env:"REDIS_HOST" envDefault:"localhost" json:"host"`
	Port            string        `env:"REDIS_PORT" envDefault:"6379" json:"port"`
	Password        string        `env:"REDIS_PASSWORD" json:"-"`
	Database        int           `env:"REDIS_DB" envDefault:"0" json:"database"`
	MaxRetries      int           `env:"REDIS_MAX_RETRIES" envDefault:"3" json:"max_retries"`
	PoolSize        int           `env:"REDIS_POOL_SIZE" envDefault:"10" json:"pool_size"`
	MinIdleConns    int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2" json:"min_idle_conns"`
	EnableTLS       bool          `env:"REDIS_TLS" envDefault:"false" json:"enable_tls"`
	ConnMaxIdleTime time.Duration `env:"REDIS_CONN_MAX_IDLE_TIME" envDefault:"30m" json:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `env:"REDIS_CONN_MAX_LIFETIME" envDefault:"1h" json:"conn_max_lifetime"`
	// StreamMaxLength caps each per-collection event stream (approximate trim).
	StreamMaxLength int64         `env:"REDIS_STREAM_MAX_LENGTH" envDefault:"10000" json:"stream_max_length"`
	BlockTimeout    time.Duration `env:"REDIS_BLOCK_TIMEOUT" envDefault:"5s" json:"block_timeout"`
	KeyPrefix       string        `env:"REDIS_KEY_PREFIX" envDefault:"tp" json:"key_prefix"`
}

// GetAddr returns host:port
func (c RedisConfig) GetAddr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// MongoConfig holds the MongoDB backend settings.
type MongoConfig struct {
	URI            string        `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017" json:"-"`
	Database       string        `env:"MONGODB_DATABASE" envDefault:"trip_planner" json:"database"`
	Collection     string        `env:"MONGODB_COLLECTION" envDefault:"nodes" json:"collection"`
	ConnectTimeout time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s" json:"connect_timeout"`
}

// GatewayConfig configures the sync gateway server and its clients.
type GatewayConfig struct {
	Host string `env:"GATEWAY_HOST" envDefault:"0.0.0.0" json:"host"`
	Port string `env:"GATEWAY_PORT" envDefault:"3030" json:"port"`
	// URL is where clients reach the gateway, e.g. "http://localhost:3030".
	URL                     string        `env:"GATEWAY_URL" envDefault:"http://localhost:3030" json:"url"`
	WebSocketPath           string        `env:"WEBSOCKET_PATH" envDefault:"/ws/v1/listen" json:"websocket_path"`
	ClientSendChannelBuffer int           `env:"CLIENT_SEND_CHANNEL_BUFFER" envDefault:"64" json:"client_send_channel_buffer"`
	JWTSecretKey            string        `env:"JWT_SECRET_KEY" json:"-"`
	JWTIssuer               string        `env:"JWT_ISSUER" envDefault:"trip-planner" json:"jwt_issuer"`
	AccessTokenTTL          time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h" json:"access_token_ttl"`
	ReadTimeout             time.Duration `env:"GATEWAY_READ_TIMEOUT" envDefault:"15s" json:"read_timeout"`
	WriteTimeout            time.Duration `env:"GATEWAY_WRITE_TIMEOUT" envDefault:"15s" json:"write_timeout"`
}

// Addr returns the listen address
func (c GatewayConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Config holds all configuration for the trip planner core.
type Config struct {
	// Endpoint is the REST base URL, e.g. "https://tripplanner.example.com".
	Endpoint       string        `env:"ENDPOINT" envDefault:"http://localhost:3030" json:"endpoint"`
	AccessToken    string        `env:"ACCESS_TOKEN" json:"-"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"20s" json:"request_timeout"`
	Backend        string        `env:"BACKEND" envDefault:"memory" json:"backend"`

	// Optional fixtures used by the example client.
	TestUID    string `env:"TEST_UID" json:"test_uid,omitempty"`
	TestTripID string `env:"TEST_TRIP_ID" json:"test_trip_id,omitempty"`

	Log     LogConfig     `json:"log"`
	Redis   RedisConfig   `json:"redis"`
	Mongo   MongoConfig   `json:"mongo"`
	Gateway GatewayConfig `json:"gateway"`
}

// LoadConfig loads configuration from environment variables and applies defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load configuration from environment: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and fills derived defaults.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendMemory, BackendRedis, BackendMongoDB, BackendGateway:
	default:
		return fmt.Errorf("unsupported BACKEND %q", c.Backend)
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ENDPOINT must be an absolute URL, got %q", c.Endpoint)
	}
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 20 * time.Second
	}
	if c.Gateway.WebSocketPath == "" {
		c.Gateway.WebSocketPath = "/ws/v1/listen"
	}
	if c.Gateway.ClientSendChannelBuffer <= 0 {
		c.Gateway.ClientSendChannelBuffer = 64
	}
	if c.Backend == BackendMongoDB && c.Mongo.URI == "" {
		return errors.New("MONGODB_URI environment variable is not set")
	}
	return nil
}

// DefaultConfig returns a Config with default values for local development and tests.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:       "http://localhost:3030",
		RequestTimeout: 20 * time.Second,
		Backend:        BackendMemory,
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Backend: "logrus",
		},
		Redis: RedisConfig{
			Host:            "localhost",
			Port:            "6379",
			MaxRetries:      3,
			PoolSize:        10,
			MinIdleConns:    2,
			ConnMaxIdleTime: 30 * time.Minute,
			ConnMaxLifetime: time.Hour,
			StreamMaxLength: 10000,
			BlockTimeout:    5 * time.Second,
			KeyPrefix:       "tp",
		},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "trip_planner",
			Collection:     "nodes",
			ConnectTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{
			Host:                    "0.0.0.0",
			Port:                    "3030",
			URL:                     "http://localhost:3030",
			WebSocketPath:           "/ws/v1/listen",
			ClientSendChannelBuffer: 64,
			JWTSecretKey:            "dev-secret-change-me",
			JWTIssuer:               "trip-planner",
			AccessTokenTTL:          24 * time.Hour,
			ReadTimeout:             15 * time.Second,
			WriteTimeout:            15 * time.Second,
		},
	}
}
