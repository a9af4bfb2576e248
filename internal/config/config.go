package config

import (
	"errors"
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
)

const (
	HistoryBackendPostgres = "postgres"
	HistoryBackendBadger   = "badger"
)

type Config struct {
	Port            string `env:"PORT,default=8080"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
	Environment     string `env:"ENVIRONMENT,default=development"`
	DatabaseURL     string `env:"DATABASE_URL,required=true"`
	RedisURL        string `env:"REDIS_URL"`
	JWTSecret       string `env:"JWT_SECRET"`
	JWTPrivateKey   string `env:"JWT_PRIVATE_KEY"`
	JWTPublicKey    string `env:"JWT_PUBLIC_KEY"`
	FileStoragePath string `env:"FILE_STORAGE_PATH,default=./data/uploads"`
	BaseFileURL     string `env:"BASE_FILE_URL,default=/files"`

	HistoryBackend string `env:"HISTORY_BACKEND,default=postgres"`
	BadgerPath     string `env:"BADGER_PATH,default=./data/history"`

	// AppendTimeout bounds a single history append; a Send exceeding it fails
	// with StorageUnavailable.
	AppendTimeout     time.Duration `env:"APPEND_TIMEOUT,default=5s"`
	JoinBackfillLimit int           `env:"JOIN_BACKFILL_LIMIT,default=100"`
	ClientBufferSize  int           `env:"CLIENT_BUFFER_SIZE,default=256"`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE,default=8192"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL,default=1m"`

	RateLimitCapacity  int64   `env:"RATE_LIMIT_CAPACITY,default=20"`
	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND,default=5"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.HistoryBackend {
	case HistoryBackendPostgres, HistoryBackendBadger:
	default:
		return fmt.Errorf("invalid HISTORY_BACKEND %q: must be %q or %q", c.HistoryBackend, HistoryBackendPostgres, HistoryBackendBadger)
	}

	if c.JWTSecret == "" && c.JWTPublicKey == "" {
		return errors.New("one of JWT_SECRET or JWT_PUBLIC_KEY must be set")
	}

	if c.AppendTimeout <= 0 {
		return fmt.Errorf("APPEND_TIMEOUT must be positive, got %s", c.AppendTimeout)
	}

	if c.ClientBufferSize <= 0 {
		return fmt.Errorf("CLIENT_BUFFER_SIZE must be positive, got %d", c.ClientBufferSize)
	}

	return nil
}
