// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreMySQL  StoreBackend = "mysql"
	StoreRedis  StoreBackend = "redis"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":50051"`

	Store    StoreBackend `env:"STORE" envDefault:"memory"`
	MySQLDSN string       `env:"MYSQL_DSN" envDefault:"root:root@tcp(localhost:3306)/escrow_market?parseTime=true"`
	// Redis also backs purchase idempotency and event fan-out when set, whatever the store.
	RedisAddr string `env:"REDIS_ADDR"`

	EventWorkers   int `env:"EVENT_WORKERS" envDefault:"4"`
	EventQueueSize int `env:"EVENT_QUEUE_SIZE" envDefault:"1024"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load reads Config from MARKET_-prefixed environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "MARKET_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreMySQL:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("store %q requires MARKET_REDIS_ADDR", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.EventWorkers <= 0 {
		return fmt.Errorf("event workers must be positive, got %d", c.EventWorkers)
	}
	if c.EventQueueSize < 0 {
		return fmt.Errorf("event queue size must not be negative, got %d", c.EventQueueSize)
	}
	return nil
}
