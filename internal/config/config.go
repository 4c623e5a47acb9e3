package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is loaded from SHOPSPHERE_-prefixed environment variables.
// An empty MySQL DSN selects the in-memory store; an empty Redis address
// disables the availability cache.
type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	MySQLDSN        string        `envconfig:"MYSQL_DSN"`
	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	ReservationTTL  time.Duration `envconfig:"RESERVATION_TTL" default:"15m"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("shopsphere", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
