package database

import (
	"errors"

	"github.com/carecoord/welfare-dispatch/conf"
	"github.com/carecoord/welfare-dispatch/log"
)

type Config struct {
	MaxOpenConns       int `conf:"DISPATCH_DB_MAX_OPEN_CONNS" conf_default:"25"`
	MaxIdleConns       int `conf:"DISPATCH_DB_MAX_IDLE_CONNS" conf_default:"10"`
	ConnMaxLifetimeMin int `conf:"DISPATCH_DB_CONN_MAX_LIFETIME_MIN" conf_default:"5"`
	ConnMaxIdleTime    int `conf:"DISPATCH_DB_CONN_MAX_IDLE_TIME" conf_default:"30"`

	DatabaseURL string `conf:"DATABASE_URL"`
	// River may live in a separate database. Defaults to DatabaseURL.
	QueueDatabaseURL string `conf:"QUEUE_DATABASE_URL"`

	HealthCheckSec int `conf:"DB_HEALTH_CHECK_INTERVAL" conf_default:"5"`
}

func LoadConfig() (cfg *Config, err error) {
	cfg = &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("invalid config, DatabaseURL must be set")
	}
	if cfg.QueueDatabaseURL == "" {
		cfg.QueueDatabaseURL = cfg.DatabaseURL
	}

	log.API.Info("Successfully loaded configuration for Database.")

	return cfg, nil
}
