package service

import (
	"time"

	"github.com/carecoord/welfare-dispatch/conf"
)

type Config struct {
	// Emergency report submissions are retried until this much time has passed.
	EmergencyRetryMaxElapsed time.Duration `conf:"EMERGENCY_RETRY_MAX_ELAPSED" conf_default:"15s"`
	EmergencyRetryInitial    time.Duration `conf:"EMERGENCY_RETRY_INITIAL" conf_default:"250ms"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
