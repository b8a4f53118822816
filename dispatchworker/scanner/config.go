package scanner

import (
	"time"

	"github.com/carecoord/welfare-dispatch/conf"
)

type Config struct {
	Concurrency int `conf:"SCAN_CONCURRENCY" conf_default:"8"`
	// An alert opens once a person is more than this many hours past their last check-in.
	MinOverdueHours float64       `conf:"ALERT_MIN_OVERDUE_HOURS" conf_default:"0"`
	TenantTimeout   time.Duration `conf:"SCAN_TENANT_TIMEOUT" conf_default:"90s"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return cfg, nil
}
