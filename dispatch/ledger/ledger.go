// Package ledger reads the last recorded check-in for a monitored person.
// The ledger is owned by the check-in system; the dispatch engine only reads it.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/carecoord/welfare-dispatch/conf"
)

// Precision is the resolution check-in times are stored at. Readers truncate
// to it so a check-in compares equal to the copy kept on its alert.
const Precision = time.Microsecond

// Reader returns the most recent check-in time, or nil when the person has never checked in.
type Reader interface {
	LastCheckInAt(ctx context.Context, personID string) (*time.Time, error)
}

type Config struct {
	// URL of the check-in service. When empty the check_ins table is read directly.
	URL          string        `conf:"LEDGER_URL"`
	Timeout      time.Duration `conf:"LEDGER_TIMEOUT" conf_default:"5s"`
	RetryMax     int           `conf:"LEDGER_RETRY_MAX" conf_default:"3"`
	RetryWaitMin time.Duration `conf:"LEDGER_RETRY_WAIT_MIN" conf_default:"200ms"`
	RetryWaitMax time.Duration `conf:"LEDGER_RETRY_WAIT_MAX" conf_default:"2s"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewReader picks the HTTP client when a ledger URL is configured, otherwise the database reader.
func NewReader(cfg *Config, db *sql.DB) (Reader, error) {
	if cfg.URL != "" {
		return NewClient(cfg), nil
	}
	if db == nil {
		return nil, fmt.Errorf("ledger: no LEDGER_URL configured and no database available")
	}
	return NewDBReader(db), nil
}
