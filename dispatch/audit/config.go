package audit

import (
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/carecoord/welfare-dispatch/conf"
	"github.com/carecoord/welfare-dispatch/log"
)

type Config struct {
	Sinks        []string `conf:"AUDIT_SINKS" conf_default:"log"`
	KafkaBrokers []string `conf:"KAFKA_BROKERS"`
	KafkaTopic   string   `conf:"AUDIT_KAFKA_TOPIC" conf_default:"welfare-dispatch.audit"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewSink builds the sinks named in cfg. The returned closers must be closed on shutdown.
func NewSink(cfg *Config, db *sql.DB) (Sink, []io.Closer, error) {
	var (
		sinks   MultiSink
		closers []io.Closer
	)
	for _, name := range cfg.Sinks {
		switch strings.ToLower(name) {
		case "db":
			if db == nil {
				return nil, nil, fmt.Errorf("audit sink db requires a database connection")
			}
			sinks = append(sinks, NewDBSink(db))
		case "kafka":
			if len(cfg.KafkaBrokers) == 0 {
				return nil, nil, fmt.Errorf("audit sink kafka requires KAFKA_BROKERS")
			}
			k := NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
			sinks = append(sinks, k)
			closers = append(closers, k)
		case "log":
			sinks = append(sinks, LogSink{Logger: log.API})
		default:
			return nil, nil, fmt.Errorf("unknown audit sink %q", name)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, LogSink{Logger: log.API})
	}
	return sinks, closers, nil
}
