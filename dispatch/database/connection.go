package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/carecoord/welfare-dispatch/log"
)

// Variable substitution to support testing.
var openDB = sql.Open

// Connect opens the application connection pool and verifies it with a ping.
// Repositories rely on the lib/pq driver for error codes.
func Connect(ctx context.Context, cfg *Config) (*sql.DB, error) {
	db, err := openDB("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMin) * time.Minute)
	db.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.HealthCheckSec > 0 {
		go startHealthCheck(ctx, db, time.Duration(cfg.HealthCheckSec)*time.Second)
	}

	return db, nil
}

// startHealthCheck pings db every interval until ctx is done, logging failures.
func startHealthCheck(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			if err := db.PingContext(pingCtx); err != nil {
				log.API.Errorf("Database health check failed: %s", err.Error())
			}
			cancel()
		}
	}
}

// NewPgxPool builds the pgx pool River runs on.
func NewPgxPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue pool: %w", err)
	}
	return pool, nil
}

func pgxPoolConfig(cfg *Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.QueueDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse queue database url: %w", err)
	}

	maxConns, err := safecast.ToInt32(cfg.MaxOpenConns)
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = maxConns
	poolCfg.MaxConnIdleTime = time.Duration(cfg.ConnMaxIdleTime) * time.Second
	poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifetimeMin) * time.Minute
	poolCfg.HealthCheckPeriod = time.Duration(cfg.HealthCheckSec) * time.Second

	return poolCfg, nil
}
