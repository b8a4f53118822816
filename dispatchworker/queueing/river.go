/*
Package queueing runs the escalation scan as River jobs.

A periodic ScanAllTenants job fires on the SCAN_SCHEDULE cron expression and
inserts one ScanTenant job per tenant. ScanTenant jobs are unique per tenant
while queued or running, so a slow tenant never has two scans in flight.
*/
package queueing

import (
	"context"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/robfig/cron/v3"

	"github.com/carecoord/welfare-dispatch/conf"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/log"
)

type Config struct {
	Schedule      string        `conf:"SCAN_SCHEDULE" conf_default:"*/2 * * * *"`
	NumWorkers    int           `conf:"WORKER_POOL_SIZE" conf_default:"4"`
	TenantTimeout time.Duration `conf:"SCAN_TENANT_TIMEOUT" conf_default:"90s"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queue struct {
	client *river.Client[pgx.Tx]
	db     rowQuerier
}

func newWorkers(people models.PeopleRepository, s TenantScanner, cfg *Config) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewScanAllWorker(people))
	river.AddWorker(workers, NewScanTenantWorker(s, cfg.TenantTimeout))
	return workers
}

func periodicJobs(cfg *Config) ([]*river.PeriodicJob, error) {
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			schedule,
			func() (river.JobArgs, *river.InsertOpts) {
				return ScanAllArgs{}, &river.InsertOpts{MaxAttempts: 1}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}, nil
}

// StartRiver builds and starts the River client that owns the scan schedule.
func StartRiver(ctx context.Context, pool *pgxpool.Pool, people models.PeopleRepository, s TenantScanner, cfg *Config) (*Queue, error) {
	jobs, err := periodicJobs(cfg)
	if err != nil {
		return nil, err
	}

	logger := log.NewSlogLogger("worker")
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.NumWorkers},
		},
		Logger:       logger,
		Workers:      newWorkers(people, s, cfg),
		PeriodicJobs: jobs,
	})
	if err != nil {
		logger.Error("failed to init river client", "error", err)
		return nil, err
	}

	if err := client.Start(ctx); err != nil {
		logger.Error("failed to start river client", "error", err)
		return nil, err
	}

	return &Queue{client: client, db: pool}, nil
}

func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// QueuedScans counts tenant scans that have not finished.
func (q *Queue) QueuedScans(ctx context.Context) (int, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)").From("river_job")
	sb.Where(sb.Equal("kind", ScanTenantJobKind), sb.NotIn("state", "completed", "cancelled", "discarded"))
	query, args := sb.Build()

	var count int
	if err := q.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
