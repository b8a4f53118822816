package queueing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/riverqueue/river"
	"github.com/sirupsen/logrus"

	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/dispatchworker/scanner"
	"github.com/carecoord/welfare-dispatch/log"
)

type ScanAllWorker struct {
	river.WorkerDefaults[ScanAllArgs]
	people models.PeopleRepository
}

func NewScanAllWorker(people models.PeopleRepository) *ScanAllWorker {
	return &ScanAllWorker{people: people}
}

func (w *ScanAllWorker) Work(ctx context.Context, rjob *river.Job[ScanAllArgs]) error {
	ctx = log.NewStructuredLoggerEntry(log.Worker, ctx)
	ctx, logger := log.SetLoggerFields(ctx, logrus.Fields{"transaction_id": uuid.New(), "job_id": rjob.ID})

	tenants, err := w.people.GetTenantIDs(ctx)
	if err != nil {
		logger.Errorf("Failed to list tenants for scan %s", err.Error())
		return pkgerrors.Wrap(err, "failed to list tenants")
	}

	q := enqueuerFromContext(ctx)
	var queued, skipped int
	for _, tenantID := range tenants {
		inserted, err := q.AddScanTenantJob(ctx, tenantID)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to enqueue scan for tenant %s", tenantID)
		}
		if inserted {
			queued++
		} else {
			skipped++
		}
	}

	logger.WithFields(logrus.Fields{"queued": queued, "skipped_in_flight": skipped}).Info("Queued tenant scans")
	return nil
}

// TenantScanner is the part of scanner.Scanner the worker uses.
type TenantScanner interface {
	ScanTenant(ctx context.Context, tenantID string) (*scanner.Result, error)
}

type ScanTenantWorker struct {
	river.WorkerDefaults[ScanTenantArgs]
	scanner TenantScanner
	timeout time.Duration
}

func NewScanTenantWorker(s TenantScanner, timeout time.Duration) *ScanTenantWorker {
	return &ScanTenantWorker{scanner: s, timeout: timeout}
}

// Timeout bounds a stalled tenant scan; the next scheduled scan picks the tenant up again.
func (w *ScanTenantWorker) Timeout(*river.Job[ScanTenantArgs]) time.Duration {
	return w.timeout
}

func (w *ScanTenantWorker) Work(ctx context.Context, rjob *river.Job[ScanTenantArgs]) error {
	ctx = log.NewStructuredLoggerEntry(log.Worker, ctx)
	ctx, logger := log.SetLoggerFields(ctx, logrus.Fields{
		"transaction_id": uuid.New(), "job_id": rjob.ID, "tenant_id": rjob.Args.TenantID,
	})

	_, err := w.scanner.ScanTenant(ctx, rjob.Args.TenantID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scanner.ErrScanInProgress):
		logger.Info("Tenant scan already running, skipping")
		return nil
	case errors.Is(err, dispatcherrors.ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		// The next scheduled scan retries the tenant.
		logger.Warnf("Skipping tenant scan %s", err.Error())
		return nil
	}

	logger.Errorf("Tenant scan failed %s", err.Error())
	return err
}
