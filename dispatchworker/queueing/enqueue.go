/*
Enqueue.go has an interface and a River-backed implementation for inserting
tenant scan jobs. The interface allows the River client to be mocked for testing.
*/
package queueing

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// Enqueuer only handles inserting job entries into the queue
type Enqueuer interface {
	// AddScanTenantJob reports false when an identical scan is already queued or running.
	AddScanTenantJob(ctx context.Context, tenantID string) (bool, error)
}

type riverEnqueuer struct {
	*river.Client[pgx.Tx]
}

func (q riverEnqueuer) AddScanTenantJob(ctx context.Context, tenantID string) (bool, error) {
	res, err := q.Insert(ctx, ScanTenantArgs{TenantID: tenantID}, nil)
	if err != nil {
		return false, err
	}
	return !res.UniqueSkippedAsDuplicate, nil
}

// Makes this easier to mock and unit test
var enqueuerFromContext = func(ctx context.Context) Enqueuer {
	return riverEnqueuer{river.ClientFromContext[pgx.Tx](ctx)}
}
