package queueing

import (
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

const (
	ScanAllJobKind    = "ScanAllTenants"
	ScanTenantJobKind = "ScanTenant"
)

// ScanAllArgs is inserted by the periodic schedule. Its worker fans out one
// ScanTenantArgs per tenant.
type ScanAllArgs struct{}

func (ScanAllArgs) Kind() string {
	return ScanAllJobKind
}

type ScanTenantArgs struct {
	TenantID string `json:"tenant_id"`
}

func (ScanTenantArgs) Kind() string {
	return ScanTenantJobKind
}

// InsertOpts keeps at most one scan per tenant in flight. A fan-out that runs
// while the previous scan is still queued or running is skipped as a duplicate.
func (ScanTenantArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			ByState: []rivertype.JobState{
				rivertype.JobStateAvailable,
				rivertype.JobStatePending,
				rivertype.JobStateRunning,
				rivertype.JobStateRetryable,
				rivertype.JobStateScheduled,
			},
		},
	}
}
