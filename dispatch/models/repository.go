package models

import (
	"context"
	"errors"
	"time"
)

// ErrAlertNotUpdated is returned when a compare-and-swap on an alert's state matched no row.
var ErrAlertNotUpdated = errors.New("alert was not updated, no match found")

// ErrActiveAlertExists is returned when opening an alert for a person who already has one.
var ErrActiveAlertExists = errors.New("person already has an active alert")

// ErrProfileVersionConflict is returned when another writer stored the same profile version first.
var ErrProfileVersionConflict = errors.New("profile version was stored concurrently")

// Repository contains all of the CRUD methods the dispatch engine needs.
type Repository interface {
	ProfileRepository
	AlertRepository
	ReportRepository
	PeopleRepository
}

type ProfileRepository interface {
	// GetCurrentProfile returns the non-superseded version or a NotFound error.
	GetCurrentProfile(ctx context.Context, personID string) (*EmergencyProfile, error)

	GetCurrentProfilesByTenant(ctx context.Context, tenantID string) ([]*EmergencyProfile, error)

	// GetProfileHistory returns every version, newest first.
	GetProfileHistory(ctx context.Context, personID string) ([]*EmergencyProfile, error)

	// CreateProfileVersion supersedes the current version (if any) and stores
	// profile as the next version. Callers run it inside a transaction.
	CreateProfileVersion(ctx context.Context, profile EmergencyProfile) (*EmergencyProfile, error)
}

type AlertRepository interface {
	GetAlertByID(ctx context.Context, alertID uint) (*Alert, error)

	// GetActiveAlert returns the person's Open or Dispatched alert, or nil when there is none.
	GetActiveAlert(ctx context.Context, personID string) (*Alert, error)

	GetActiveAlertsByTenant(ctx context.Context, tenantID string) ([]*Alert, error)

	CreateAlert(ctx context.Context, alert Alert) (*Alert, error)

	// UpdateAlertUrgency refreshes the derived fields of an active alert.
	UpdateAlertUrgency(ctx context.Context, alertID uint, urgency Urgency, updatedAt time.Time) error

	// DispatchAlert moves an Open alert to Dispatched, returning ErrAlertNotUpdated if it was not Open.
	DispatchAlert(ctx context.Context, alertID uint, officerID, officerName string, initiatedAt, dispatchedAt time.Time) error

	// CloseAlert moves an Open or Dispatched alert to Closed, returning
	// ErrAlertNotUpdated if it was already Closed or does not exist.
	CloseAlert(ctx context.Context, alertID uint, reason ClosedReason, closedAt time.Time) error
}

type ReportRepository interface {
	// CreateReport stores a report. A second report for the same alert fails
	// with an AlreadyResolved error.
	CreateReport(ctx context.Context, report WelfareCheckReport) error

	GetReportByID(ctx context.Context, reportID string) (*WelfareCheckReport, error)

	GetReportByAlertID(ctx context.Context, alertID uint) (*WelfareCheckReport, error)

	// GetReportsByPerson returns up to limit reports, newest first.
	GetReportsByPerson(ctx context.Context, personID string, limit int) ([]*WelfareCheckReport, error)

	UpdateReportFollowup(ctx context.Context, reportID string, followup Followup, updatedAt time.Time) error
}

type PeopleRepository interface {
	GetTenantIDs(ctx context.Context) ([]string, error)

	GetMonitoredPeople(ctx context.Context, tenantID string) ([]*MonitoredPerson, error)
}

// Store is a Repository that can also run a unit of work atomically.
type Store interface {
	Repository

	// RunInTx calls fn with a Repository bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(Repository) error) error
}
