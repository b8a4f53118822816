// Package modelstest provides an in-memory models.Store. It mirrors the
// constraints of the postgres schema (one active alert per person, one report
// per alert, one current profile version) so service and scanner tests can
// exercise those rules without a database.
package modelstest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
)

var _ models.Store = &Store{}

// Store guards an in-memory dataset with a single mutex. RunInTx holds the
// mutex for the whole unit of work and restores a snapshot on error.
type Store struct {
	mu sync.Mutex
	d  *dataset

	// FailNext, when set, is returned (and cleared) by the next repository call.
	FailNext error
}

type dataset struct {
	people   map[string]models.MonitoredPerson
	profiles map[string][]models.EmergencyProfile
	alerts   map[uint]models.Alert
	reports  map[string]models.WelfareCheckReport
	nextID   uint
}

func NewStore() *Store {
	return &Store{d: &dataset{
		people:   map[string]models.MonitoredPerson{},
		profiles: map[string][]models.EmergencyProfile{},
		alerts:   map[uint]models.Alert{},
		reports:  map[string]models.WelfareCheckReport{},
	}}
}

// AddPerson seeds a monitored person.
func (s *Store) AddPerson(p models.MonitoredPerson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.people[p.PersonID] = p
}

// AddAlert seeds an alert as-is, assigning an ID when it has none.
func (s *Store) AddAlert(a models.Alert) models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		s.d.nextID++
		a.ID = s.d.nextID
	}
	s.d.alerts[a.ID] = a
	return a
}

// Alerts returns every alert, including closed ones, ordered by ID.
func (s *Store) Alerts() []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Alert, 0, len(s.d.alerts))
	for _, a := range s.d.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reports returns every stored report.
func (s *Store) Reports() []models.WelfareCheckReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.WelfareCheckReport, 0, len(s.d.reports))
	for _, r := range s.d.reports {
		out = append(out, r)
	}
	return out
}

func (s *Store) RunInTx(ctx context.Context, fn func(models.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(&txRepository{s}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

func (s *Store) fail() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		people:   make(map[string]models.MonitoredPerson, len(d.people)),
		profiles: make(map[string][]models.EmergencyProfile, len(d.profiles)),
		alerts:   make(map[uint]models.Alert, len(d.alerts)),
		reports:  make(map[string]models.WelfareCheckReport, len(d.reports)),
		nextID:   d.nextID,
	}
	for k, v := range d.people {
		c.people[k] = v
	}
	for k, v := range d.profiles {
		c.profiles[k] = append([]models.EmergencyProfile(nil), v...)
	}
	for k, v := range d.alerts {
		c.alerts[k] = v
	}
	for k, v := range d.reports {
		c.reports[k] = v
	}
	return c
}

// txRepository runs against the store while the caller already holds its mutex.
type txRepository struct {
	s *Store
}

func (s *Store) locked(fn func(r *txRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txRepository{s})
}

func (s *Store) GetCurrentProfile(ctx context.Context, personID string) (p *models.EmergencyProfile, err error) {
	err = s.locked(func(r *txRepository) error { p, err = r.GetCurrentProfile(ctx, personID); return err })
	return
}

func (s *Store) GetCurrentProfilesByTenant(ctx context.Context, tenantID string) (p []*models.EmergencyProfile, err error) {
	err = s.locked(func(r *txRepository) error { p, err = r.GetCurrentProfilesByTenant(ctx, tenantID); return err })
	return
}

func (s *Store) GetProfileHistory(ctx context.Context, personID string) (p []*models.EmergencyProfile, err error) {
	err = s.locked(func(r *txRepository) error { p, err = r.GetProfileHistory(ctx, personID); return err })
	return
}

func (s *Store) CreateProfileVersion(ctx context.Context, profile models.EmergencyProfile) (p *models.EmergencyProfile, err error) {
	err = s.locked(func(r *txRepository) error { p, err = r.CreateProfileVersion(ctx, profile); return err })
	return
}

func (s *Store) GetAlertByID(ctx context.Context, alertID uint) (a *models.Alert, err error) {
	err = s.locked(func(r *txRepository) error { a, err = r.GetAlertByID(ctx, alertID); return err })
	return
}

func (s *Store) GetActiveAlert(ctx context.Context, personID string) (a *models.Alert, err error) {
	err = s.locked(func(r *txRepository) error { a, err = r.GetActiveAlert(ctx, personID); return err })
	return
}

func (s *Store) GetActiveAlertsByTenant(ctx context.Context, tenantID string) (a []*models.Alert, err error) {
	err = s.locked(func(r *txRepository) error { a, err = r.GetActiveAlertsByTenant(ctx, tenantID); return err })
	return
}

func (s *Store) CreateAlert(ctx context.Context, alert models.Alert) (a *models.Alert, err error) {
	err = s.locked(func(r *txRepository) error { a, err = r.CreateAlert(ctx, alert); return err })
	return
}

func (s *Store) UpdateAlertUrgency(ctx context.Context, alertID uint, urgency models.Urgency, updatedAt time.Time) error {
	return s.locked(func(r *txRepository) error { return r.UpdateAlertUrgency(ctx, alertID, urgency, updatedAt) })
}

func (s *Store) DispatchAlert(ctx context.Context, alertID uint, officerID, officerName string, initiatedAt, dispatchedAt time.Time) error {
	return s.locked(func(r *txRepository) error {
		return r.DispatchAlert(ctx, alertID, officerID, officerName, initiatedAt, dispatchedAt)
	})
}

func (s *Store) CloseAlert(ctx context.Context, alertID uint, reason models.ClosedReason, closedAt time.Time) error {
	return s.locked(func(r *txRepository) error { return r.CloseAlert(ctx, alertID, reason, closedAt) })
}

func (s *Store) CreateReport(ctx context.Context, report models.WelfareCheckReport) error {
	return s.locked(func(r *txRepository) error { return r.CreateReport(ctx, report) })
}

func (s *Store) GetReportByID(ctx context.Context, reportID string) (rep *models.WelfareCheckReport, err error) {
	err = s.locked(func(r *txRepository) error { rep, err = r.GetReportByID(ctx, reportID); return err })
	return
}

func (s *Store) GetReportByAlertID(ctx context.Context, alertID uint) (rep *models.WelfareCheckReport, err error) {
	err = s.locked(func(r *txRepository) error { rep, err = r.GetReportByAlertID(ctx, alertID); return err })
	return
}

func (s *Store) GetReportsByPerson(ctx context.Context, personID string, limit int) (rep []*models.WelfareCheckReport, err error) {
	err = s.locked(func(r *txRepository) error { rep, err = r.GetReportsByPerson(ctx, personID, limit); return err })
	return
}

func (s *Store) UpdateReportFollowup(ctx context.Context, reportID string, followup models.Followup, updatedAt time.Time) error {
	return s.locked(func(r *txRepository) error { return r.UpdateReportFollowup(ctx, reportID, followup, updatedAt) })
}

func (s *Store) GetTenantIDs(ctx context.Context) (t []string, err error) {
	err = s.locked(func(r *txRepository) error { t, err = r.GetTenantIDs(ctx); return err })
	return
}

func (s *Store) GetMonitoredPeople(ctx context.Context, tenantID string) (p []*models.MonitoredPerson, err error) {
	err = s.locked(func(r *txRepository) error { p, err = r.GetMonitoredPeople(ctx, tenantID); return err })
	return
}

func (r *txRepository) GetCurrentProfile(_ context.Context, personID string) (*models.EmergencyProfile, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	versions := r.s.d.profiles[personID]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].SupersededAt == nil {
			p := versions[i]
			return &p, nil
		}
	}
	return nil, dispatcherrors.NewNotFound("emergency profile", personID)
}

func (r *txRepository) GetCurrentProfilesByTenant(_ context.Context, tenantID string) ([]*models.EmergencyProfile, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	var out []*models.EmergencyProfile
	for _, versions := range r.s.d.profiles {
		for _, v := range versions {
			if v.TenantID == tenantID && v.SupersededAt == nil {
				p := v
				out = append(out, &p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonID < out[j].PersonID })
	return out, nil
}

func (r *txRepository) GetProfileHistory(_ context.Context, personID string) ([]*models.EmergencyProfile, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	versions := r.s.d.profiles[personID]
	out := make([]*models.EmergencyProfile, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		p := versions[i]
		out = append(out, &p)
	}
	return out, nil
}

func (r *txRepository) CreateProfileVersion(_ context.Context, profile models.EmergencyProfile) (*models.EmergencyProfile, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	versions := r.s.d.profiles[profile.PersonID]
	for i := range versions {
		if versions[i].SupersededAt == nil {
			superseded := now
			versions[i].SupersededAt = &superseded
		}
	}

	r.s.d.nextID++
	profile.ID = r.s.d.nextID
	profile.Version = len(versions) + 1
	profile.CreatedAt = now
	profile.SupersededAt = nil
	r.s.d.profiles[profile.PersonID] = append(versions, profile)

	return &profile, nil
}

func (r *txRepository) GetAlertByID(_ context.Context, alertID uint) (*models.Alert, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	a, ok := r.s.d.alerts[alertID]
	if !ok {
		return nil, dispatcherrors.NewNotFound("alert", strconv.FormatUint(uint64(alertID), 10))
	}
	return &a, nil
}

func (r *txRepository) GetActiveAlert(_ context.Context, personID string) (*models.Alert, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	for _, a := range r.s.d.alerts {
		if a.PersonID == personID && a.Active() {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *txRepository) GetActiveAlertsByTenant(_ context.Context, tenantID string) ([]*models.Alert, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	var out []*models.Alert
	for _, a := range r.s.d.alerts {
		if a.TenantID == tenantID && a.Active() {
			alert := a
			out = append(out, &alert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *txRepository) CreateAlert(ctx context.Context, alert models.Alert) (*models.Alert, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	for _, a := range r.s.d.alerts {
		if a.PersonID == alert.PersonID && a.Active() {
			return nil, fmt.Errorf("person %s: %w", alert.PersonID, models.ErrActiveAlertExists)
		}
	}
	r.s.d.nextID++
	alert.ID = r.s.d.nextID
	alert.State = models.AlertOpen
	r.s.d.alerts[alert.ID] = alert
	return &alert, nil
}

func (r *txRepository) UpdateAlertUrgency(_ context.Context, alertID uint, urgency models.Urgency, updatedAt time.Time) error {
	if err := r.s.fail(); err != nil {
		return err
	}
	a, ok := r.s.d.alerts[alertID]
	if !ok || !a.Active() {
		return models.ErrAlertNotUpdated
	}
	a.HoursSinceCheckIn = urgency.HoursSinceCheckIn
	a.UrgencyScore = urgency.Score
	a.PriorityBand = urgency.Band
	a.EscalationDelayHours = urgency.DelayHours
	a.UpdatedAt = updatedAt
	r.s.d.alerts[alertID] = a
	return nil
}

func (r *txRepository) DispatchAlert(_ context.Context, alertID uint, officerID, officerName string, initiatedAt, dispatchedAt time.Time) error {
	if err := r.s.fail(); err != nil {
		return err
	}
	a, ok := r.s.d.alerts[alertID]
	if !ok || a.State != models.AlertOpen {
		return models.ErrAlertNotUpdated
	}
	a.State = models.AlertDispatched
	a.DispatchedAt = &dispatchedAt
	a.DispatchedBy = officerID
	a.DispatchedByName = officerName
	a.CheckInitiatedAt = &initiatedAt
	a.UpdatedAt = dispatchedAt
	r.s.d.alerts[alertID] = a
	return nil
}

func (r *txRepository) CloseAlert(_ context.Context, alertID uint, reason models.ClosedReason, closedAt time.Time) error {
	if err := r.s.fail(); err != nil {
		return err
	}
	a, ok := r.s.d.alerts[alertID]
	if !ok || !a.Active() {
		return models.ErrAlertNotUpdated
	}
	a.State = models.AlertClosed
	a.ClosedAt = &closedAt
	a.ClosedReason = reason
	a.UpdatedAt = closedAt
	r.s.d.alerts[alertID] = a
	return nil
}

func (r *txRepository) CreateReport(_ context.Context, report models.WelfareCheckReport) error {
	if err := r.s.fail(); err != nil {
		return err
	}
	for _, existing := range r.s.d.reports {
		if existing.AlertID == report.AlertID {
			return fmt.Errorf("report for alert %d: %w", report.AlertID, dispatcherrors.ErrAlreadyResolved)
		}
	}
	report.ActionsTaken = append([]string{}, report.ActionsTaken...)
	r.s.d.reports[report.ID] = report
	return nil
}

func (r *txRepository) GetReportByID(_ context.Context, reportID string) (*models.WelfareCheckReport, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	rep, ok := r.s.d.reports[reportID]
	if !ok {
		return nil, dispatcherrors.NewNotFound("welfare check report", reportID)
	}
	return &rep, nil
}

func (r *txRepository) GetReportByAlertID(_ context.Context, alertID uint) (*models.WelfareCheckReport, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	for _, rep := range r.s.d.reports {
		if rep.AlertID == alertID {
			return &rep, nil
		}
	}
	return nil, dispatcherrors.NewNotFound("welfare check report for alert", strconv.FormatUint(uint64(alertID), 10))
}

func (r *txRepository) GetReportsByPerson(_ context.Context, personID string, limit int) ([]*models.WelfareCheckReport, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	var out []*models.WelfareCheckReport
	for _, rep := range r.s.d.reports {
		if rep.PersonID == personID {
			report := rep
			out = append(out, &report)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckCompletedAt.Equal(out[j].CheckCompletedAt) {
			return out[i].CheckCompletedAt.After(out[j].CheckCompletedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *txRepository) UpdateReportFollowup(_ context.Context, reportID string, followup models.Followup, updatedAt time.Time) error {
	if err := r.s.fail(); err != nil {
		return err
	}
	rep, ok := r.s.d.reports[reportID]
	if !ok {
		return dispatcherrors.NewNotFound("welfare check report", reportID)
	}
	rep.FollowupRequired = followup.FollowupRequired
	rep.FollowupDate = followup.FollowupDate
	rep.FollowupNotes = followup.FollowupNotes
	rep.UpdatedAt = updatedAt
	r.s.d.reports[reportID] = rep
	return nil
}

func (r *txRepository) GetTenantIDs(_ context.Context) ([]string, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, p := range r.s.d.people {
		if !seen[p.TenantID] {
			seen[p.TenantID] = true
			out = append(out, p.TenantID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *txRepository) GetMonitoredPeople(_ context.Context, tenantID string) ([]*models.MonitoredPerson, error) {
	if err := r.s.fail(); err != nil {
		return nil, err
	}
	var out []*models.MonitoredPerson
	for _, p := range r.s.d.people {
		if p.TenantID == tenantID {
			person := p
			out = append(out, &person)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonID < out[j].PersonID })
	return out, nil
}
