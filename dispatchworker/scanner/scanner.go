// Package scanner turns missed check-ins into ranked alerts.
//
// One scan covers one tenant. Every consented person with a known check-in is
// scored against their escalation window: an alert is opened the first time
// they are overdue and refreshed on every later scan until it is closed. A
// newer check-in retracts the alert, as does revoked consent.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/carecoord/welfare-dispatch/dispatch/audit"
	"github.com/carecoord/welfare-dispatch/dispatch/cache"
	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/ledger"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/log"
)

// ErrScanInProgress is returned when the tenant is already being scanned by this process.
var ErrScanInProgress = errors.New("scan already in progress for tenant")

// Result summarizes one tenant scan.
type Result struct {
	TenantID  string `json:"tenantId"`
	Opened    int    `json:"opened"`
	Updated   int    `json:"updated"`
	Retracted int    `json:"retracted"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

func (r *Result) changed() bool {
	return r.Opened+r.Updated+r.Retracted > 0
}

type Scanner struct {
	store  models.Store
	ledger ledger.Reader
	sink   audit.Sink
	cache  cache.FeedCache
	cfg    *Config

	mu       sync.Mutex
	scanning map[string]bool

	now func() time.Time
}

func New(store models.Store, reader ledger.Reader, sink audit.Sink, feedCache cache.FeedCache, cfg *Config) *Scanner {
	return &Scanner{
		store:    store,
		ledger:   reader,
		sink:     sink,
		cache:    feedCache,
		cfg:      cfg,
		scanning: map[string]bool{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scanner) tryLock(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning[tenantID] {
		return false
	}
	s.scanning[tenantID] = true
	return true
}

func (s *Scanner) unlock(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scanning, tenantID)
}

// ScanTenant evaluates every monitored person of the tenant once. A ledger or
// store outage aborts the scan with an UpstreamUnavailable error and leaves
// existing alerts untouched.
func (s *Scanner) ScanTenant(ctx context.Context, tenantID string) (*Result, error) {
	if !s.tryLock(tenantID) {
		return nil, ErrScanInProgress
	}
	defer s.unlock(tenantID)

	if s.cfg.TenantTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TenantTimeout)
		defer cancel()
	}
	ctx, logger := log.SetCtxLogger(ctx, "tenant_id", tenantID)

	profiles, err := s.store.GetCurrentProfilesByTenant(ctx, tenantID)
	if err != nil {
		return nil, upstream("store", pkgerrors.Wrap(err, "failed to load emergency profiles"))
	}
	alerts, err := s.store.GetActiveAlertsByTenant(ctx, tenantID)
	if err != nil {
		return nil, upstream("store", pkgerrors.Wrap(err, "failed to load active alerts"))
	}

	checkIns, err := s.lastCheckIns(ctx, profiles)
	if err != nil {
		return nil, err
	}

	activeByPerson := make(map[string]*models.Alert, len(alerts))
	for _, a := range alerts {
		activeByPerson[a.PersonID] = a
	}

	now := s.now()
	result := &Result{TenantID: tenantID}
	for i, p := range profiles {
		alert := activeByPerson[p.PersonID]
		delete(activeByPerson, p.PersonID)
		if err := s.evaluate(ctx, p, checkIns[i], alert, now, result); err != nil {
			result.Failed++
			logger.WithField("person_id", p.PersonID).Errorf("Failed to evaluate person %s", err.Error())
		}
	}

	// Alerts whose person no longer has a current profile cannot be dispatched.
	for _, a := range activeByPerson {
		if err := s.retract(ctx, a, models.ClosedConsentRevoked, now, result); err != nil {
			result.Failed++
			logger.WithField("person_id", a.PersonID).Errorf("Failed to retract alert %s", err.Error())
		}
	}

	logger.WithFields(logrus.Fields{
		"opened":    result.Opened,
		"updated":   result.Updated,
		"retracted": result.Retracted,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	}).Info("Tenant scan complete")

	if result.changed() {
		if err := s.cache.Invalidate(ctx, tenantID); err != nil {
			logger.Warnf("Failed to invalidate alert feed cache %s", err.Error())
		}
	}
	return result, nil
}

// lastCheckIns reads the ledger for every profile with bounded concurrency.
// The returned slice is indexed like profiles.
func (s *Scanner) lastCheckIns(ctx context.Context, profiles []*models.EmergencyProfile) ([]*time.Time, error) {
	out := make([]*time.Time, len(profiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, p := range profiles {
		if !p.Dispatchable() {
			continue
		}
		i, personID := i, p.PersonID
		g.Go(func() error {
			last, err := s.ledger.LastCheckInAt(gctx, personID)
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to read check-in ledger for %s", personID)
			}
			if last != nil {
				t := last.Truncate(ledger.Precision)
				last = &t
			}
			out[i] = last
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, dispatcherrors.ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, upstream("ledger", err)
	}
	return out, nil
}

func (s *Scanner) evaluate(ctx context.Context, p *models.EmergencyProfile, last *time.Time, alert *models.Alert, now time.Time, result *Result) error {
	if !p.Dispatchable() {
		result.Skipped++
		if alert != nil {
			return s.retract(ctx, alert, models.ClosedConsentRevoked, now, result)
		}
		return nil
	}
	if last == nil {
		result.Skipped++
		return nil
	}

	if alert != nil && last.After(alert.LastCheckInAt.Truncate(ledger.Precision)) {
		if err := s.retract(ctx, alert, models.ClosedCheckedIn, now, result); err != nil {
			return err
		}
		alert = nil
	}

	u := models.Evaluate(p, *last, now)
	if alert != nil {
		return s.update(ctx, alert, u, now, result)
	}
	if u.HoursSinceCheckIn <= s.cfg.MinOverdueHours {
		return nil
	}
	return s.open(ctx, p, *last, u, now, result)
}

func (s *Scanner) open(ctx context.Context, p *models.EmergencyProfile, last time.Time, u models.Urgency, now time.Time, result *Result) error {
	created, err := s.store.CreateAlert(ctx, models.Alert{
		TenantID:             p.TenantID,
		PersonID:             p.PersonID,
		LastCheckInAt:        last,
		HoursSinceCheckIn:    u.HoursSinceCheckIn,
		UrgencyScore:         u.Score,
		PriorityBand:         u.Band,
		ResponsePriority:     p.ResponsePriority,
		EscalationDelayHours: u.DelayHours,
		State:                models.AlertOpen,
		OpenedAt:             now,
		UpdatedAt:            now,
	})
	if errors.Is(err, models.ErrActiveAlertExists) {
		// Opened by a concurrent writer; the next scan refreshes it.
		result.Skipped++
		return nil
	}
	if err != nil {
		return err
	}

	result.Opened++
	s.emit(ctx, audit.Event{
		EventType: audit.EventAlertOpened,
		TenantID:  created.TenantID,
		PersonID:  created.PersonID,
		Timestamp: now,
		Details: map[string]interface{}{
			"alertId":           created.ID,
			"urgencyScore":      u.Score,
			"priorityBand":      u.Band,
			"hoursSinceCheckIn": u.HoursSinceCheckIn,
			"lastCheckInAt":     last,
		},
	})
	return nil
}

func (s *Scanner) update(ctx context.Context, alert *models.Alert, u models.Urgency, now time.Time, result *Result) error {
	err := s.store.UpdateAlertUrgency(ctx, alert.ID, u, now)
	if errors.Is(err, models.ErrAlertNotUpdated) {
		// Closed by a report since the alerts were loaded.
		result.Skipped++
		return nil
	}
	if err != nil {
		return err
	}

	result.Updated++
	if u.Score == alert.UrgencyScore {
		return nil
	}
	s.emit(ctx, audit.Event{
		EventType: audit.EventAlertUpdated,
		TenantID:  alert.TenantID,
		PersonID:  alert.PersonID,
		Timestamp: now,
		Details: map[string]interface{}{
			"alertId":       alert.ID,
			"previousScore": alert.UrgencyScore,
			"urgencyScore":  u.Score,
			"priorityBand":  u.Band,
		},
	})
	return nil
}

func (s *Scanner) retract(ctx context.Context, alert *models.Alert, reason models.ClosedReason, now time.Time, result *Result) error {
	err := s.store.CloseAlert(ctx, alert.ID, reason, now)
	if errors.Is(err, models.ErrAlertNotUpdated) {
		return nil
	}
	if err != nil {
		return err
	}

	result.Retracted++
	s.emit(ctx, audit.Event{
		EventType: audit.EventAlertRetracted,
		TenantID:  alert.TenantID,
		PersonID:  alert.PersonID,
		Timestamp: now,
		Details: map[string]interface{}{
			"alertId":      alert.ID,
			"closedReason": reason,
			"urgencyScore": alert.UrgencyScore,
		},
	})
	return nil
}

func (s *Scanner) emit(ctx context.Context, event audit.Event) {
	if err := s.sink.Emit(ctx, event); err != nil {
		log.GetCtxLogger(ctx).WithField("event_type", event.EventType).Errorf("Failed to emit audit event %s", err.Error())
	}
}

// ScanAll scans every tenant in turn. Tenants that fail are logged and skipped.
func (s *Scanner) ScanAll(ctx context.Context) ([]*Result, error) {
	tenants, err := s.store.GetTenantIDs(ctx)
	if err != nil {
		return nil, upstream("store", pkgerrors.Wrap(err, "failed to list tenants"))
	}

	results := make([]*Result, 0, len(tenants))
	for _, tenantID := range tenants {
		r, err := s.ScanTenant(ctx, tenantID)
		if err != nil {
			log.GetCtxLogger(ctx).WithField("tenant_id", tenantID).Warnf("Skipping tenant scan %s", err.Error())
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func upstream(source string, err error) error {
	return &dispatcherrors.UpstreamError{Err: err, Source: source}
}
