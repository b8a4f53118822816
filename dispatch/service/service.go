package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/carecoord/welfare-dispatch/dispatch/audit"
	"github.com/carecoord/welfare-dispatch/dispatch/cache"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/dispatch/slackmessenger"
	"github.com/carecoord/welfare-dispatch/log"
)

// Ensure service satisfies the interface
var _ Service = &service{}

// Service contains the operations the dispatch console and responders call.
type Service interface {
	ProfileStore
	AlertFeed
	ReportManager
}

type ProfileStore interface {
	// UpsertEmergencyProfile stores profile as the person's next version. A
	// profile without consent is stored but returned with a ProfileConsentMissing error.
	UpsertEmergencyProfile(ctx context.Context, personID string, profile models.EmergencyProfile, actorID string) (*models.EmergencyProfile, error)

	GetEmergencyProfile(ctx context.Context, personID string) (*models.EmergencyProfile, error)

	GetEmergencyProfileView(ctx context.Context, personID string, access models.ProfileAccess) (*models.EmergencyProfile, error)

	GetProfileHistory(ctx context.Context, personID string) ([]*models.EmergencyProfile, error)
}

type AlertFeed interface {
	// GetOpenAlerts returns the tenant's active alerts, most urgent first.
	GetOpenAlerts(ctx context.Context, tenantID string) ([]*models.FeedEntry, error)
}

type ReportManager interface {
	OpenReport(ctx context.Context, alertID uint, officerID, officerName string) (*models.Alert, error)

	SubmitWelfareCheckReport(ctx context.Context, submission models.ReportSubmission) (*models.WelfareCheckReport, error)

	UpdateFollowup(ctx context.Context, reportID string, followup models.Followup, actorID string) (*models.WelfareCheckReport, error)

	GetReportHistory(ctx context.Context, personID string, limit int) ([]*models.WelfareCheckReport, error)
}

func NewService(store models.Store, sink audit.Sink, notifier slackmessenger.Notifier, feedCache cache.FeedCache, cfg *Config) Service {
	return &service{
		store:    store,
		sink:     sink,
		notifier: notifier,
		cache:    feedCache,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type service struct {
	store    models.Store
	sink     audit.Sink
	notifier slackmessenger.Notifier
	cache    cache.FeedCache
	cfg      *Config

	now func() time.Time
}

// emit records an audit event. The state change it describes has already
// happened, so a sink failure is logged rather than returned.
func (s *service) emit(ctx context.Context, event audit.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.sink.Emit(ctx, event); err != nil {
		log.GetCtxLogger(ctx).WithFields(logrus.Fields{
			"event_type": event.EventType,
			"person_id":  event.PersonID,
		}).Errorf("Failed to emit audit event %s", err.Error())
	}
}

func (s *service) page(ctx context.Context, page slackmessenger.Page) {
	if err := s.notifier.Page(ctx, page); err != nil {
		log.GetCtxLogger(ctx).WithField("page_title", page.Title).Errorf("Failed to page on-call staff %s", err.Error())
	}
}

func (s *service) invalidate(ctx context.Context, tenantID string) {
	if err := s.cache.Invalidate(ctx, tenantID); err != nil {
		log.GetCtxLogger(ctx).WithField("tenant_id", tenantID).Warnf("Failed to invalidate alert feed cache %s", err.Error())
	}
}
