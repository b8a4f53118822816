package service

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
)

func (s *service) GetOpenAlerts(ctx context.Context, tenantID string) ([]*models.FeedEntry, error) {
	if tenantID == "" {
		return nil, dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidRequest, "tenantId", "tenantId is required")
	}
	return s.cache.GetFeed(ctx, tenantID, func(ctx context.Context) ([]*models.FeedEntry, error) {
		return s.loadFeed(ctx, tenantID)
	})
}

func (s *service) loadFeed(ctx context.Context, tenantID string) ([]*models.FeedEntry, error) {
	alerts, err := s.store.GetActiveAlertsByTenant(ctx, tenantID)
	if err != nil {
		return nil, upstream(errors.Wrap(err, "failed to load active alerts"))
	}
	profiles, err := s.store.GetCurrentProfilesByTenant(ctx, tenantID)
	if err != nil {
		return nil, upstream(errors.Wrap(err, "failed to load emergency profiles"))
	}
	people, err := s.store.GetMonitoredPeople(ctx, tenantID)
	if err != nil {
		return nil, upstream(errors.Wrap(err, "failed to load monitored people"))
	}

	profileByPerson := make(map[string]*models.EmergencyProfile, len(profiles))
	for _, p := range profiles {
		profileByPerson[p.PersonID] = p
	}
	personByID := make(map[string]*models.MonitoredPerson, len(people))
	for _, p := range people {
		personByID[p.PersonID] = p
	}

	feed := make([]*models.FeedEntry, 0, len(alerts))
	for _, a := range alerts {
		if a.TenantID != tenantID {
			continue
		}
		profile := profileByPerson[a.PersonID]
		// Consent may have been revoked since the last scan.
		if !profile.Dispatchable() {
			continue
		}

		entry := &models.FeedEntry{
			AlertID:           a.ID,
			PersonID:          a.PersonID,
			UrgencyScore:      a.UrgencyScore,
			PriorityBand:      a.PriorityBand,
			ResponsePriority:  profile.ResponsePriority,
			HoursSinceCheckIn: a.HoursSinceCheckIn,
			LastCheckInAt:     a.LastCheckInAt,
			State:             a.State,
			SpecialNeeds:      profile.SpecialNeeds(),
		}
		if person, ok := personByID[a.PersonID]; ok {
			entry.PersonName = person.FullName
			entry.Address = person.Address
			entry.EmergencyContact = person.EmergencyContact
		}
		feed = append(feed, entry)
	}

	SortFeed(feed)
	return feed, nil
}

// SortFeed orders entries by urgency score, highest first. Ties go to the
// earliest last check-in, then to person id.
func SortFeed(feed []*models.FeedEntry) {
	sort.Slice(feed, func(i, j int) bool {
		a, b := feed[i], feed[j]
		if a.UrgencyScore != b.UrgencyScore {
			return a.UrgencyScore > b.UrgencyScore
		}
		if !a.LastCheckInAt.Equal(b.LastCheckInAt) {
			return a.LastCheckInAt.Before(b.LastCheckInAt)
		}
		return a.PersonID < b.PersonID
	})
}

func upstream(err error) error {
	return &dispatcherrors.UpstreamError{Err: err, Source: "store"}
}
