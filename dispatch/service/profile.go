package service

import (
	"context"
	goerrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/carecoord/welfare-dispatch/dispatch/audit"
	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/log"
)

const (
	profileConflictRetries = 3
	profileConflictWait    = 20 * time.Millisecond
)

func (s *service) UpsertEmergencyProfile(ctx context.Context, personID string, profile models.EmergencyProfile, actorID string) (*models.EmergencyProfile, error) {
	personID = strings.TrimSpace(personID)
	if profile.PersonID != "" && strings.TrimSpace(profile.PersonID) != personID {
		return nil, dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidProfile, "personId",
			fmt.Sprintf("body personId %s does not match %s", profile.PersonID, personID))
	}
	profile.PersonID = personID

	if err := profile.Normalize(); err != nil {
		return nil, err
	}

	var (
		stored    *models.EmergencyProfile
		retracted *models.Alert
	)
	now := s.now()
	err := s.retryProfileConflict(ctx, func() error {
		return s.store.RunInTx(ctx, func(r models.Repository) error {
			var err error
			retracted = nil
			if stored, err = r.CreateProfileVersion(ctx, profile); err != nil {
				return err
			}
			if stored.Dispatchable() {
				return nil
			}
			retracted, err = retractActiveAlert(ctx, r, stored.PersonID, now)
			return err
		})
	})
	if err != nil {
		return nil, upstream(errors.Wrap(err, "failed to store emergency profile"))
	}

	_, logger := log.SetLoggerFields(ctx, logrus.Fields{
		"person_id": stored.PersonID, "tenant_id": stored.TenantID, "profile_version": stored.Version,
	})
	logger.Info("Stored emergency profile version")

	s.emit(ctx, audit.Event{
		EventType: audit.EventProfileUpserted,
		TenantID:  stored.TenantID,
		PersonID:  stored.PersonID,
		ActorID:   actorID,
		Details: map[string]interface{}{
			"version":          stored.Version,
			"consentObtained":  stored.ConsentObtained,
			"responsePriority": stored.ResponsePriority,
			"delayHours":       stored.EscalationDelayHours,
		},
	})
	if retracted != nil {
		logger.WithField("alert_id", retracted.ID).Info("Retracted active alert after consent was withdrawn")
		s.emit(ctx, audit.Event{
			EventType: audit.EventAlertRetracted,
			TenantID:  retracted.TenantID,
			PersonID:  retracted.PersonID,
			ActorID:   actorID,
			Timestamp: now,
			Details: map[string]interface{}{
				"alertId":      retracted.ID,
				"closedReason": models.ClosedConsentRevoked,
				"urgencyScore": retracted.UrgencyScore,
			},
		})
	}
	// Consent and tier changes alter what the feed shows.
	s.invalidate(ctx, stored.TenantID)

	if !stored.ConsentObtained {
		logger.Warn("Emergency profile stored without consent, person is excluded from dispatch")
		return stored, dispatcherrors.NewValidationError(dispatcherrors.ErrProfileConsentMissing, "consentObtained",
			"consent must be obtained before this person can be dispatched to")
	}
	return stored, nil
}

// retryProfileConflict reruns fn while a concurrent upsert for the same person
// wins the version race. Other errors are returned immediately.
func (s *service) retryProfileConflict(ctx context.Context, fn func() error) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(profileConflictWait), profileConflictRetries)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil || goerrors.Is(err, models.ErrProfileVersionConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

// retractActiveAlert closes the person's Open or Dispatched alert, returning
// it, or nil when there was nothing to close.
func retractActiveAlert(ctx context.Context, r models.Repository, personID string, now time.Time) (*models.Alert, error) {
	alert, err := r.GetActiveAlert(ctx, personID)
	if err != nil || alert == nil {
		return nil, err
	}
	err = r.CloseAlert(ctx, alert.ID, models.ClosedConsentRevoked, now)
	if goerrors.Is(err, models.ErrAlertNotUpdated) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// requireConsent returns a ProfileConsentMissing error unless the person's
// current profile allows dispatch.
func (s *service) requireConsent(ctx context.Context, personID string) error {
	profile, err := s.store.GetCurrentProfile(ctx, personID)
	if err != nil && !goerrors.Is(err, dispatcherrors.ErrNotFound) {
		return upstream(errors.Wrap(err, "failed to load emergency profile"))
	}
	if !profile.Dispatchable() {
		return dispatcherrors.NewValidationError(dispatcherrors.ErrProfileConsentMissing, "consentObtained",
			fmt.Sprintf("person %s has no consented emergency profile", personID))
	}
	return nil
}

func (s *service) GetEmergencyProfile(ctx context.Context, personID string) (*models.EmergencyProfile, error) {
	return s.store.GetCurrentProfile(ctx, personID)
}

func (s *service) GetEmergencyProfileView(ctx context.Context, personID string, access models.ProfileAccess) (*models.EmergencyProfile, error) {
	switch access {
	case models.AccessPrivileged, models.AccessFamily:
	default:
		return nil, dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidRequest, "view",
			fmt.Sprintf("unknown profile view %q", access))
	}

	profile, err := s.store.GetCurrentProfile(ctx, personID)
	if err != nil {
		return nil, err
	}
	if access == models.AccessFamily {
		view := profile.FamilyView()
		return &view, nil
	}
	return profile, nil
}

func (s *service) GetProfileHistory(ctx context.Context, personID string) ([]*models.EmergencyProfile, error) {
	history, err := s.store.GetProfileHistory(ctx, personID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, dispatcherrors.NewNotFound("emergency profile", personID)
	}
	return history, nil
}
