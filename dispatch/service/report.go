package service

import (
	"context"
	goerrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/carecoord/welfare-dispatch/dispatch/audit"
	"github.com/carecoord/welfare-dispatch/dispatch/constants"
	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/dispatch/slackmessenger"
	"github.com/carecoord/welfare-dispatch/log"
)

func (s *service) OpenReport(ctx context.Context, alertID uint, officerID, officerName string) (*models.Alert, error) {
	officerID = strings.TrimSpace(officerID)
	if officerID == "" {
		return nil, dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidRequest, "officerId", "officerId is required")
	}

	alert, err := s.store.GetAlertByID(ctx, alertID)
	if err != nil {
		return nil, err
	}

	ctx, logger := log.SetLoggerFields(ctx, logrus.Fields{
		"alert_id": alertID, "person_id": alert.PersonID, "tenant_id": alert.TenantID, "officer_id": officerID,
	})

	if alert.State == models.AlertClosed {
		return nil, errors.Wrapf(dispatcherrors.ErrAlreadyResolved, "alert %d is closed", alertID)
	}
	if err = s.requireConsent(ctx, alert.PersonID); err != nil {
		logger.Warn("Refusing to dispatch without a consented emergency profile")
		return nil, err
	}
	if alert.State == models.AlertDispatched {
		logger.Info("Alert already dispatched")
		return alert, nil
	}

	now := s.now()
	err = s.store.DispatchAlert(ctx, alertID, officerID, strings.TrimSpace(officerName), alert.LastCheckInAt, now)
	if goerrors.Is(err, models.ErrAlertNotUpdated) {
		// Lost a race with another dispatcher or with the alert closing.
		if alert, err = s.store.GetAlertByID(ctx, alertID); err != nil {
			return nil, err
		}
		if alert.State == models.AlertDispatched {
			return alert, nil
		}
		return nil, errors.Wrapf(dispatcherrors.ErrAlreadyResolved, "alert %d is closed", alertID)
	}
	if err != nil {
		return nil, upstream(errors.Wrap(err, "failed to dispatch alert"))
	}

	logger.Info("Alert dispatched")
	s.emit(ctx, audit.Event{
		EventType: audit.EventAlertDispatched,
		TenantID:  alert.TenantID,
		PersonID:  alert.PersonID,
		ActorID:   officerID,
		Timestamp: now,
		Details: map[string]interface{}{
			"alertId":          alertID,
			"officerName":      officerName,
			"checkInitiatedAt": alert.LastCheckInAt,
			"urgencyScore":     alert.UrgencyScore,
		},
	})
	s.invalidate(ctx, alert.TenantID)

	return s.store.GetAlertByID(ctx, alertID)
}

func (s *service) SubmitWelfareCheckReport(ctx context.Context, sub models.ReportSubmission) (*models.WelfareCheckReport, error) {
	outcome := models.Outcome(strings.TrimSpace(sub.Outcome))
	if !outcome.Valid() {
		return nil, dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidOutcome, "outcome",
			fmt.Sprintf("unknown outcome %q", sub.Outcome))
	}

	notes := strings.TrimSpace(sub.OutcomeNotes)
	if outcome.IsEmergency() && notes == "" {
		return nil, dispatcherrors.NewValidationError(dispatcherrors.ErrMissingRequiredNotes, "outcomeNotes",
			"outcome notes are required for emergency outcomes")
	}

	completed, err := time.Parse(time.RFC3339, strings.TrimSpace(sub.CheckCompletedAt))
	if err != nil {
		return nil, dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidTiming, "checkCompletedAt",
			"checkCompletedAt must be an RFC3339 timestamp")
	}
	completed = completed.UTC()

	officerID := strings.TrimSpace(sub.OfficerID)
	if officerID == "" {
		return nil, dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidRequest, "officerId", "officerId is required")
	}

	alert, err := s.store.GetAlertByID(ctx, sub.AlertID)
	if err != nil {
		return nil, err
	}
	initiated := alert.InitiatedAt()
	if completed.Before(initiated) {
		return nil, dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidTiming, "checkCompletedAt",
			fmt.Sprintf("checkCompletedAt precedes check initiation at %s", initiated.Format(time.RFC3339)))
	}
	if !alert.Active() {
		return nil, errors.Wrapf(dispatcherrors.ErrAlreadyResolved, "alert %d is closed", alert.ID)
	}

	now := s.now()
	report := models.WelfareCheckReport{
		ID:                  uuid.NewRandom().String(),
		AlertID:             alert.ID,
		TenantID:            alert.TenantID,
		PersonID:            alert.PersonID,
		OfficerID:           officerID,
		OfficerName:         strings.TrimSpace(sub.OfficerName),
		CheckInitiatedAt:    initiated,
		CheckCompletedAt:    completed,
		Outcome:             outcome,
		OutcomeNotes:        notes,
		EMSCalled:           sub.EMSCalled,
		FamilyNotified:      sub.FamilyNotified,
		ActionsTaken:        models.NormalizeActions(sub.ActionsTaken),
		ResponseTimeMinutes: models.ResponseMinutes(initiated, completed),
		Severity:            outcome.Severity(),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if outcome.IsEmergency() {
		report.TransportedTo = strings.TrimSpace(sub.TransportedTo)
		report.TransportReason = strings.TrimSpace(sub.TransportReason)
	}
	report.ApplyFollowup(sub.Followup)

	ctx, logger := log.SetLoggerFields(ctx, logrus.Fields{
		"alert_id": alert.ID, "report_id": report.ID, "person_id": alert.PersonID,
		"tenant_id": alert.TenantID, "officer_id": officerID, "outcome": outcome,
	})

	emergency := outcome.IsEmergency() || report.EMSCalled
	if emergency {
		err = s.persistWithRetry(ctx, report)
	} else {
		err = s.persistReport(ctx, report)
	}
	if err != nil {
		if goerrors.Is(err, dispatcherrors.ErrAlreadyResolved) || goerrors.Is(err, dispatcherrors.ErrNotFound) {
			return nil, err
		}
		logger.Errorf("Failed to store welfare check report %s", err.Error())
		if emergency {
			s.escalateSubmissionFailure(ctx, report, err)
		}
		return nil, upstream(errors.Wrap(err, "failed to store welfare check report"))
	}

	logger.WithField("response_time_minutes", report.ResponseTimeMinutes).Info("Welfare check report submitted")
	s.emitSubmission(ctx, alert, report, emergency)
	s.invalidate(ctx, alert.TenantID)

	return &report, nil
}

// persistReport closes the alert and stores the report in one transaction.
// Exactly one submission per alert can succeed.
func (s *service) persistReport(ctx context.Context, report models.WelfareCheckReport) error {
	return s.store.RunInTx(ctx, func(r models.Repository) error {
		err := r.CloseAlert(ctx, report.AlertID, models.ClosedReportFiled, report.CreatedAt)
		if goerrors.Is(err, models.ErrAlertNotUpdated) {
			if _, err = r.GetAlertByID(ctx, report.AlertID); err != nil {
				return err
			}
			return errors.Wrapf(dispatcherrors.ErrAlreadyResolved, "alert %d is closed", report.AlertID)
		}
		if err != nil {
			return err
		}
		return r.CreateReport(ctx, report)
	})
}

// persistWithRetry retries transient store failures. Conflicts are final.
func (s *service) persistWithRetry(ctx context.Context, report models.WelfareCheckReport) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.EmergencyRetryInitial
	b.MaxElapsedTime = s.cfg.EmergencyRetryMaxElapsed

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.persistReport(ctx, report)
		switch {
		case err == nil:
			return nil
		case goerrors.Is(err, dispatcherrors.ErrAlreadyResolved), goerrors.Is(err, dispatcherrors.ErrNotFound):
			return backoff.Permanent(err)
		}
		log.GetCtxLogger(ctx).WithField("attempt", attempt).Warnf("Retrying emergency report submission %s", err.Error())
		return err
	}, backoff.WithContext(b, ctx))
}

func (s *service) escalateSubmissionFailure(ctx context.Context, report models.WelfareCheckReport, cause error) {
	s.emit(ctx, audit.Event{
		EventType: audit.EventSubmissionEscalated,
		TenantID:  report.TenantID,
		PersonID:  report.PersonID,
		ActorID:   report.OfficerID,
		Priority:  audit.PriorityHigh,
		Details: map[string]interface{}{
			"alertId":  report.AlertID,
			"reportId": report.ID,
			"outcome":  report.Outcome,
			"error":    cause.Error(),
		},
	})
	s.page(ctx, slackmessenger.Page{
		Title: "Emergency welfare check report could not be saved",
		Text: fmt.Sprintf("Officer %s filed %s for person %s but the report was not stored. Follow up by phone.",
			report.OfficerName, report.Outcome, report.PersonID),
		Color:  slackmessenger.Danger,
		Fields: pageFields(report),
	})
}

func (s *service) emitSubmission(ctx context.Context, alert *models.Alert, report models.WelfareCheckReport, emergency bool) {
	s.emit(ctx, audit.Event{
		EventType: audit.EventReportSubmitted,
		TenantID:  report.TenantID,
		PersonID:  report.PersonID,
		ActorID:   report.OfficerID,
		Timestamp: report.CreatedAt,
		Details: map[string]interface{}{
			"alertId":             report.AlertID,
			"reportId":            report.ID,
			"outcome":             report.Outcome,
			"severity":            report.Severity,
			"emsCalled":           report.EMSCalled,
			"familyNotified":      report.FamilyNotified,
			"responseTimeMinutes": report.ResponseTimeMinutes,
			"followup":            report.FollowupDisplay(),
		},
	})
	s.emit(ctx, audit.Event{
		EventType: audit.EventAlertClosed,
		TenantID:  alert.TenantID,
		PersonID:  alert.PersonID,
		ActorID:   report.OfficerID,
		Timestamp: report.CreatedAt,
		Details: map[string]interface{}{
			"alertId":      alert.ID,
			"closedReason": models.ClosedReportFiled,
		},
	})

	if !emergency {
		return
	}
	s.emit(ctx, audit.Event{
		EventType: audit.EventEmergencyNotification,
		TenantID:  report.TenantID,
		PersonID:  report.PersonID,
		ActorID:   report.OfficerID,
		Timestamp: report.CreatedAt,
		Priority:  audit.PriorityHigh,
		Details: map[string]interface{}{
			"alertId":         report.AlertID,
			"reportId":        report.ID,
			"outcome":         report.Outcome,
			"emsCalled":       report.EMSCalled,
			"transportedTo":   report.TransportedTo,
			"transportReason": report.TransportReason,
		},
	})
	s.page(ctx, slackmessenger.Page{
		Title:  fmt.Sprintf("Welfare check emergency: %s", report.Outcome),
		Text:   report.OutcomeNotes,
		Color:  slackmessenger.Danger,
		Fields: pageFields(report),
	})
}

func pageFields(report models.WelfareCheckReport) map[string]string {
	fields := map[string]string{
		"tenant":   report.TenantID,
		"person":   report.PersonID,
		"alert":    strconv.FormatUint(uint64(report.AlertID), 10),
		"officer":  report.OfficerName,
		"ems":      strconv.FormatBool(report.EMSCalled),
		"response": models.FormatResponseTime(report.ResponseTimeMinutes),
	}
	if report.TransportedTo != "" {
		fields["transported_to"] = report.TransportedTo
	}
	return fields
}

func (s *service) UpdateFollowup(ctx context.Context, reportID string, followup models.Followup, actorID string) (*models.WelfareCheckReport, error) {
	followup = followup.Normalized()
	now := s.now()
	if err := s.store.UpdateReportFollowup(ctx, reportID, followup, now); err != nil {
		return nil, err
	}

	report, err := s.store.GetReportByID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		EventType: audit.EventReportFollowupUpdated,
		TenantID:  report.TenantID,
		PersonID:  report.PersonID,
		ActorID:   actorID,
		Timestamp: now,
		Details: map[string]interface{}{
			"reportId":         report.ID,
			"followupRequired": report.FollowupRequired,
			"followup":         report.FollowupDisplay(),
		},
	})
	return report, nil
}

func (s *service) GetReportHistory(ctx context.Context, personID string, limit int) ([]*models.WelfareCheckReport, error) {
	switch {
	case limit <= 0:
		limit = constants.DefaultReportHistoryLimit
	case limit > constants.MaxReportHistoryLimit:
		limit = constants.MaxReportHistoryLimit
	}
	return s.store.GetReportsByPerson(ctx, personID, limit)
}
