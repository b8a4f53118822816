package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
)

var reportColumns = []string{
	"id", "alert_id", "tenant_id", "person_id", "officer_id", "officer_name",
	"check_initiated_at", "check_completed_at", "outcome", "outcome_notes", "ems_called", "family_notified",
	"actions_taken", "transported_to", "transport_reason", "followup_required", "followup_date", "followup_notes",
	"response_time_minutes", "severity", "created_at", "updated_at",
}

func (r *Repository) CreateReport(ctx context.Context, report models.WelfareCheckReport) error {
	query, args := sqlbuilder.Buildf(`INSERT INTO welfare_check_reports
		(id, alert_id, tenant_id, person_id, officer_id, officer_name,
			check_initiated_at, check_completed_at, outcome, outcome_notes, ems_called, family_notified,
			actions_taken, transported_to, transport_reason, followup_required, followup_date, followup_notes,
			response_time_minutes, severity, created_at, updated_at) VALUES
		(%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		report.ID, report.AlertID, report.TenantID, report.PersonID, report.OfficerID, report.OfficerName,
		report.CheckInitiatedAt, report.CheckCompletedAt, string(report.Outcome), report.OutcomeNotes, report.EMSCalled, report.FamilyNotified,
		pq.Array(report.ActionsTaken), report.TransportedTo, report.TransportReason, report.FollowupRequired, report.FollowupDate, report.FollowupNotes,
		report.ResponseTimeMinutes, string(report.Severity), report.CreatedAt, report.UpdatedAt).
		BuildWithFlavor(sqlFlavor)

	if _, err := r.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("report for alert %d: %w", report.AlertID, dispatcherrors.ErrAlreadyResolved)
		}
		return err
	}
	return nil
}

func (r *Repository) GetReportByID(ctx context.Context, reportID string) (*models.WelfareCheckReport, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(reportColumns...).From("welfare_check_reports")
	sb.Where(sb.Equal("id", reportID))

	query, args := sb.Build()
	report, err := scanReport(r.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dispatcherrors.NewNotFound("welfare check report", reportID)
		}
		return nil, err
	}
	return report, nil
}

func (r *Repository) GetReportByAlertID(ctx context.Context, alertID uint) (*models.WelfareCheckReport, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(reportColumns...).From("welfare_check_reports")
	sb.Where(sb.Equal("alert_id", alertID))

	query, args := sb.Build()
	report, err := scanReport(r.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dispatcherrors.NewNotFound("welfare check report for alert", strconv.FormatUint(uint64(alertID), 10))
		}
		return nil, err
	}
	return report, nil
}

func (r *Repository) GetReportsByPerson(ctx context.Context, personID string, limit int) ([]*models.WelfareCheckReport, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(reportColumns...).From("welfare_check_reports")
	sb.Where(sb.Equal("person_id", personID))
	sb.OrderBy("check_completed_at DESC", "created_at DESC").Limit(limit)

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*models.WelfareCheckReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return reports, nil
}

func (r *Repository) UpdateReportFollowup(ctx context.Context, reportID string, followup models.Followup, updatedAt time.Time) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("welfare_check_reports")
	ub.Set(
		ub.Assign("followup_required", followup.FollowupRequired),
		ub.Assign("followup_date", followup.FollowupDate),
		ub.Assign("followup_notes", followup.FollowupNotes),
		ub.Assign("updated_at", updatedAt),
	)
	ub.Where(ub.Equal("id", reportID))

	query, args := ub.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return dispatcherrors.NewNotFound("welfare check report", reportID)
	}

	return nil
}

func scanReport(row scanner) (*models.WelfareCheckReport, error) {
	var (
		rep          models.WelfareCheckReport
		followupDate sql.NullTime
	)
	if err := row.Scan(&rep.ID, &rep.AlertID, &rep.TenantID, &rep.PersonID, &rep.OfficerID, &rep.OfficerName,
		&rep.CheckInitiatedAt, &rep.CheckCompletedAt, &rep.Outcome, &rep.OutcomeNotes, &rep.EMSCalled, &rep.FamilyNotified,
		pq.Array(&rep.ActionsTaken), &rep.TransportedTo, &rep.TransportReason, &rep.FollowupRequired, &followupDate, &rep.FollowupNotes,
		&rep.ResponseTimeMinutes, &rep.Severity, &rep.CreatedAt, &rep.UpdatedAt); err != nil {
		return nil, err
	}
	rep.FollowupDate = nullTime(followupDate)

	return &rep, nil
}
