package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/huandu/go-sqlbuilder"

	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
)

var alertColumns = []string{
	"id", "tenant_id", "person_id", "last_check_in_at", "hours_since_check_in", "urgency_score",
	"priority_band", "response_priority", "escalation_delay_hours", "state", "opened_at", "updated_at",
	"dispatched_at", "dispatched_by", "dispatched_by_name", "check_initiated_at", "closed_at", "closed_reason",
}

var activeStates = []interface{}{string(models.AlertOpen), string(models.AlertDispatched)}

func (r *Repository) GetAlertByID(ctx context.Context, alertID uint) (*models.Alert, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(alertColumns...).From("alerts")
	sb.Where(sb.Equal("id", alertID))

	query, args := sb.Build()
	alert, err := scanAlert(r.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dispatcherrors.NewNotFound("alert", strconv.FormatUint(uint64(alertID), 10))
		}
		return nil, err
	}
	return alert, nil
}

func (r *Repository) GetActiveAlert(ctx context.Context, personID string) (*models.Alert, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(alertColumns...).From("alerts")
	sb.Where(sb.Equal("person_id", personID), sb.In("state", activeStates...))

	query, args := sb.Build()
	alert, err := scanAlert(r.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return alert, nil
}

func (r *Repository) GetActiveAlertsByTenant(ctx context.Context, tenantID string) ([]*models.Alert, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(alertColumns...).From("alerts")
	sb.Where(sb.Equal("tenant_id", tenantID), sb.In("state", activeStates...))
	sb.OrderBy("urgency_score DESC", "last_check_in_at ASC", "person_id ASC")

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return alerts, nil
}

func (r *Repository) CreateAlert(ctx context.Context, alert models.Alert) (*models.Alert, error) {
	query, args := sqlbuilder.Buildf(`INSERT INTO alerts
		(tenant_id, person_id, last_check_in_at, hours_since_check_in, urgency_score,
			priority_band, response_priority, escalation_delay_hours, state, opened_at, updated_at) VALUES
		(%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s) RETURNING id`,
		alert.TenantID, alert.PersonID, alert.LastCheckInAt, alert.HoursSinceCheckIn, alert.UrgencyScore,
		string(alert.PriorityBand), string(alert.ResponsePriority), alert.EscalationDelayHours, string(models.AlertOpen),
		alert.OpenedAt, alert.UpdatedAt).
		BuildWithFlavor(sqlFlavor)

	if err := r.QueryRowContext(ctx, query, args...).Scan(&alert.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("person %s: %w", alert.PersonID, models.ErrActiveAlertExists)
		}
		return nil, err
	}
	alert.State = models.AlertOpen

	return &alert, nil
}

func (r *Repository) UpdateAlertUrgency(ctx context.Context, alertID uint, urgency models.Urgency, updatedAt time.Time) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("alerts")
	ub.Set(
		ub.Assign("hours_since_check_in", urgency.HoursSinceCheckIn),
		ub.Assign("urgency_score", urgency.Score),
		ub.Assign("priority_band", string(urgency.Band)),
		ub.Assign("escalation_delay_hours", urgency.DelayHours),
		ub.Assign("updated_at", updatedAt),
	)
	ub.Where(ub.Equal("id", alertID), ub.In("state", activeStates...))

	return r.updateAlert(ctx, ub)
}

func (r *Repository) DispatchAlert(ctx context.Context, alertID uint, officerID, officerName string, initiatedAt, dispatchedAt time.Time) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("alerts")
	ub.Set(
		ub.Assign("state", string(models.AlertDispatched)),
		ub.Assign("dispatched_at", dispatchedAt),
		ub.Assign("dispatched_by", officerID),
		ub.Assign("dispatched_by_name", officerName),
		ub.Assign("check_initiated_at", initiatedAt),
		ub.Assign("updated_at", dispatchedAt),
	)
	ub.Where(ub.Equal("id", alertID), ub.Equal("state", string(models.AlertOpen)))

	return r.updateAlert(ctx, ub)
}

func (r *Repository) CloseAlert(ctx context.Context, alertID uint, reason models.ClosedReason, closedAt time.Time) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("alerts")
	ub.Set(
		ub.Assign("state", string(models.AlertClosed)),
		ub.Assign("closed_at", closedAt),
		ub.Assign("closed_reason", string(reason)),
		ub.Assign("updated_at", closedAt),
	)
	ub.Where(ub.Equal("id", alertID), ub.In("state", activeStates...))

	return r.updateAlert(ctx, ub)
}

func (r *Repository) updateAlert(ctx context.Context, ub *sqlbuilder.UpdateBuilder) error {
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
		return models.ErrAlertNotUpdated
	}

	return nil
}

func scanAlert(row scanner) (*models.Alert, error) {
	var (
		a                                   models.Alert
		dispatchedAt, initiatedAt, closedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.PersonID, &a.LastCheckInAt, &a.HoursSinceCheckIn, &a.UrgencyScore,
		&a.PriorityBand, &a.ResponsePriority, &a.EscalationDelayHours, &a.State, &a.OpenedAt, &a.UpdatedAt,
		&dispatchedAt, &a.DispatchedBy, &a.DispatchedByName, &initiatedAt, &closedAt, &a.ClosedReason); err != nil {
		return nil, err
	}
	a.DispatchedAt = nullTime(dispatchedAt)
	a.CheckInitiatedAt = nullTime(initiatedAt)
	a.ClosedAt = nullTime(closedAt)

	return &a, nil
}
