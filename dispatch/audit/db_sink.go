package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"
)

type executable interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DBSink appends events to the audit_events table.
type DBSink struct {
	db executable
}

func NewDBSink(db *sql.DB) *DBSink {
	return &DBSink{db: db}
}

func (s *DBSink) Emit(ctx context.Context, event Event) error {
	event = normalize(event)
	details, err := json.Marshal(event.Details)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit details")
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder().InsertInto("audit_events")
	ib.Cols("event_type", "tenant_id", "person_id", "actor_id", "priority", "details", "occurred_at").
		Values(event.EventType, event.TenantID, event.PersonID, event.ActorID, string(event.Priority), details, event.Timestamp)

	query, args := ib.Build()
	if _, err = s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "failed to store audit event %s", event.EventType)
	}
	return nil
}
