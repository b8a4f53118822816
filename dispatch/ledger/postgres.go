package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/huandu/go-sqlbuilder"

	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
)

// DBReader reads check-ins from the check_ins table.
type DBReader struct {
	db *sql.DB
}

func NewDBReader(db *sql.DB) *DBReader {
	return &DBReader{db: db}
}

func (r *DBReader) LastCheckInAt(ctx context.Context, personID string) (*time.Time, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder().Select("MAX(checked_in_at)").From("check_ins")
	sb.Where(sb.Equal("person_id", personID))

	query, args := sb.Build()
	var last sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
		return nil, &dispatcherrors.UpstreamError{Err: err, Source: "ledger"}
	}
	if !last.Valid {
		return nil, nil
	}

	t := last.Time.UTC().Truncate(Precision)
	return &t, nil
}
