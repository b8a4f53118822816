package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/carecoord/welfare-dispatch/log"
)

const pingTimeout = 5 * time.Second

type HealthChecker struct {
	db *sql.DB
}

func NewHealthChecker(db *sql.DB) HealthChecker {
	return HealthChecker{db: db}
}

func (h HealthChecker) IsDatabaseOK(ctx context.Context) (result string, ok bool) {
	if err := h.ping(ctx); err != nil {
		log.API.Error("Health check: database ping error: ", err.Error())
		return "database ping error", false
	}

	return "ok", true
}

func (h HealthChecker) IsWorkerDatabaseOK(ctx context.Context) (result string, ok bool) {
	if err := h.ping(ctx); err != nil {
		log.Worker.Error("Health check: database ping error: ", err.Error())
		return "database ping error", false
	}

	return "ok", true
}

func (h HealthChecker) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return h.db.PingContext(ctx)
}
