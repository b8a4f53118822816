package main

import (
	"context"

	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"

	"github.com/carecoord/welfare-dispatch/log"
)

type databaseChecker interface {
	IsWorkerDatabaseOK(ctx context.Context) (result string, ok bool)
}

type queueCounter interface {
	QueuedScans(ctx context.Context) (int, error)
}

func NewHealthLogger(db databaseChecker, queue queueCounter) *HealthLogger {
	return &HealthLogger{Logger: log.Health, db: db, queue: queue}
}

type HealthLogger struct {
	Logger logrus.FieldLogger
	db     databaseChecker
	queue  queueCounter
}

func (l *HealthLogger) Log(ctx context.Context) {
	logFields := logrus.Fields{}
	logFields["type"] = "health"
	logFields["id"] = uuid.NewRandom()

	if _, ok := l.db.IsWorkerDatabaseOK(ctx); ok {
		logFields["db"] = "ok"
	} else {
		logFields["db"] = "error"
	}

	if n, err := l.queue.QueuedScans(ctx); err == nil {
		logFields["queued_scans"] = n
	} else {
		logFields["queued_scans"] = "error"
	}

	l.Logger.WithFields(logFields).Info()
}
