package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSink writes events to a logrus logger. High-priority events log at warn level.
type LogSink struct {
	Logger logrus.FieldLogger
}

func (s LogSink) Emit(_ context.Context, event Event) error {
	event = normalize(event)
	entry := s.Logger.WithFields(logrus.Fields{
		"audit_event": event.EventType,
		"tenant_id":   event.TenantID,
		"person_id":   event.PersonID,
		"actor_id":    event.ActorID,
		"priority":    event.Priority,
		"occurred_at": event.Timestamp,
		"details":     event.Details,
	})
	if event.Priority == PriorityHigh {
		entry.Warn("audit event")
		return nil
	}
	entry.Info("audit event")
	return nil
}
