// Package audit delivers structured state-transition events to one or more sinks.
package audit

import (
	"context"
	"errors"
	"time"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

const (
	EventAlertOpened           = "alert.opened"
	EventAlertUpdated          = "alert.updated"
	EventAlertRetracted        = "alert.retracted"
	EventAlertDispatched       = "alert.dispatched"
	EventAlertClosed           = "alert.closed"
	EventReportSubmitted       = "report.submitted"
	EventReportFollowupUpdated = "report.followup_updated"
	EventProfileUpserted       = "profile.upserted"
	EventEmergencyNotification = "notification.emergency"
	EventSubmissionEscalated   = "notification.submission_failed"
)

// Event is one audit record.
type Event struct {
	EventType string                 `json:"eventType"`
	TenantID  string                 `json:"tenantId"`
	PersonID  string                 `json:"personId"`
	ActorID   string                 `json:"actorId"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Priority  Priority               `json:"priority"`
}

type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// MultiSink fans an event out to every sink. Every sink is attempted; the
// failures are joined.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func normalize(event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Priority == "" {
		event.Priority = PriorityNormal
	}
	return event
}
