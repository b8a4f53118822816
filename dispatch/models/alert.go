package models

import (
	"math"
	"time"
)

// Alert is the live record of an overdue person awaiting response.
type Alert struct {
	ID       uint   `json:"id"`
	TenantID string `json:"tenantId"`
	PersonID string `json:"personId"`

	LastCheckInAt        time.Time        `json:"lastCheckInAt"`
	HoursSinceCheckIn    float64          `json:"hoursSinceCheckIn"`
	UrgencyScore         int              `json:"urgencyScore"`
	PriorityBand         PriorityBand     `json:"priorityBand"`
	ResponsePriority     ResponsePriority `json:"responsePriority"`
	EscalationDelayHours float64          `json:"escalationDelayHours"`

	State     AlertState `json:"state"`
	OpenedAt  time.Time  `json:"openedAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	DispatchedAt     *time.Time `json:"dispatchedAt,omitempty"`
	DispatchedBy     string     `json:"dispatchedBy,omitempty"`
	DispatchedByName string     `json:"dispatchedByName,omitempty"`
	CheckInitiatedAt *time.Time `json:"checkInitiatedAt,omitempty"`

	ClosedAt     *time.Time   `json:"closedAt,omitempty"`
	ClosedReason ClosedReason `json:"closedReason,omitempty"`
}

func (a *Alert) Active() bool {
	return a.State == AlertOpen || a.State == AlertDispatched
}

// InitiatedAt is the moment the welfare check is considered to have started:
// the fixed dispatch value if the alert was dispatched, otherwise the last check-in.
func (a *Alert) InitiatedAt() time.Time {
	if a.CheckInitiatedAt != nil {
		return *a.CheckInitiatedAt
	}
	return a.LastCheckInAt
}

// Urgency is one evaluation of a person against their escalation window.
type Urgency struct {
	HoursSinceCheckIn float64
	DelayHours        float64
	Score             int
	Band              PriorityBand
}

// HoursSince returns the elapsed hours between lastCheckIn and now. A check-in
// stamped in the future counts as zero.
func HoursSince(lastCheckIn, now time.Time) float64 {
	h := now.Sub(lastCheckIn).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// UrgencyScore is round(100 * hours / delayHours). It is unbounded above.
func UrgencyScore(hours, delayHours float64) int {
	if delayHours <= 0 {
		delayHours = PriorityStandard.DefaultDelayHours()
	}
	return int(math.Round(100 * hours / delayHours))
}

// BandFor maps a score to its display band. The first matching threshold wins.
func BandFor(score float64) PriorityBand {
	switch {
	case score >= 100:
		return BandCritical
	case score >= 75:
		return BandHigh
	case score >= 50:
		return BandElevated
	default:
		return BandNormal
	}
}

// Evaluate computes the urgency for a profile whose person last checked in at lastCheckIn.
func Evaluate(profile *EmergencyProfile, lastCheckIn, now time.Time) Urgency {
	hours := HoursSince(lastCheckIn, now)
	delay := profile.DelayHours()
	score := UrgencyScore(hours, delay)
	return Urgency{
		HoursSinceCheckIn: hours,
		DelayHours:        delay,
		Score:             score,
		Band:              BandFor(float64(score)),
	}
}

// FeedEntry is one row of the dispatch console's ranked alert list.
type FeedEntry struct {
	AlertID           uint             `json:"alertId"`
	PersonID          string           `json:"personId"`
	PersonName        string           `json:"personName"`
	Address           string           `json:"address"`
	UrgencyScore      int              `json:"urgencyScore"`
	PriorityBand      PriorityBand     `json:"priorityBand"`
	ResponsePriority  ResponsePriority `json:"responsePriority"`
	HoursSinceCheckIn float64          `json:"hoursSinceCheckIn"`
	LastCheckInAt     time.Time        `json:"lastCheckInAt"`
	State             AlertState       `json:"state"`
	SpecialNeeds      []string         `json:"specialNeeds,omitempty"`
	EmergencyContact  *Contact         `json:"emergencyContact,omitempty"`
}
