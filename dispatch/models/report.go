package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ccoveille/go-safecast"

	"github.com/carecoord/welfare-dispatch/dispatch/constants"
)

// WelfareCheckReport is the record of a completed in-person check. Only the
// follow-up fields may change once it is saved.
type WelfareCheckReport struct {
	ID          string `json:"id"`
	AlertID     uint   `json:"alertId"`
	TenantID    string `json:"tenantId"`
	PersonID    string `json:"personId"`
	OfficerID   string `json:"officerId"`
	OfficerName string `json:"officerName"`

	CheckInitiatedAt time.Time `json:"checkInitiatedAt"`
	CheckCompletedAt time.Time `json:"checkCompletedAt"`

	Outcome        Outcome  `json:"outcome"`
	OutcomeNotes   string   `json:"outcomeNotes,omitempty"`
	EMSCalled      bool     `json:"emsCalled"`
	FamilyNotified bool     `json:"familyNotified"`
	ActionsTaken   []string `json:"actionsTaken"`

	TransportedTo   string `json:"transportedTo,omitempty"`
	TransportReason string `json:"transportReason,omitempty"`

	FollowupRequired bool       `json:"followupRequired"`
	FollowupDate     *time.Time `json:"followupDate,omitempty"`
	FollowupNotes    string     `json:"followupNotes,omitempty"`

	ResponseTimeMinutes int      `json:"responseTimeMinutes"`
	Severity            Severity `json:"severity"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReportSubmission is a responder's report as received, before validation.
type ReportSubmission struct {
	AlertID          uint     `json:"alertId"`
	OfficerID        string   `json:"officerId"`
	OfficerName      string   `json:"officerName"`
	CheckCompletedAt string   `json:"checkCompletedAt"`
	Outcome          string   `json:"outcome"`
	OutcomeNotes     string   `json:"outcomeNotes"`
	EMSCalled        bool     `json:"emsCalled"`
	FamilyNotified   bool     `json:"familyNotified"`
	ActionsTaken     []string `json:"actionsTaken"`
	TransportedTo    string   `json:"transportedTo"`
	TransportReason  string   `json:"transportReason"`
	Followup
}

// Followup holds the only report fields that may be edited after submission.
type Followup struct {
	FollowupRequired bool       `json:"followupRequired"`
	FollowupDate     *time.Time `json:"followupDate,omitempty"`
	FollowupNotes    string     `json:"followupNotes,omitempty"`
}

// Normalized clears follow-up detail when no follow-up is required.
func (f Followup) Normalized() Followup {
	f.FollowupNotes = strings.TrimSpace(f.FollowupNotes)
	if !f.FollowupRequired {
		return Followup{}
	}
	return f
}

func (r *WelfareCheckReport) ApplyFollowup(f Followup) {
	f = f.Normalized()
	r.FollowupRequired = f.FollowupRequired
	r.FollowupDate = f.FollowupDate
	r.FollowupNotes = f.FollowupNotes
}

// FollowupDisplay renders the scheduled follow-up date, or "date TBD" when a
// follow-up is required without one. It is empty when no follow-up is required.
func (r *WelfareCheckReport) FollowupDisplay() string {
	if !r.FollowupRequired {
		return ""
	}
	if r.FollowupDate == nil {
		return constants.FollowupDateTBD
	}
	return r.FollowupDate.Format("2006-01-02")
}

// NormalizeActions trims tags, drops blanks and suppresses duplicates, keeping first-seen order.
func NormalizeActions(actions []string) []string {
	seen := make(map[string]struct{}, len(actions))
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// ResponseMinutes is the whole minutes between initiated and completed, never negative.
func ResponseMinutes(initiated, completed time.Time) int {
	d := completed.Sub(initiated)
	if d <= 0 {
		return 0
	}
	minutes, err := safecast.ToInt(int64(math.Floor(d.Minutes())))
	if err != nil {
		return math.MaxInt
	}
	return minutes
}

// FormatResponseTime renders a response duration for history displays.
func FormatResponseTime(minutes int) string {
	switch {
	case minutes < 1:
		return "< 1 min"
	case minutes < 60:
		return fmt.Sprintf("%d min", minutes)
	}
	h, m := minutes/60, minutes%60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
