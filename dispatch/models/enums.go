package models

import "github.com/carecoord/welfare-dispatch/dispatch/constants"

type ResponsePriority string

const (
	PriorityStandard ResponsePriority = "standard"
	PriorityHigh     ResponsePriority = "high"
	PriorityCritical ResponsePriority = "critical"
)

func (p ResponsePriority) Valid() bool {
	switch p {
	case PriorityStandard, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// DefaultDelayHours is the escalation window used when a profile does not carry its own.
func (p ResponsePriority) DefaultDelayHours() float64 {
	switch p {
	case PriorityCritical:
		return constants.DefaultCriticalDelayHours
	case PriorityHigh:
		return constants.DefaultHighDelayHours
	default:
		return constants.DefaultStandardDelayHours
	}
}

// PriorityBand is the display band derived from an urgency score. It is
// independent of the stored ResponsePriority.
type PriorityBand string

const (
	BandCritical PriorityBand = "critical"
	BandHigh     PriorityBand = "high"
	BandElevated PriorityBand = "elevated"
	BandNormal   PriorityBand = "normal"
)

type AlertState string

const (
	AlertOpen       AlertState = "Open"
	AlertDispatched AlertState = "Dispatched"
	AlertClosed     AlertState = "Closed"
)

type ClosedReason string

const (
	ClosedReportFiled    ClosedReason = "report_filed"
	ClosedCheckedIn      ClosedReason = "checked_in"
	ClosedConsentRevoked ClosedReason = "consent_revoked"
)

type Outcome string

const (
	OutcomeSeniorOK              Outcome = "senior_ok"
	OutcomeSeniorOKNeedsFollowup Outcome = "senior_ok_needs_followup"
	OutcomeSeniorNotHome         Outcome = "senior_not_home"
	OutcomeMedicalEmergency      Outcome = "medical_emergency"
	OutcomeNonMedicalEmergency   Outcome = "non_medical_emergency"
	OutcomeUnableToContact       Outcome = "unable_to_contact"
	OutcomeRefusedCheck          Outcome = "refused_check"
)

// AllOutcomes lists every outcome a responder may file.
var AllOutcomes = []Outcome{
	OutcomeSeniorOK,
	OutcomeSeniorOKNeedsFollowup,
	OutcomeSeniorNotHome,
	OutcomeMedicalEmergency,
	OutcomeNonMedicalEmergency,
	OutcomeUnableToContact,
	OutcomeRefusedCheck,
}

func (o Outcome) Valid() bool {
	for _, v := range AllOutcomes {
		if o == v {
			return true
		}
	}
	return false
}

func (o Outcome) IsEmergency() bool {
	return o == OutcomeMedicalEmergency || o == OutcomeNonMedicalEmergency
}

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Severity classifies an outcome. Unknown outcomes return "".
func (o Outcome) Severity() Severity {
	switch o {
	case OutcomeSeniorOK:
		return SeveritySuccess
	case OutcomeSeniorOKNeedsFollowup, OutcomeSeniorNotHome, OutcomeUnableToContact, OutcomeRefusedCheck:
		return SeverityWarning
	case OutcomeMedicalEmergency, OutcomeNonMedicalEmergency:
		return SeverityError
	}
	return ""
}

// ProfileAccess selects how much of a profile a viewer receives.
type ProfileAccess string

const (
	AccessPrivileged ProfileAccess = "privileged"
	AccessFamily     ProfileAccess = "family"
)
