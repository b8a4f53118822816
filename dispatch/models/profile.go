package models

import (
	"math"
	"strings"
	"time"

	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
)

// EmergencyProfile is one version of a person's emergency-response profile.
// Versions are never deleted; a newer version supersedes the previous one.
type EmergencyProfile struct {
	ID           uint       `json:"-"`
	PersonID     string     `json:"personId"`
	TenantID     string     `json:"tenantId"`
	Version      int        `json:"version"`
	CreatedAt    time.Time  `json:"createdAt"`
	SupersededAt *time.Time `json:"supersededAt,omitempty"`

	Mobility      Mobility          `json:"mobility"`
	Medical       MedicalEquipment  `json:"medical"`
	Communication Communication     `json:"communication"`
	Access        Access            `json:"access"`
	Risk          Risk              `json:"risk"`
	Contacts      SecondaryContacts `json:"contacts"`

	ResponsePriority     ResponsePriority `json:"responsePriority"`
	EscalationDelayHours float64          `json:"escalationDelayHours"`

	ConsentObtained    bool       `json:"consentObtained"`
	ConsentDate        *time.Time `json:"consentDate,omitempty"`
	ConsentGivenBy     string     `json:"consentGivenBy,omitempty"`
	HIPAAAuthorization bool       `json:"hipaaAuthorization"`

	SpecialInstructions string `json:"specialInstructions,omitempty"`
}

type Mobility struct {
	BedBound        bool   `json:"bedBound"`
	WheelchairBound bool   `json:"wheelchairBound"`
	WalkerRequired  bool   `json:"walkerRequired"`
	CaneRequired    bool   `json:"caneRequired"`
	Notes           string `json:"notes,omitempty"`
}

type MedicalEquipment struct {
	OxygenDependent     bool     `json:"oxygenDependent"`
	OxygenLocation      string   `json:"oxygenLocation,omitempty"`
	DialysisRequired    bool     `json:"dialysisRequired"`
	DialysisSchedule    string   `json:"dialysisSchedule,omitempty"`
	Equipment           []string `json:"equipment,omitempty"`
	CriticalMedications string   `json:"criticalMedications,omitempty"`
	MedicationLocation  string   `json:"medicationLocation,omitempty"`
}

type Communication struct {
	HearingImpaired     bool   `json:"hearingImpaired"`
	HearingNotes        string `json:"hearingNotes,omitempty"`
	VisionImpaired      bool   `json:"visionImpaired"`
	VisionNotes         string `json:"visionNotes,omitempty"`
	CognitiveImpairment bool   `json:"cognitiveImpairment"`
	CognitiveNotes      string `json:"cognitiveNotes,omitempty"`
	NonVerbal           bool   `json:"nonVerbal"`
	NonVerbalNotes      string `json:"nonVerbalNotes,omitempty"`
	LanguageBarrier     bool   `json:"languageBarrier"`
	LanguageNotes       string `json:"languageNotes,omitempty"`
}

type Access struct {
	BuildingType         string `json:"buildingType,omitempty"`
	Floor                string `json:"floor,omitempty"`
	Quadrant             string `json:"quadrant,omitempty"`
	ElevatorRequired     bool   `json:"elevatorRequired"`
	ElevatorCode         string `json:"elevatorCode,omitempty"`
	StairsToUnit         int    `json:"stairsToUnit"`
	KeyLocation          string `json:"keyLocation,omitempty"`
	AccessInstructions   string `json:"accessInstructions,omitempty"`
	DoorOpensInward      bool   `json:"doorOpensInward"`
	SecuritySystem       bool   `json:"securitySystem"`
	SecurityCode         string `json:"securityCode,omitempty"`
	ParkingInstructions  string `json:"parkingInstructions,omitempty"`
	GateCode             string `json:"gateCode,omitempty"`
	BestEntrance         string `json:"bestEntrance,omitempty"`
	IntercomInstructions string `json:"intercomInstructions,omitempty"`
}

type Risk struct {
	FallRiskHigh bool   `json:"fallRiskHigh"`
	FallHistory  bool   `json:"fallHistory"`
	HomeHazards  string `json:"homeHazards,omitempty"`
}

type SecondaryContacts struct {
	NeighborName         string `json:"neighborName,omitempty"`
	NeighborAddress      string `json:"neighborAddress,omitempty"`
	NeighborPhone        string `json:"neighborPhone,omitempty"`
	BuildingManagerName  string `json:"buildingManagerName,omitempty"`
	BuildingManagerPhone string `json:"buildingManagerPhone,omitempty"`
}

// DelayHours returns the escalation window for the profile, falling back to the tier default.
func (p *EmergencyProfile) DelayHours() float64 {
	if p.EscalationDelayHours > 0 && !math.IsInf(p.EscalationDelayHours, 0) {
		return p.EscalationDelayHours
	}
	return p.ResponsePriority.DefaultDelayHours()
}

// Dispatchable reports whether the profile may be used to dispatch a responder.
func (p *EmergencyProfile) Dispatchable() bool {
	return p != nil && p.ConsentObtained
}

// Normalize fills tier defaults and validates the profile for storage.
func (p *EmergencyProfile) Normalize() error {
	p.PersonID = strings.TrimSpace(p.PersonID)
	p.TenantID = strings.TrimSpace(p.TenantID)
	if p.PersonID == "" {
		return dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidProfile, "personId", "personId is required")
	}
	if p.TenantID == "" {
		return dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidProfile, "tenantId", "tenantId is required")
	}

	if p.ResponsePriority == "" {
		p.ResponsePriority = PriorityStandard
	}
	if !p.ResponsePriority.Valid() {
		return dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidProfile, "responsePriority",
			"responsePriority must be one of standard, high, critical")
	}

	if math.IsNaN(p.EscalationDelayHours) || math.IsInf(p.EscalationDelayHours, 0) {
		return dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidProfile, "escalationDelayHours",
			"escalationDelayHours must be a finite number")
	}
	if p.EscalationDelayHours <= 0 {
		p.EscalationDelayHours = p.ResponsePriority.DefaultDelayHours()
	}

	if p.Access.StairsToUnit < 0 {
		return dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidProfile, "access.stairsToUnit",
			"stairsToUnit must be zero or greater")
	}

	var equipment []string
	for _, e := range p.Medical.Equipment {
		if e = strings.TrimSpace(e); e != "" {
			equipment = append(equipment, e)
		}
	}
	p.Medical.Equipment = equipment

	return nil
}

// SpecialNeeds summarizes the conditions a responder should know about before arrival.
func (p *EmergencyProfile) SpecialNeeds() []string {
	flags := []struct {
		set   bool
		label string
	}{
		{p.Mobility.BedBound, "bed-bound"},
		{p.Mobility.WheelchairBound, "wheelchair"},
		{p.Mobility.WalkerRequired, "walker"},
		{p.Mobility.CaneRequired, "cane"},
		{p.Medical.OxygenDependent, "oxygen dependent"},
		{p.Medical.DialysisRequired, "dialysis"},
		{p.Communication.HearingImpaired, "hearing impaired"},
		{p.Communication.VisionImpaired, "vision impaired"},
		{p.Communication.CognitiveImpairment, "cognitive impairment"},
		{p.Communication.NonVerbal, "non-verbal"},
		{p.Communication.LanguageBarrier, "language barrier"},
		{p.Risk.FallRiskHigh, "high fall risk"},
		{p.Risk.FallHistory, "fall history"},
		{p.Access.ElevatorRequired, "elevator required"},
		{p.Access.DoorOpensInward, "door opens inward"},
	}

	needs := make([]string, 0, len(flags))
	for _, f := range flags {
		if f.set {
			needs = append(needs, f.label)
		}
	}
	return needs
}

// FamilyView returns a read-only copy with access codes removed.
func (p EmergencyProfile) FamilyView() EmergencyProfile {
	p.Access.ElevatorCode = ""
	p.Access.SecurityCode = ""
	p.Access.GateCode = ""
	p.Access.KeyLocation = ""
	if p.Medical.Equipment != nil {
		p.Medical.Equipment = append([]string(nil), p.Medical.Equipment...)
	}
	return p
}
