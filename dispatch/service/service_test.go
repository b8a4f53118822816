package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/carecoord/welfare-dispatch/dispatch/audit"
	"github.com/carecoord/welfare-dispatch/dispatch/cache"
	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/dispatch/models/modelstest"
	"github.com/carecoord/welfare-dispatch/dispatch/slackmessenger"
	"github.com/carecoord/welfare-dispatch/dispatch/testUtils"
)

var (
	testNow       = time.Date(2024, 3, 1, 10, 10, 0, 0, time.UTC)
	testLastCheck = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
)

type pageRecorder struct {
	mu    sync.Mutex
	pages []slackmessenger.Page
}

func (p *pageRecorder) Page(_ context.Context, page slackmessenger.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages = append(p.pages, page)
	return nil
}

func (p *pageRecorder) Pages() []slackmessenger.Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]slackmessenger.Page(nil), p.pages...)
}

type cacheSpy struct {
	cache.Passthrough
	mu          sync.Mutex
	invalidated []string
}

func (c *cacheSpy) Invalidate(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, tenantID)
	return nil
}

// failingStore rejects every transaction.
type failingStore struct {
	*modelstest.Store
	err error
}

func (f *failingStore) RunInTx(context.Context, func(models.Repository) error) error {
	return f.err
}

type ServiceTestSuite struct {
	suite.Suite
	store    *modelstest.Store
	recorder *audit.Recorder
	pages    *pageRecorder
	cache    *cacheSpy
	svc      *service
	ctx      context.Context
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (s *ServiceTestSuite) SetupTest() {
	s.store = modelstest.NewStore()
	s.recorder = &audit.Recorder{}
	s.pages = &pageRecorder{}
	s.cache = &cacheSpy{}
	s.svc = s.newService(s.store)
	s.ctx = context.Background()
}

func (s *ServiceTestSuite) newService(store models.Store) *service {
	svc := NewService(store, s.recorder, s.pages, s.cache, &Config{
		EmergencyRetryInitial:    time.Millisecond,
		EmergencyRetryMaxElapsed: 25 * time.Millisecond,
	}).(*service)
	svc.now = func() time.Time { return testNow }
	return svc
}

func profile(personID string, priority models.ResponsePriority, consent bool) models.EmergencyProfile {
	return models.EmergencyProfile{
		PersonID:         personID,
		TenantID:         "T1",
		ResponsePriority: priority,
		ConsentObtained:  consent,
		Mobility:         models.Mobility{WalkerRequired: true},
		Medical:          models.MedicalEquipment{OxygenDependent: true, OxygenLocation: "bedroom"},
		Access: models.Access{
			ElevatorCode: "1234", SecurityCode: "9876", GateCode: "#55", KeyLocation: "lockbox by the door",
			AccessInstructions: "ring twice", StairsToUnit: 3,
		},
	}
}

// seedAlert opens an alert for personID, storing a consented profile first
// when the person has none.
func (s *ServiceTestSuite) seedAlert(personID string, score int, lastCheckIn time.Time) models.Alert {
	if _, err := s.store.GetCurrentProfile(s.ctx, personID); errors.Is(err, dispatcherrors.ErrNotFound) {
		p := profile(personID, models.PriorityCritical, true)
		s.Require().NoError(p.Normalize())
		_, err = s.store.CreateProfileVersion(s.ctx, p)
		s.Require().NoError(err)
	}
	hours := models.HoursSince(lastCheckIn, testNow)
	return s.store.AddAlert(models.Alert{
		TenantID:             "T1",
		PersonID:             personID,
		LastCheckInAt:        lastCheckIn,
		HoursSinceCheckIn:    hours,
		UrgencyScore:         score,
		PriorityBand:         models.BandFor(float64(score)),
		ResponsePriority:     models.PriorityCritical,
		EscalationDelayHours: 2,
		State:                models.AlertOpen,
		OpenedAt:             testNow,
		UpdatedAt:            testNow,
	})
}

func submission(alertID uint, outcome models.Outcome, completed time.Time) models.ReportSubmission {
	return models.ReportSubmission{
		AlertID:          alertID,
		OfficerID:        "O1",
		OfficerName:      "Officer Reyes",
		CheckCompletedAt: completed.Format(time.RFC3339),
		Outcome:          string(outcome),
	}
}

func (s *ServiceTestSuite) TestUpsertCreatesVersions() {
	first, err := s.svc.UpsertEmergencyProfile(s.ctx, "P1", profile("P1", models.PriorityHigh, true), "editor-1")
	s.NoError(err)
	s.Equal(1, first.Version)
	s.Equal(float64(4), first.EscalationDelayHours)

	update := profile("P1", models.PriorityCritical, true)
	update.EscalationDelayHours = 1.5
	second, err := s.svc.UpsertEmergencyProfile(s.ctx, "P1", update, "editor-2")
	s.NoError(err)
	s.Equal(2, second.Version)

	current, err := s.svc.GetEmergencyProfile(s.ctx, "P1")
	s.NoError(err)
	s.Equal(2, current.Version)
	s.Equal(1.5, current.EscalationDelayHours)

	history, err := s.svc.GetProfileHistory(s.ctx, "P1")
	s.NoError(err)
	s.Require().Len(history, 2)
	s.Equal(2, history[0].Version)
	s.NotNil(history[1].SupersededAt)

	events := s.recorder.OfType(audit.EventProfileUpserted)
	s.Require().Len(events, 2)
	s.Equal("editor-2", events[1].ActorID)
	s.Equal([]string{"T1", "T1"}, s.cache.invalidated)
}

func (s *ServiceTestSuite) TestUpsertWithoutConsentIsStoredButRejected() {
	stored, err := s.svc.UpsertEmergencyProfile(s.ctx, "P1", profile("P1", models.PriorityStandard, false), "editor-1")
	s.ErrorIs(err, dispatcherrors.ErrProfileConsentMissing)
	s.Require().NotNil(stored)
	s.False(stored.ConsentObtained)

	current, err := s.svc.GetEmergencyProfile(s.ctx, "P1")
	s.NoError(err)
	s.False(current.Dispatchable())
}

func (s *ServiceTestSuite) TestUpsertRetriesVersionConflict() {
	flaky := &flakyStore{Store: s.store, failures: 2, err: models.ErrProfileVersionConflict}
	stored, err := s.newService(flaky).UpsertEmergencyProfile(s.ctx, "P1", profile("P1", models.PriorityHigh, true), "editor-1")
	s.Require().NoError(err)
	s.Equal(1, stored.Version)
	s.Equal(3, flaky.calls)
	s.Len(s.recorder.OfType(audit.EventProfileUpserted), 1)
}

func (s *ServiceTestSuite) TestUpsertStoreFailures() {
	tests := []struct {
		name      string
		err       error
		failures  int
		wantCalls int
	}{
		{"conflict retries exhausted", models.ErrProfileVersionConflict, 10, profileConflictRetries + 1},
		{"other failures are not retried", errors.New("connection refused"), 1, 1},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			flaky := &flakyStore{Store: s.store, failures: tt.failures, err: tt.err}
			_, err := s.newService(flaky).UpsertEmergencyProfile(s.ctx, "P1", profile("P1", models.PriorityHigh, true), "editor-1")
			s.ErrorIs(err, dispatcherrors.ErrUpstreamUnavailable)
			s.Equal(tt.wantCalls, flaky.calls)
		})
	}
	s.Empty(s.recorder.Events())
}

func (s *ServiceTestSuite) TestUpsertInvalidProfileStoresNothing() {
	p := profile("P1", models.PriorityStandard, true)
	p.Access.StairsToUnit = -1
	_, err := s.svc.UpsertEmergencyProfile(s.ctx, "P1", p, "editor-1")
	s.ErrorIs(err, dispatcherrors.ErrInvalidProfile)

	p = profile("P1", "urgent", true)
	_, err = s.svc.UpsertEmergencyProfile(s.ctx, "P1", p, "editor-1")
	s.ErrorIs(err, dispatcherrors.ErrInvalidProfile)

	_, err = s.svc.UpsertEmergencyProfile(s.ctx, "P1", profile("P2", models.PriorityStandard, true), "editor-1")
	s.ErrorIs(err, dispatcherrors.ErrInvalidProfile)

	_, err = s.svc.GetEmergencyProfile(s.ctx, "P1")
	s.ErrorIs(err, dispatcherrors.ErrNotFound)
	_, err = s.svc.GetProfileHistory(s.ctx, "P1")
	s.ErrorIs(err, dispatcherrors.ErrNotFound)
	s.Empty(s.recorder.Events())
}

func (s *ServiceTestSuite) TestProfileViews() {
	_, err := s.svc.UpsertEmergencyProfile(s.ctx, "P1", profile("P1", models.PriorityHigh, true), "editor-1")
	s.Require().NoError(err)

	family, err := s.svc.GetEmergencyProfileView(s.ctx, "P1", models.AccessFamily)
	s.NoError(err)
	s.Empty(family.Access.ElevatorCode)
	s.Empty(family.Access.SecurityCode)
	s.Empty(family.Access.GateCode)
	s.Empty(family.Access.KeyLocation)
	s.Equal("ring twice", family.Access.AccessInstructions)
	s.True(family.Medical.OxygenDependent)

	full, err := s.svc.GetEmergencyProfileView(s.ctx, "P1", models.AccessPrivileged)
	s.NoError(err)
	s.Equal("1234", full.Access.ElevatorCode)
	s.Equal("lockbox by the door", full.Access.KeyLocation)

	_, err = s.svc.GetEmergencyProfileView(s.ctx, "P1", "neighbor")
	s.ErrorIs(err, dispatcherrors.ErrInvalidRequest)
}

func (s *ServiceTestSuite) TestGetOpenAlertsRanking() {
	for _, id := range []string{"P1", "P2", "P3", "P4"} {
		_, err := s.svc.UpsertEmergencyProfile(s.ctx, id, profile(id, models.PriorityStandard, true), "editor")
		s.Require().NoError(err)
		s.store.AddPerson(models.MonitoredPerson{PersonID: id, TenantID: "T1", FullName: "Person " + id, Address: id + " Main St",
			EmergencyContact: &models.Contact{Name: "Kin " + id, Phone: "555-0100"}})
	}
	_, err := s.svc.UpsertEmergencyProfile(s.ctx, "P5", profile("P5", models.PriorityStandard, false), "editor")
	s.Require().ErrorIs(err, dispatcherrors.ErrProfileConsentMissing)

	s.seedAlert("P1", 80, testLastCheck)
	s.seedAlert("P2", 150, testLastCheck)
	s.seedAlert("P3", 80, testLastCheck.Add(-time.Hour))
	s.seedAlert("P4", 80, testLastCheck.Add(-time.Hour))
	s.seedAlert("P5", 500, testLastCheck)
	other := s.seedAlert("P9", 900, testLastCheck)
	other.TenantID = "T2"
	s.store.AddAlert(other)

	feed, err := s.svc.GetOpenAlerts(s.ctx, "T1")
	s.NoError(err)

	var order []string
	for _, e := range feed {
		order = append(order, e.PersonID)
	}
	s.Equal([]string{"P2", "P3", "P4", "P1"}, order)
	s.Equal("Person P2", feed[0].PersonName)
	s.Equal(models.BandCritical, feed[0].PriorityBand)
	s.Equal([]string{"walker", "oxygen dependent"}, feed[0].SpecialNeeds)
	s.Equal("Kin P2", feed[0].EmergencyContact.Name)

	_, err = s.svc.GetOpenAlerts(s.ctx, "")
	s.ErrorIs(err, dispatcherrors.ErrInvalidRequest)
}

func (s *ServiceTestSuite) TestGetOpenAlertsStoreFailure() {
	s.store.FailNext = errors.New("connection reset")
	_, err := s.svc.GetOpenAlerts(s.ctx, "T1")
	s.ErrorIs(err, dispatcherrors.ErrUpstreamUnavailable)
}

func (s *ServiceTestSuite) TestOpenReport() {
	alert := s.seedAlert("P1", 108, testLastCheck)

	dispatched, err := s.svc.OpenReport(s.ctx, alert.ID, "O1", "Officer Reyes")
	s.NoError(err)
	s.Equal(models.AlertDispatched, dispatched.State)
	s.Require().NotNil(dispatched.CheckInitiatedAt)
	s.True(testLastCheck.Equal(*dispatched.CheckInitiatedAt))
	s.Equal("O1", dispatched.DispatchedBy)
	s.Len(s.recorder.OfType(audit.EventAlertDispatched), 1)

	again, err := s.svc.OpenReport(s.ctx, alert.ID, "O2", "Officer Kim")
	s.NoError(err)
	s.Equal("O1", again.DispatchedBy)
	s.Len(s.recorder.OfType(audit.EventAlertDispatched), 1)

	_, err = s.svc.OpenReport(s.ctx, 999, "O1", "Officer Reyes")
	s.ErrorIs(err, dispatcherrors.ErrNotFound)

	_, err = s.svc.OpenReport(s.ctx, alert.ID, " ", "")
	s.ErrorIs(err, dispatcherrors.ErrInvalidRequest)
}

func (s *ServiceTestSuite) TestRevokedConsentRetractsAlertAndBlocksDispatch() {
	_, err := s.svc.UpsertEmergencyProfile(s.ctx, "P1", profile("P1", models.PriorityCritical, true), "editor-1")
	s.Require().NoError(err)
	alert := s.seedAlert("P1", 108, testLastCheck)

	_, err = s.svc.UpsertEmergencyProfile(s.ctx, "P1", profile("P1", models.PriorityCritical, false), "editor-2")
	s.Require().ErrorIs(err, dispatcherrors.ErrProfileConsentMissing)

	closed := s.store.Alerts()[0]
	s.Equal(models.AlertClosed, closed.State)
	s.Equal(models.ClosedConsentRevoked, closed.ClosedReason)
	events := s.recorder.OfType(audit.EventAlertRetracted)
	s.Require().Len(events, 1)
	s.Equal("editor-2", events[0].ActorID)
	s.Equal(alert.ID, events[0].Details["alertId"])

	feed, err := s.svc.GetOpenAlerts(s.ctx, "T1")
	s.NoError(err)
	s.Empty(feed)

	_, err = s.svc.OpenReport(s.ctx, alert.ID, "O1", "Officer Reyes")
	s.ErrorIs(err, dispatcherrors.ErrAlreadyResolved)
	_, err = s.svc.SubmitWelfareCheckReport(s.ctx, submission(alert.ID, models.OutcomeSeniorOK, testNow))
	s.ErrorIs(err, dispatcherrors.ErrAlreadyResolved)
	s.Empty(s.store.Reports())
	s.Empty(s.recorder.OfType(audit.EventAlertDispatched))
}

func (s *ServiceTestSuite) TestOpenReportRequiresConsentedProfile() {
	_, err := s.svc.UpsertEmergencyProfile(s.ctx, "P1", profile("P1", models.PriorityCritical, false), "editor-1")
	s.Require().ErrorIs(err, dispatcherrors.ErrProfileConsentMissing)
	// An alert left open from before the revocation.
	alert := s.seedAlert("P1", 108, testLastCheck)

	_, err = s.svc.OpenReport(s.ctx, alert.ID, "O1", "Officer Reyes")
	s.ErrorIs(err, dispatcherrors.ErrProfileConsentMissing)
	s.Equal(models.AlertOpen, s.store.Alerts()[0].State)

	orphan := s.store.AddAlert(models.Alert{TenantID: "T1", PersonID: "GONE", State: models.AlertOpen, LastCheckInAt: testLastCheck})
	_, err = s.svc.OpenReport(s.ctx, orphan.ID, "O1", "Officer Reyes")
	s.ErrorIs(err, dispatcherrors.ErrProfileConsentMissing)
	s.Empty(s.recorder.OfType(audit.EventAlertDispatched))
}

func (s *ServiceTestSuite) TestOpenReportOnClosedAlert() {
	alert := s.seedAlert("P1", 108, testLastCheck)
	s.Require().NoError(s.store.CloseAlert(s.ctx, alert.ID, models.ClosedCheckedIn, testNow))

	_, err := s.svc.OpenReport(s.ctx, alert.ID, "O1", "Officer Reyes")
	s.ErrorIs(err, dispatcherrors.ErrAlreadyResolved)
}

func (s *ServiceTestSuite) TestSubmitValidationOrder() {
	alert := s.seedAlert("P1", 108, testLastCheck)

	tests := []struct {
		name string
		sub  models.ReportSubmission
		kind error
	}{
		{"unknown outcome wins over missing notes", models.ReportSubmission{AlertID: alert.ID, Outcome: "lost", CheckCompletedAt: "garbage"}, dispatcherrors.ErrInvalidOutcome},
		{"emergency without notes", submission(alert.ID, models.OutcomeMedicalEmergency, testNow), dispatcherrors.ErrMissingRequiredNotes},
		{"blank notes count as missing", func() models.ReportSubmission {
			sub := submission(alert.ID, models.OutcomeNonMedicalEmergency, testNow)
			sub.OutcomeNotes = "   "
			return sub
		}(), dispatcherrors.ErrMissingRequiredNotes},
		{"unparseable completion", models.ReportSubmission{AlertID: alert.ID, OfficerID: "O1", Outcome: "senior_ok", CheckCompletedAt: "yesterday"}, dispatcherrors.ErrInvalidTiming},
		{"completion before initiation", submission(alert.ID, models.OutcomeSeniorOK, testLastCheck.Add(-time.Minute)), dispatcherrors.ErrInvalidTiming},
		{"missing officer", models.ReportSubmission{AlertID: alert.ID, Outcome: "senior_ok", CheckCompletedAt: testNow.Format(time.RFC3339)}, dispatcherrors.ErrInvalidRequest},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.svc.SubmitWelfareCheckReport(s.ctx, tt.sub)
			s.ErrorIs(err, tt.kind)
			s.True(dispatcherrors.IsValidation(err))
		})
	}

	s.Empty(s.store.Reports())
	s.Equal(models.AlertOpen, s.store.Alerts()[0].State)
	s.Empty(s.recorder.Events())
}

func (s *ServiceTestSuite) TestSubmitReport() {
	alert := s.seedAlert("P1", 108, testLastCheck)

	sub := submission(alert.ID, models.OutcomeSeniorOKNeedsFollowup, testLastCheck.Add(95*time.Minute))
	sub.ActionsTaken = []string{" checked vitals", "", "called family", "checked vitals"}
	sub.TransportedTo = "General Hospital"
	sub.FamilyNotified = true
	sub.Followup = models.Followup{FollowupRequired: true, FollowupNotes: " bring groceries "}

	report, err := s.svc.SubmitWelfareCheckReport(s.ctx, sub)
	s.Require().NoError(err)
	s.Equal(95, report.ResponseTimeMinutes)
	s.Equal("1h 35m", models.FormatResponseTime(report.ResponseTimeMinutes))
	s.Equal(models.SeverityWarning, report.Severity)
	s.Equal([]string{"checked vitals", "called family"}, report.ActionsTaken)
	s.Empty(report.TransportedTo)
	s.Equal("date TBD", report.FollowupDisplay())
	s.Equal("bring groceries", report.FollowupNotes)
	s.Equal("T1", report.TenantID)
	s.NotEmpty(report.ID)

	s.Equal(models.AlertClosed, s.store.Alerts()[0].State)
	s.Equal(models.ClosedReportFiled, s.store.Alerts()[0].ClosedReason)
	s.Len(s.store.Reports(), 1)

	s.Len(s.recorder.OfType(audit.EventReportSubmitted), 1)
	s.Len(s.recorder.OfType(audit.EventAlertClosed), 1)
	s.Empty(s.recorder.OfType(audit.EventEmergencyNotification))
	s.Empty(s.pages.Pages())
	s.Contains(s.cache.invalidated, "T1")

	_, err = s.svc.SubmitWelfareCheckReport(s.ctx, submission(alert.ID, models.OutcomeSeniorOK, testNow))
	s.ErrorIs(err, dispatcherrors.ErrAlreadyResolved)
}

func (s *ServiceTestSuite) TestSubmitUsesDispatchInitiation() {
	alert := s.seedAlert("P1", 108, testLastCheck)
	_, err := s.svc.OpenReport(s.ctx, alert.ID, "O1", "Officer Reyes")
	s.Require().NoError(err)

	report, err := s.svc.SubmitWelfareCheckReport(s.ctx, submission(alert.ID, models.OutcomeSeniorOK, testLastCheck.Add(30*time.Second)))
	s.Require().NoError(err)
	s.Equal(0, report.ResponseTimeMinutes)
	s.Equal("< 1 min", models.FormatResponseTime(report.ResponseTimeMinutes))
	s.Equal(models.SeveritySuccess, report.Severity)
	s.False(report.FollowupRequired)
}

func (s *ServiceTestSuite) TestSubmitEmergencyNotifies() {
	alert := s.seedAlert("P1", 108, testLastCheck)

	sub := submission(alert.ID, models.OutcomeMedicalEmergency, testNow)
	sub.OutcomeNotes = "Found on the floor, conscious"
	sub.EMSCalled = true
	sub.TransportedTo = "General Hospital"
	sub.TransportReason = "possible hip fracture"

	report, err := s.svc.SubmitWelfareCheckReport(s.ctx, sub)
	s.Require().NoError(err)
	s.Equal(models.SeverityError, report.Severity)
	s.Equal("General Hospital", report.TransportedTo)

	events := s.recorder.OfType(audit.EventEmergencyNotification)
	s.Require().Len(events, 1)
	s.Equal(audit.PriorityHigh, events[0].Priority)
	s.Equal("General Hospital", events[0].Details["transportedTo"])

	pages := s.pages.Pages()
	s.Require().Len(pages, 1)
	s.Equal(slackmessenger.Danger, pages[0].Color)
	s.Equal("Found on the floor, conscious", pages[0].Text)
	s.Equal("General Hospital", pages[0].Fields["transported_to"])
}

func (s *ServiceTestSuite) TestSubmitEMSCalledNotifiesForNonEmergencyOutcome() {
	alert := s.seedAlert("P1", 108, testLastCheck)
	sub := submission(alert.ID, models.OutcomeSeniorOK, testNow)
	sub.EMSCalled = true

	_, err := s.svc.SubmitWelfareCheckReport(s.ctx, sub)
	s.Require().NoError(err)
	s.Len(s.recorder.OfType(audit.EventEmergencyNotification), 1)
	s.Len(s.pages.Pages(), 1)
}

func (s *ServiceTestSuite) TestConcurrentSubmissionsCloseOnce() {
	alert := s.seedAlert("P1", 108, testLastCheck)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		errs    []error
	)
	for _, officer := range []string{"O1", "O2"} {
		wg.Add(1)
		go func(officer string) {
			defer wg.Done()
			sub := submission(alert.ID, models.OutcomeSeniorOK, testNow)
			sub.OfficerID = officer
			_, err := s.svc.SubmitWelfareCheckReport(s.ctx, sub)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
				return
			}
			errs = append(errs, err)
		}(officer)
	}
	wg.Wait()

	s.Equal(1, success)
	s.Require().Len(errs, 1)
	s.ErrorIs(errs[0], dispatcherrors.ErrAlreadyResolved)
	s.Len(s.store.Reports(), 1)
}

func (s *ServiceTestSuite) TestSubmitEmergencyRetriesTransientFailure() {
	alert := s.seedAlert("P1", 108, testLastCheck)
	sub := submission(alert.ID, models.OutcomeNonMedicalEmergency, testNow)
	sub.OutcomeNotes = "gas leak, fire department called"

	svc := s.newService(&flakyStore{Store: s.store, failures: 2})
	report, err := svc.SubmitWelfareCheckReport(s.ctx, sub)
	s.Require().NoError(err)
	s.Equal(alert.ID, report.AlertID)
	s.Len(s.store.Reports(), 1)
}

func (s *ServiceTestSuite) TestSubmitEmergencyEscalatesWhenRetriesExhausted() {
	alert := s.seedAlert("P1", 108, testLastCheck)
	sub := submission(alert.ID, models.OutcomeMedicalEmergency, testNow)
	sub.OutcomeNotes = "unresponsive, EMS on scene"

	svc := s.newService(&failingStore{Store: s.store, err: errors.New("connection refused")})
	_, err := svc.SubmitWelfareCheckReport(s.ctx, sub)
	s.ErrorIs(err, dispatcherrors.ErrUpstreamUnavailable)

	events := s.recorder.OfType(audit.EventSubmissionEscalated)
	s.Require().Len(events, 1)
	s.Equal(audit.PriorityHigh, events[0].Priority)
	pages := s.pages.Pages()
	s.Require().Len(pages, 1)
	s.Contains(pages[0].Title, "could not be saved")
	s.Empty(s.recorder.OfType(audit.EventReportSubmitted))
	s.Equal(models.AlertOpen, s.store.Alerts()[0].State)
}

func (s *ServiceTestSuite) TestSubmitNonEmergencyFailureIsNotRetried() {
	alert := s.seedAlert("P1", 108, testLastCheck)
	flaky := &flakyStore{Store: s.store, failures: 1}

	svc := s.newService(flaky)
	_, err := svc.SubmitWelfareCheckReport(s.ctx, submission(alert.ID, models.OutcomeSeniorOK, testNow))
	s.ErrorIs(err, dispatcherrors.ErrUpstreamUnavailable)
	s.Equal(1, flaky.calls)
	s.Empty(s.pages.Pages())
}

func (s *ServiceTestSuite) TestUpdateFollowup() {
	alert := s.seedAlert("P1", 108, testLastCheck)
	report, err := s.svc.SubmitWelfareCheckReport(s.ctx, submission(alert.ID, models.OutcomeSeniorNotHome, testNow))
	s.Require().NoError(err)

	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	updated, err := s.svc.UpdateFollowup(s.ctx, report.ID, models.Followup{FollowupRequired: true, FollowupDate: &date, FollowupNotes: "retry visit"}, "O1")
	s.NoError(err)
	s.Equal("2024-03-04", updated.FollowupDisplay())
	s.Equal(models.OutcomeSeniorNotHome, updated.Outcome)
	s.Len(s.recorder.OfType(audit.EventReportFollowupUpdated), 1)

	cleared, err := s.svc.UpdateFollowup(s.ctx, report.ID, models.Followup{FollowupDate: &date, FollowupNotes: "ignored"}, "O1")
	s.NoError(err)
	s.False(cleared.FollowupRequired)
	s.Nil(cleared.FollowupDate)
	s.Empty(cleared.FollowupNotes)

	_, err = s.svc.UpdateFollowup(s.ctx, "missing", models.Followup{}, "O1")
	s.ErrorIs(err, dispatcherrors.ErrNotFound)
}

func (s *ServiceTestSuite) TestGetReportHistory() {
	for i := 0; i < 3; i++ {
		alert := s.seedAlert("P1", 108, testLastCheck)
		_, err := s.svc.SubmitWelfareCheckReport(s.ctx, submission(alert.ID, models.OutcomeSeniorOK, testLastCheck.Add(time.Duration(i)*time.Hour)))
		s.Require().NoError(err)
	}

	history, err := s.svc.GetReportHistory(s.ctx, "P1", 2)
	s.NoError(err)
	s.Require().Len(history, 2)
	s.True(history[0].CheckCompletedAt.After(history[1].CheckCompletedAt))

	history, err = s.svc.GetReportHistory(s.ctx, "P1", 0)
	s.NoError(err)
	s.Len(history, 3)

	history, err = s.svc.GetReportHistory(s.ctx, "P1", 10000)
	s.NoError(err)
	s.Len(history, 3)
}

// flakyStore fails the first n transactions with err, or a serialization error when err is nil.
type flakyStore struct {
	*modelstest.Store
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (f *flakyStore) RunInTx(ctx context.Context, fn func(models.Repository) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		if f.err != nil {
			return f.err
		}
		return errors.New("could not serialize access")
	}
	return f.Store.RunInTx(ctx, fn)
}

func TestLoadConfig(t *testing.T) {
	cleanup := testUtils.SetEnvVars(t, []testUtils.EnvVar{{Name: "EMERGENCY_RETRY_MAX_ELAPSED", Value: "1m"}})
	defer cleanup()

	cfg, err := LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.EmergencyRetryMaxElapsed)
	assert.Equal(t, 250*time.Millisecond, cfg.EmergencyRetryInitial)
}

func TestSortFeed(t *testing.T) {
	feed := []*models.FeedEntry{
		{PersonID: "b", UrgencyScore: 50, LastCheckInAt: testLastCheck},
		{PersonID: "a", UrgencyScore: 50, LastCheckInAt: testLastCheck},
		{PersonID: "c", UrgencyScore: 51, LastCheckInAt: testLastCheck},
		{PersonID: "d", UrgencyScore: 50, LastCheckInAt: testLastCheck.Add(-time.Minute)},
	}
	SortFeed(feed)
	var order []string
	for _, e := range feed {
		order = append(order, e.PersonID)
	}
	assert.Equal(t, []string{"c", "d", "a", "b"}, order)
}
