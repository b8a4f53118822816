package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"github.com/carecoord/welfare-dispatch/dispatch/constants"
	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/dispatch/service"
	"github.com/carecoord/welfare-dispatch/log"
)

// DatabaseChecker reports database reachability for /_health.
type DatabaseChecker interface {
	IsDatabaseOK(ctx context.Context) (result string, ok bool)
}

type API struct {
	svc    service.Service
	health DatabaseChecker
}

func NewAPI(svc service.Service, health DatabaseChecker) *API {
	return &API{svc: svc, health: health}
}

type dispatchRequest struct {
	OfficerID   string `json:"officerId"`
	OfficerName string `json:"officerName"`
}

type followupRequest struct {
	models.Followup
	ActorID string `json:"actorId"`
}

type profileRequest struct {
	models.EmergencyProfile
	ActorID string `json:"actorId"`
}

func decode(r *http.Request, v interface{}) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return badRequest("body", constants.RequestStructErr)
	}
	return nil
}

func parseAlertID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "alertID"), 10, 0)
	if err != nil {
		return 0, badRequest("alertId", "alert id must be a positive integer")
	}
	return uint(id), nil
}

/*
GetOpenAlerts returns the tenant's Open and Dispatched alerts, most urgent first.

	GET /api/v1/tenants/{tenantID}/alerts
*/
func (a *API) GetOpenAlerts(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	ctx, _ := log.SetCtxLogger(r.Context(), "tenant_id", tenantID)

	feed, err := a.svc.GetOpenAlerts(ctx, tenantID)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	if feed == nil {
		feed = []*models.FeedEntry{}
	}
	render.JSON(w, r, feed)
}

/*
DispatchAlert assigns an officer to an alert and fixes the check's initiation time.

	POST /api/v1/alerts/{alertID}/dispatch
*/
func (a *API) DispatchAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := parseAlertID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req dispatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, _ := log.SetLoggerFields(r.Context(), logrus.Fields{"alert_id": alertID, "officer_id": req.OfficerID})
	alert, err := a.svc.OpenReport(ctx, alertID, req.OfficerID, req.OfficerName)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	render.JSON(w, r, alert)
}

/*
SubmitReport files the officer's welfare check report and closes the alert.

	POST /api/v1/reports
*/
func (a *API) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var sub models.ReportSubmission
	if err := decode(r, &sub); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, _ := log.SetLoggerFields(r.Context(), logrus.Fields{"alert_id": sub.AlertID, "officer_id": sub.OfficerID})
	report, err := a.svc.SubmitWelfareCheckReport(ctx, sub)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, report)
}

/*
UpdateFollowup replaces the follow-up fields of a filed report.

	PATCH /api/v1/reports/{reportID}/followup
*/
func (a *API) UpdateFollowup(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")

	var req followupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, _ := log.SetCtxLogger(r.Context(), "report_id", reportID)
	report, err := a.svc.UpdateFollowup(ctx, reportID, req.Followup, req.ActorID)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	render.JSON(w, r, report)
}

/*
GetProfile returns the person's current emergency profile. ?view=family
returns the read-only view with access codes redacted.

	GET /api/v1/people/{personID}/profile
*/
func (a *API) GetProfile(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "personID")
	ctx, _ := log.SetCtxLogger(r.Context(), "person_id", personID)

	var (
		profile *models.EmergencyProfile
		err     error
	)
	if view := r.URL.Query().Get("view"); view != "" {
		profile, err = a.svc.GetEmergencyProfileView(ctx, personID, models.ProfileAccess(view))
	} else {
		profile, err = a.svc.GetEmergencyProfile(ctx, personID)
	}
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	render.JSON(w, r, profile)
}

/*
PutProfile stores a new version of the person's emergency profile.

	PUT /api/v1/people/{personID}/profile
*/
func (a *API) PutProfile(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "personID")

	var req profileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, _ := log.SetCtxLogger(r.Context(), "person_id", personID)
	profile, err := a.svc.UpsertEmergencyProfile(ctx, personID, req.EmergencyProfile, req.ActorID)
	if errors.Is(err, dispatcherrors.ErrProfileConsentMissing) {
		resp := newErrorResponse(err, http.StatusUnprocessableEntity)
		resp.Profile = profile
		writeErrorResponse(w, r.WithContext(ctx), http.StatusUnprocessableEntity, resp, err)
		return
	}
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	render.JSON(w, r, profile)
}

func (a *API) GetProfileHistory(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "personID")
	ctx, _ := log.SetCtxLogger(r.Context(), "person_id", personID)

	history, err := a.svc.GetProfileHistory(ctx, personID)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	render.JSON(w, r, history)
}

/*
GetReportHistory lists the person's reports, newest first.

	GET /api/v1/people/{personID}/reports?limit=N
*/
func (a *API) GetReportHistory(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "personID")
	ctx, _ := log.SetCtxLogger(r.Context(), "person_id", personID)

	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, badRequest("limit", "limit must be an integer"))
			return
		}
		limit = n
	}

	reports, err := a.svc.GetReportHistory(ctx, personID, limit)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	if reports == nil {
		reports = []*models.WelfareCheckReport{}
	}
	render.JSON(w, r, reports)
}

func (a *API) GetVersion(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"version": constants.Version})
}

func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	m := make(map[string]string)

	result, ok := a.health.IsDatabaseOK(r.Context())
	m["database"] = result
	if !ok {
		render.Status(r, http.StatusBadGateway)
	}
	render.JSON(w, r, m)
}
