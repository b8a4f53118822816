package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/carecoord/welfare-dispatch/dispatch/logging"
	"github.com/carecoord/welfare-dispatch/dispatch/monitoring"
	"github.com/carecoord/welfare-dispatch/middleware"
)

func NewAPIRouter(api *API) http.Handler {
	r := chi.NewRouter()
	m := monitoring.GetMonitor()
	r.Use(chimw.RequestID, middleware.NewTransactionID, logging.NewStructuredLogger(), logging.NewCtxLogger,
		chimw.Recoverer, middleware.HSTSHeader, middleware.ConnectionClose)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get(m.WrapHandler("/tenants/{tenantID}/alerts", api.GetOpenAlerts))
		r.Post(m.WrapHandler("/alerts/{alertID}/dispatch", api.DispatchAlert))
		r.Post(m.WrapHandler("/reports", api.SubmitReport))
		r.Patch(m.WrapHandler("/reports/{reportID}/followup", api.UpdateFollowup))
		r.Get(m.WrapHandler("/people/{personID}/profile", api.GetProfile))
		r.Put(m.WrapHandler("/people/{personID}/profile", api.PutProfile))
		r.Get(m.WrapHandler("/people/{personID}/profile/history", api.GetProfileHistory))
		r.Get(m.WrapHandler("/people/{personID}/reports", api.GetReportHistory))
	})
	r.Get(m.WrapHandler("/_version", api.GetVersion))
	r.Get(m.WrapHandler("/_health", api.HealthCheck))
	return r
}
