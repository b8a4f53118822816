package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"github.com/carecoord/welfare-dispatch/dispatch/constants"
	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/log"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`

	// Set on ProfileConsentMissing: the version that was stored.
	Profile *models.EmergencyProfile `json:"profile,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP. ProfileConsentMissing is
// checked first because it is also reported as a ValidationError.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatcherrors.ErrProfileConsentMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dispatcherrors.ErrInvalidOutcome),
		errors.Is(err, dispatcherrors.ErrMissingRequiredNotes),
		errors.Is(err, dispatcherrors.ErrInvalidTiming),
		errors.Is(err, dispatcherrors.ErrInvalidProfile),
		errors.Is(err, dispatcherrors.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, dispatcherrors.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, dispatcherrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatcherrors.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newErrorResponse(err error, status int) *ErrorResponse {
	resp := &ErrorResponse{
		Error: http.StatusText(status),
		Kind:  dispatcherrors.Kind(err),
	}

	var ve *dispatcherrors.ValidationError
	switch {
	case errors.As(err, &ve):
		resp.Field, resp.Message = ve.Field, ve.Msg
	case status == http.StatusConflict:
		resp.Message = constants.AlreadyResolvedErr
	case status == http.StatusServiceUnavailable:
		resp.Message = constants.UpstreamErr
	case status == http.StatusInternalServerError:
		resp.Kind = "Internal"
		resp.Message = http.StatusText(status)
	default:
		resp.Message = err.Error()
	}
	return resp
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	writeErrorResponse(w, r, status, newErrorResponse(err, status), err)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, resp *ErrorResponse, err error) {
	logError(r.Context(), status, resp, err)
	render.Status(r, status)
	render.JSON(w, r, resp)
}

func logError(ctx context.Context, status int, resp *ErrorResponse, err error) {
	fields := logrus.Fields{"resp_status": status, "error_kind": resp.Kind}
	if resp.Field != "" {
		fields["error_field"] = resp.Field
	}
	if status >= http.StatusInternalServerError {
		log.WriteErrorWithFields(ctx, err.Error(), fields)
		return
	}
	log.WriteWarnWithFields(ctx, err.Error(), fields)
}

func badRequest(field, msg string) error {
	return dispatcherrors.NewValidationError(dispatcherrors.ErrInvalidRequest, field, msg)
}
