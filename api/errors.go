package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/courier"
)

// Error codes returned in the "error" field of failed responses.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeMalformedDescriptor = "malformed_descriptor"
	CodeMalformedSchedule   = "malformed_schedule"
	CodeMalformedRetry      = "malformed_retry"
	CodeMalformedJobID      = "malformed_job_id"
	CodeNotFound            = "not_found"
	CodeAlreadyExists       = "already_exists"
	CodeUnavailable         = "unavailable"
	CodeInternal            = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusOf maps courier sentinel errors to an HTTP status and error code.
func statusOf(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, courier.ErrMalformedDescriptor):
		return http.StatusBadRequest, CodeMalformedDescriptor
	case errors.Is(err, courier.ErrMalformedSchedule):
		return http.StatusBadRequest, CodeMalformedSchedule
	case errors.Is(err, courier.ErrMalformedRetry):
		return http.StatusBadRequest, CodeMalformedRetry
	case errors.Is(err, courier.ErrMalformedJobID):
		return http.StatusBadRequest, CodeMalformedJobID
	case errors.Is(err, courier.ErrJobNotFound),
		errors.Is(err, courier.ErrDLQNotFound),
		errors.Is(err, courier.ErrWorkerNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, courier.ErrJobAlreadyExists):
		return http.StatusConflict, CodeAlreadyExists
	case errors.Is(err, courier.ErrStoreClosed):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeError writes err as an ErrorResponse. Internal errors are logged and
// their text is not returned to the caller.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("error", msg),
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
