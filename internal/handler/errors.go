package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aus-receiving/api/internal/service"
	"github.com/aus-receiving/api/internal/storage"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// writeServiceError maps service and storage errors to an HTTP status.
// Client errors echo the message; server errors are logged and hidden.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), op,
			"error", err,
			"request_id", chimw.GetReqID(r.Context()),
		)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, "database unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrLineNotFound), errors.Is(err, service.ErrItemNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrDuplicateBarcode):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrSupplierMismatch):
		return http.StatusUnprocessableEntity, err.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}
