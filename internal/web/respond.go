package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/homewiz/internal/auth"
	"github.com/vbonduro/homewiz/internal/domain"
	"github.com/vbonduro/homewiz/internal/ident"
	"github.com/vbonduro/homewiz/internal/service"
	"github.com/vbonduro/homewiz/internal/upload"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("write response failed", "error", err)
	}
}

// writeError maps err onto a status code. Server-side failures are logged and
// their detail is not sent to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg}, s.logger)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ident.ErrConflictingReconciliation):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrNoPendingWorkflow),
		errors.Is(err, ident.ErrUnreconciled):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalid),
		errors.Is(err, upload.ErrInvalidDraft),
		errors.Is(err, ident.ErrNotTemporary),
		errors.Is(err, ident.ErrInvalidCanonical):
		return http.StatusBadRequest
	}

	switch domain.ReasonOf(err) {
	case domain.ReasonInvalid:
		return http.StatusBadRequest
	case domain.ReasonConstraint:
		return http.StatusConflict
	case domain.ReasonNotFound:
		return http.StatusNotFound
	}

	switch {
	case errors.Is(err, upload.ErrPersistenceFailed):
		return http.StatusBadGateway
	case errors.Is(err, upload.ErrCancelled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
