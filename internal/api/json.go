package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"minibus/internal/matrix"
	"minibus/internal/model"
	"minibus/internal/opt"
	"minibus/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// errorStatus maps domain errors to an HTTP status and problem title.
func errorStatus(err error) (int, string) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, opt.ErrInvalidReservation),
		errors.Is(err, opt.ErrInvalidVehicle),
		errors.Is(err, opt.ErrUnknownStation):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, store.ErrConflict), errors.Is(err, opt.ErrDuplicateReservation):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, opt.ErrNoVehicles),
		errors.Is(err, opt.ErrNoReservations),
		errors.Is(err, opt.ErrEmptyPopulation):
		return http.StatusUnprocessableEntity, "No plan possible"
	case errors.Is(err, matrix.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "Cost matrix unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timed out"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := errorStatus(err)
	if status >= 500 {
		s.Log.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Error(title)
	}
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}
