package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/models"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON reads the body into v. An empty body leaves v untouched when
// optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, &models.ValidationError{Field: "body", Reason: "failed to read request body"})
		return false
	}
	if len(body) == 0 && optional {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, r, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotApproved), errors.Is(err, models.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicate), errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrOutsideGeofence):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrLocationUnavailable), errors.Is(err, models.ErrLocationTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the status for err. Internal errors are logged and
// their detail is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		msg = "Internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
