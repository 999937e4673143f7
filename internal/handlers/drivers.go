package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ukydev/fleet-presence/internal/location"
	"github.com/ukydev/fleet-presence/internal/models"
	"github.com/ukydev/fleet-presence/internal/presence"
)

// DriverHandler serves registration and the driver presence controls.
type DriverHandler struct {
	presence *presence.Machine
	trackers *location.Pool
}

// NewDriverHandler creates a driver handler.
func NewDriverHandler(machine *presence.Machine, trackers *location.Pool) *DriverHandler {
	return &DriverHandler{presence: machine, trackers: trackers}
}

// positionRequest carries an optional position reported by the client.
type positionRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (p positionRequest) location() (models.Location, bool) {
	if p.Lat == nil || p.Lng == nil {
		return models.Location{}, false
	}
	return models.Location{Lat: *p.Lat, Lng: *p.Lng}, true
}

// Register signs up a new driver.
func (h *DriverHandler) Register(w http.ResponseWriter, r *http.Request) {
	var reg presence.Registration
	if !decodeJSON(w, r, &reg, false) {
		return
	}

	vehicle, err := h.presence.Register(r.Context(), reg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, vehicle)
}

// GoOnline brings the driver online. A position in the body is used as is;
// without one the device position is read and then tracked.
func (h *DriverHandler) GoOnline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req positionRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	var (
		vehicle *models.Vehicle
		err     error
	)
	if loc, ok := req.location(); ok {
		vehicle, err = h.presence.GoOnline(r.Context(), id, loc)
	} else {
		vehicle, err = h.trackers.GoOnline(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

// GoOffline takes the driver offline and stops tracking.
func (h *DriverHandler) GoOffline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.trackers.Stop(id)

	vehicle, err := h.presence.GoOffline(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

// UpdateLocation commits a position reported by the client. A position
// outside the geofence takes the driver offline.
func (h *DriverHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req positionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	loc, ok := req.location()
	if !ok {
		writeError(w, r, &models.ValidationError{Field: "location", Reason: "lat and lng are required"})
		return
	}

	vehicle, err := h.presence.UpdateLocation(r.Context(), id, loc)
	if errors.Is(err, models.ErrOutsideGeofence) {
		h.trackers.Stop(id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}
