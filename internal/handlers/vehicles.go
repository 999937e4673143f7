package handlers

import (
	"net/http"
	"time"

	"github.com/ukydev/fleet-presence/internal/db"
	"github.com/ukydev/fleet-presence/internal/filter"
	"github.com/ukydev/fleet-presence/internal/registry"
	"github.com/ukydev/fleet-presence/internal/render"
)

// VehicleHandler serves the public map.
type VehicleHandler struct {
	store  db.VehicleStore
	types  *registry.Registry
	latest *render.Latest
	now    func() time.Time
}

// NewVehicleHandler creates a public map handler.
func NewVehicleHandler(store db.VehicleStore, types *registry.Registry, latest *render.Latest) *VehicleHandler {
	return &VehicleHandler{store: store, types: types, latest: latest, now: time.Now}
}

// Visible lists the vehicles on the map. The optional types query
// parameter is a comma separated list of type ids.
func (h *VehicleHandler) Visible(w http.ResponseWriter, r *http.Request) {
	f, err := filter.ParseTypes(h.types, r.URL.Query().Get("types"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	vehicles, err := h.store.All(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	markers := render.Markers(h.types, f.VisibleVehicles(vehicles))
	writeJSON(w, http.StatusOK, render.Frame{
		GeneratedAt: h.now().UTC(),
		Count:       len(markers),
		Vehicles:    markers,
	})
}

// Snapshot returns the frame produced by the last refresh tick.
func (h *VehicleHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.latest.Frame())
}

// Types lists the vehicle types open for registration.
func (h *VehicleHandler) Types(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.types.Enabled())
}
