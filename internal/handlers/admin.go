package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/dashboard"
	"github.com/ukydev/fleet-presence/internal/filter"
	"github.com/ukydev/fleet-presence/internal/location"
	"github.com/ukydev/fleet-presence/internal/models"
	"github.com/ukydev/fleet-presence/internal/presence"
	"github.com/ukydev/fleet-presence/internal/registry"
	"github.com/ukydev/fleet-presence/internal/simulator"
)

// AdminHandler serves the administrator panel.
type AdminHandler struct {
	presence  *presence.Machine
	types     *registry.Registry
	dashboard *dashboard.Service
	sim       *simulator.Simulator
	filter    *filter.Engine
	trackers  *location.Pool
}

// NewAdminHandler creates an admin handler. filter is the engine behind the
// published map snapshot.
func NewAdminHandler(machine *presence.Machine, types *registry.Registry, stats *dashboard.Service,
	sim *simulator.Simulator, f *filter.Engine, trackers *location.Pool) *AdminHandler {
	return &AdminHandler{
		presence:  machine,
		types:     types,
		dashboard: stats,
		sim:       sim,
		filter:    f,
		trackers:  trackers,
	}
}

// Pending lists drivers awaiting approval.
func (h *AdminHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.presence.Pending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pending == nil {
		pending = []models.Vehicle{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// Approve approves a pending driver.
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	vehicle, err := h.presence.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

// Reject removes a pending driver.
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	if err := h.presence.Reject(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remove deletes a driver in any state.
func (h *AdminHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.trackers.Stop(id)
	if err := h.presence.Remove(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateDriver adds a driver with the approval and online flags given by the
// administrator.
func (h *AdminHandler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var rec presence.DriverRecord
	if !decodeJSON(w, r, &rec, false) {
		return
	}
	vehicle, err := h.presence.AdminCreate(r.Context(), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, vehicle)
}

// EditDriver replaces a driver's editable fields. Taking the driver offline
// ends live tracking.
func (h *AdminHandler) EditDriver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var rec presence.DriverRecord
	if !decodeJSON(w, r, &rec, false) {
		return
	}
	vehicle, err := h.presence.AdminEdit(r.Context(), id, rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !vehicle.Online {
		h.trackers.Stop(id)
	}
	writeJSON(w, http.StatusOK, vehicle)
}

// Stats returns the dashboard statistics.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dashboard.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Types lists every vehicle type including disabled ones.
func (h *AdminHandler) Types(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.types.All())
}

type typeUpdate struct {
	Enabled *bool  `json:"enabled"`
	Name    string `json:"name"`
	Icon    string `json:"icon"`
	Color   string `json:"color"`
}

// UpdateType enables or disables a type and edits its display settings.
func (h *AdminHandler) UpdateType(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseTypeID(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req typeUpdate
	if !decodeJSON(w, r, &req, false) {
		return
	}

	if req.Enabled != nil {
		if err := h.types.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Name != "" || req.Icon != "" || req.Color != "" {
		if err := h.types.UpdateDisplay(r.Context(), id, req.Name, req.Icon, req.Color); err != nil {
			writeError(w, r, err)
			return
		}
	}

	vt, _ := h.types.Lookup(id)
	log.WithFields(log.Fields{"vehicle_type": id, "enabled": vt.Enabled}).Info("Vehicle type updated")
	writeJSON(w, http.StatusOK, vt)
}

type filterState struct {
	Active    []models.TypeID `json:"active"`
	AllActive bool            `json:"all_active"`
}

func (h *AdminHandler) filterState() filterState {
	return filterState{Active: h.filter.Active(), AllActive: h.filter.AllActive()}
}

// Filter returns the filter applied to the published snapshot.
func (h *AdminHandler) Filter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.filterState())
}

// SetFilter replaces the active type set.
func (h *AdminHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Types []string `json:"types"`
	}
	if !decodeJSON(w, r, &req, false) {
		return
	}
	ids := make([]models.TypeID, 0, len(req.Types))
	for _, raw := range req.Types {
		id, err := models.ParseTypeID(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ids = append(ids, id)
	}
	if err := h.filter.SetActiveTypes(ids); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.filterState())
}

// ToggleFilterType flips one type in the active set.
func (h *AdminHandler) ToggleFilterType(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseTypeID(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.filter.ToggleType(id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.filterState())
}

// ToggleFilterAll shows every enabled type, or none when all were shown.
func (h *AdminHandler) ToggleFilterAll(w http.ResponseWriter, r *http.Request) {
	h.filter.ToggleAll()
	writeJSON(w, http.StatusOK, h.filterState())
}

// SimulationStatus reports the movement status.
func (h *AdminHandler) SimulationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.sim.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SetSimulation pauses or resumes movement.
func (h *AdminHandler) SetSimulation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Enabled == nil {
		writeError(w, r, &models.ValidationError{Field: "enabled", Reason: "required"})
		return
	}
	h.sim.SetEnabled(*req.Enabled)
	h.SimulationStatus(w, r)
}

// Tick runs one movement tick immediately.
func (h *AdminHandler) Tick(w http.ResponseWriter, r *http.Request) {
	result, err := h.sim.Tick(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ActivateDemo brings demo drivers online.
func (h *AdminHandler) ActivateDemo(w http.ResponseWriter, r *http.Request) {
	ids, err := h.sim.ActivateDemo(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"activated": ids, "count": len(ids)})
}
