// Package filter selects which vehicles are visible on the map by type.
package filter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ukydev/fleet-presence/internal/models"
	"github.com/ukydev/fleet-presence/internal/registry"
)

// Engine holds the active type filter. The active set starts as every enabled
// type; an explicitly empty set hides every vehicle.
type Engine struct {
	types *registry.Registry

	mu     sync.RWMutex
	active map[models.TypeID]bool
}

// New creates an engine with all enabled types active.
func New(types *registry.Registry) *Engine {
	e := &Engine{types: types, active: map[models.TypeID]bool{}}
	for _, id := range types.EnabledIDs() {
		e.active[id] = true
	}
	return e
}

// ParseTypes builds an engine from a comma separated list such as
// "taxi,bus". An empty list activates every enabled type.
func ParseTypes(types *registry.Registry, list string) (*Engine, error) {
	e := New(types)
	list = strings.TrimSpace(list)
	if list == "" {
		return e, nil
	}
	var ids []models.TypeID
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := models.ParseTypeID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := e.SetActiveTypes(ids); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) checkEnabled(id models.TypeID) error {
	if !e.types.IsEnabled(id) {
		return fmt.Errorf("vehicle type %q: %w", id, models.ErrNotFound)
	}
	return nil
}

// SetActiveTypes replaces the active set. Unknown or disabled ids are
// rejected and leave the set unchanged.
func (e *Engine) SetActiveTypes(ids []models.TypeID) error {
	next := make(map[models.TypeID]bool, len(ids))
	for _, id := range ids {
		if err := e.checkEnabled(id); err != nil {
			return err
		}
		next[id] = true
	}
	e.mu.Lock()
	e.active = next
	e.mu.Unlock()
	return nil
}

// ToggleType flips the membership of id in the active set.
func (e *Engine) ToggleType(id models.TypeID) error {
	if err := e.checkEnabled(id); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[id] {
		delete(e.active, id)
	} else {
		e.active[id] = true
	}
	return nil
}

// ToggleAll clears the active set when every enabled type is active and
// activates every enabled type otherwise.
func (e *Engine) ToggleAll() {
	enabled := e.types.EnabledIDs()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.allActiveLocked(enabled) {
		e.active = map[models.TypeID]bool{}
		return
	}
	e.active = make(map[models.TypeID]bool, len(enabled))
	for _, id := range enabled {
		e.active[id] = true
	}
}

// AllActive reports whether every enabled type is in the active set.
func (e *Engine) AllActive() bool {
	enabled := e.types.EnabledIDs()
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.allActiveLocked(enabled)
}

func (e *Engine) allActiveLocked(enabled []models.TypeID) bool {
	for _, id := range enabled {
		if !e.active[id] {
			return false
		}
	}
	return true
}

// Active returns the active enabled type ids in registry order.
func (e *Engine) Active() []models.TypeID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []models.TypeID{}
	for _, vt := range e.types.Enabled() {
		if e.active[vt.ID] {
			out = append(out, vt.ID)
		}
	}
	return out
}

// IsActive reports whether vehicles of type id are shown.
func (e *Engine) IsActive(id models.TypeID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active[id] && e.types.IsEnabled(id)
}

// VisibleVehicles returns, in input order, the vehicles that are approved,
// online, located and of an active enabled type.
func (e *Engine) VisibleVehicles(vehicles []models.Vehicle) []models.Vehicle {
	shown := map[models.TypeID]bool{}
	for _, id := range e.Active() {
		shown[id] = true
	}
	out := []models.Vehicle{}
	for i := range vehicles {
		v := &vehicles[i]
		if v.Visible() && shown[v.VehicleType] {
			out = append(out, *v)
		}
	}
	return out
}
