// Package registry holds the set of vehicle types and their display and
// movement parameters.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/db"
	"github.com/ukydev/fleet-presence/internal/models"
)

// Registry is the enabled/disabled set of vehicle types. Changes are
// persisted to the document store when one is attached.
type Registry struct {
	docs  db.DocumentStore
	mu    sync.RWMutex
	types []models.VehicleType
}

// New creates an in-memory registry from types after validating them.
func New(types []models.VehicleType) (*Registry, error) {
	if err := validate(types); err != nil {
		return nil, err
	}
	out := make([]models.VehicleType, len(types))
	copy(out, types)
	return &Registry{types: out}, nil
}

// Load reads vehicle types from docs, seeding and persisting the default set
// when none are stored or the stored document cannot be decoded. Any other
// read failure is returned and nothing is written.
func Load(ctx context.Context, docs db.DocumentStore) (*Registry, error) {
	var types []models.VehicleType
	err := docs.Get(ctx, db.KeyVehicleTypes, &types)
	switch {
	case err == nil && len(types) > 0:
		if err := validate(types); err != nil {
			return nil, fmt.Errorf("stored vehicle types: %w", err)
		}
		return &Registry{docs: docs, types: types}, nil
	case errors.Is(err, db.ErrUndecodable):
		log.WithError(err).Warn("Vehicle types undecodable, reseeding defaults")
	case err != nil && !errors.Is(err, db.ErrNoDocument):
		return nil, fmt.Errorf("failed to load vehicle types: %w", err)
	}

	r := &Registry{docs: docs, types: models.DefaultVehicleTypes()}
	if err := r.persist(ctx); err != nil {
		return nil, err
	}
	log.WithField("count", len(r.types)).Info("Seeded default vehicle types")
	return r, nil
}

func validate(types []models.VehicleType) error {
	seen := make(map[models.TypeID]bool, len(types))
	for _, vt := range types {
		if !vt.ID.IsValid() {
			return &models.ValidationError{Field: "vehicle_type", Reason: fmt.Sprintf("unknown vehicle type %q", vt.ID)}
		}
		if seen[vt.ID] {
			return &models.ValidationError{Field: "vehicle_type", Reason: fmt.Sprintf("duplicate vehicle type %q", vt.ID)}
		}
		if vt.Step <= 0 {
			return &models.ValidationError{Field: "step", Reason: fmt.Sprintf("vehicle type %q needs a positive step", vt.ID)}
		}
		seen[vt.ID] = true
	}
	return nil
}

func (r *Registry) persist(ctx context.Context) error {
	if r.docs == nil {
		return nil
	}
	if err := r.docs.Set(ctx, db.KeyVehicleTypes, r.types); err != nil {
		return fmt.Errorf("failed to save vehicle types: %w", err)
	}
	return nil
}

// Lookup returns the type with the given id.
func (r *Registry) Lookup(id models.TypeID) (models.VehicleType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, vt := range r.types {
		if vt.ID == id {
			return vt, true
		}
	}
	return models.VehicleType{}, false
}

// All returns every registered type in registry order.
func (r *Registry) All() []models.VehicleType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.VehicleType, len(r.types))
	copy(out, r.types)
	return out
}

// Enabled returns the enabled types in registry order.
func (r *Registry) Enabled() []models.VehicleType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.VehicleType
	for _, vt := range r.types {
		if vt.Enabled {
			out = append(out, vt)
		}
	}
	return out
}

// EnabledIDs returns the ids of the enabled types.
func (r *Registry) EnabledIDs() []models.TypeID {
	enabled := r.Enabled()
	ids := make([]models.TypeID, len(enabled))
	for i, vt := range enabled {
		ids[i] = vt.ID
	}
	return ids
}

// IsEnabled reports whether id is registered and enabled.
func (r *Registry) IsEnabled(id models.TypeID) bool {
	vt, ok := r.Lookup(id)
	return ok && vt.Enabled
}

// SetEnabled enables or disables a type. Vehicles of a disabled type are kept.
func (r *Registry) SetEnabled(ctx context.Context, id models.TypeID, enabled bool) error {
	return r.modify(ctx, id, func(vt *models.VehicleType) error {
		vt.Enabled = enabled
		return nil
	})
}

// UpdateDisplay changes the name, icon and color of a type. Empty values keep
// the current setting.
func (r *Registry) UpdateDisplay(ctx context.Context, id models.TypeID, name, icon, color string) error {
	return r.modify(ctx, id, func(vt *models.VehicleType) error {
		if name != "" {
			vt.Name = name
		}
		if icon != "" {
			vt.Icon = icon
		}
		if color != "" {
			vt.Color = color
		}
		return nil
	})
}

func (r *Registry) modify(ctx context.Context, id models.TypeID, fn func(*models.VehicleType) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.types {
		if r.types[i].ID != id {
			continue
		}
		prev := r.types[i]
		if err := fn(&r.types[i]); err != nil {
			return err
		}
		if err := r.persist(ctx); err != nil {
			r.types[i] = prev
			return err
		}
		return nil
	}
	return fmt.Errorf("vehicle type %s: %w", id, models.ErrNotFound)
}
