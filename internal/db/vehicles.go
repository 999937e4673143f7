package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/models"
)

// VehicleRepository keeps the ordered vehicle collection as a single document.
// All writes go through one mutex so concurrent updaters never interleave a
// read-modify-write of the collection.
type VehicleRepository struct {
	docs DocumentStore
	mu   sync.Mutex
}

// NewVehicleRepository creates a vehicle store over docs.
func NewVehicleRepository(docs DocumentStore) *VehicleRepository {
	return &VehicleRepository{docs: docs}
}

// load reads the collection for queries. Absent and unreadable documents
// both yield an empty collection; the latter is logged.
func (r *VehicleRepository) load(ctx context.Context) []models.Vehicle {
	vehicles, err := r.loadForWrite(ctx)
	if err != nil {
		log.WithError(err).Warn("Vehicle collection unreadable, treating as empty")
		return nil
	}
	return vehicles
}

// loadForWrite reads the collection before a write. Only an absent document
// counts as empty: an unreadable one fails so it is never overwritten.
func (r *VehicleRepository) loadForWrite(ctx context.Context) ([]models.Vehicle, error) {
	var vehicles []models.Vehicle
	err := r.docs.Get(ctx, KeyVehicles, &vehicles)
	switch {
	case err == nil:
		return vehicles, nil
	case errors.Is(err, ErrNoDocument):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to load vehicles: %w", err)
	}
}

func (r *VehicleRepository) save(ctx context.Context, vehicles []models.Vehicle) error {
	if vehicles == nil {
		vehicles = []models.Vehicle{}
	}
	if err := r.docs.Set(ctx, KeyVehicles, vehicles); err != nil {
		return fmt.Errorf("failed to save vehicles: %w", err)
	}
	return nil
}

// All returns every vehicle in store order.
func (r *VehicleRepository) All(ctx context.Context) ([]models.Vehicle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vehicles := r.load(ctx)
	out := make([]models.Vehicle, len(vehicles))
	for i := range vehicles {
		out[i] = clone(vehicles[i])
	}
	return out, nil
}

// Get returns the vehicle with the given id.
func (r *VehicleRepository) Get(ctx context.Context, id string) (*models.Vehicle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vehicles := r.load(ctx)
	i := indexOf(vehicles, id)
	if i < 0 {
		return nil, fmt.Errorf("vehicle %s: %w", id, models.ErrNotFound)
	}
	v := clone(vehicles[i])
	return &v, nil
}

// FindByEmail returns the vehicle registered with email, compared case-insensitively.
func (r *VehicleRepository) FindByEmail(ctx context.Context, email string) (*models.Vehicle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.load(ctx) {
		if strings.EqualFold(v.Email, email) {
			out := clone(v)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("vehicle with email %s: %w", email, models.ErrNotFound)
}

// Upsert replaces the vehicle with the same id or appends it.
func (r *VehicleRepository) Upsert(ctx context.Context, vehicle models.Vehicle) error {
	if vehicle.ID == "" {
		return &models.ValidationError{Field: "id", Reason: "required"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	vehicles, err := r.loadForWrite(ctx)
	if err != nil {
		return err
	}
	if i := indexOf(vehicles, vehicle.ID); i >= 0 {
		vehicles[i] = clone(vehicle)
	} else {
		vehicles = append(vehicles, clone(vehicle))
	}
	return r.save(ctx, vehicles)
}

// Delete removes the vehicle with the given id.
func (r *VehicleRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	vehicles, err := r.loadForWrite(ctx)
	if err != nil {
		return err
	}
	i := indexOf(vehicles, id)
	if i < 0 {
		return fmt.Errorf("vehicle %s: %w", id, models.ErrNotFound)
	}
	vehicles = append(vehicles[:i], vehicles[i+1:]...)
	return r.save(ctx, vehicles)
}

// Update applies fn to the stored record and persists the result.
func (r *VehicleRepository) Update(ctx context.Context, id string, fn func(*models.Vehicle) error) (*models.Vehicle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vehicles, err := r.loadForWrite(ctx)
	if err != nil {
		return nil, err
	}
	i := indexOf(vehicles, id)
	if i < 0 {
		return nil, fmt.Errorf("vehicle %s: %w", id, models.ErrNotFound)
	}

	v := clone(vehicles[i])
	if err := fn(&v); err != nil {
		return nil, err
	}
	v.ID = id
	vehicles[i] = v
	if err := r.save(ctx, vehicles); err != nil {
		return nil, err
	}
	out := clone(v)
	return &out, nil
}

func indexOf(vehicles []models.Vehicle, id string) int {
	for i := range vehicles {
		if vehicles[i].ID == id {
			return i
		}
	}
	return -1
}

func clone(v models.Vehicle) models.Vehicle {
	if v.Location != nil {
		loc := *v.Location
		v.Location = &loc
	}
	return v
}
