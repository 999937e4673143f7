package db

import (
	"context"
	"errors"

	"github.com/ukydev/fleet-presence/internal/models"
)

// Document keys.
const (
	KeyVehicles     = "vehicles"
	KeyVehicleTypes = "vehicleTypes"
	KeyAboutContent = "aboutContent"
	KeyEmailConfig  = "emailConfig"
)

// ErrNoDocument is returned by DocumentStore.Get when the key has never been set.
var ErrNoDocument = errors.New("document not found")

// ErrUndecodable marks a stored document that was read but could not be
// decoded. It is always wrapped together with models.ErrStorage.
var ErrUndecodable = errors.New("document undecodable")

// DocumentStore defines the key-value document interface the service persists through.
// Get decodes the stored value into out; unreadable values fail with
// models.ErrStorage, and values that cannot be decoded also match ErrUndecodable.
type DocumentStore interface {
	Get(ctx context.Context, key string, out interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
}

// VehicleStore defines the interface for vehicle record operations.
type VehicleStore interface {
	All(ctx context.Context) ([]models.Vehicle, error)
	Get(ctx context.Context, id string) (*models.Vehicle, error)
	FindByEmail(ctx context.Context, email string) (*models.Vehicle, error)
	Upsert(ctx context.Context, vehicle models.Vehicle) error
	Delete(ctx context.Context, id string) error
	// Update applies fn to the current record under the store's write lock and
	// persists the result. Nothing is written when fn returns an error.
	Update(ctx context.Context, id string, fn func(*models.Vehicle) error) (*models.Vehicle, error)
}
