package models

import (
	"fmt"
	"strings"
)

// TypeID identifies a vehicle category. The set of categories is closed;
// ParseTypeID rejects anything outside it.
type TypeID string

const (
	TypeTaxi    TypeID = "taxi"
	TypeMinibus TypeID = "minibus"
	TypeTukTuk  TypeID = "tuk-tuk"
	TypeVan     TypeID = "van"
	TypeBus     TypeID = "bus"
)

// AllTypeIDs lists every known category in display order.
var AllTypeIDs = []TypeID{TypeTaxi, TypeMinibus, TypeTukTuk, TypeVan, TypeBus}

// IsValid reports whether id is one of the known categories.
func (id TypeID) IsValid() bool {
	switch id {
	case TypeTaxi, TypeMinibus, TypeTukTuk, TypeVan, TypeBus:
		return true
	default:
		return false
	}
}

// ParseTypeID converts a raw string into a TypeID.
func ParseTypeID(s string) (TypeID, error) {
	id := TypeID(strings.ToLower(strings.TrimSpace(s)))
	if !id.IsValid() {
		return "", &ValidationError{Field: "vehicle_type", Reason: fmt.Sprintf("unknown vehicle type %q", s)}
	}
	return id, nil
}

// VehicleType holds the display and movement parameters of a category.
type VehicleType struct {
	ID               TypeID  `bson:"id" json:"id"`
	Name             string  `bson:"name" json:"name"`
	Icon             string  `bson:"icon" json:"icon"`
	Color            string  `bson:"color" json:"color"`
	Enabled          bool    `bson:"enabled" json:"enabled"`
	Step             float64 `bson:"step" json:"step"` // degrees per movement tick
	RequiresApproval bool    `bson:"requires_approval" json:"requires_approval"`
	RequiresRoute    bool    `bson:"requires_route" json:"requires_route"`
	ShowsRoute       bool    `bson:"shows_route" json:"shows_route"`
}

// DefaultVehicleTypes returns the seed set used when no types are stored yet.
func DefaultVehicleTypes() []VehicleType {
	return []VehicleType{
		{ID: TypeTaxi, Name: "Taxi", Icon: "🚕", Color: "#FFD700", Enabled: true, Step: 0.005, RequiresApproval: true},
		{ID: TypeMinibus, Name: "Minibus", Icon: "🚐", Color: "#4CAF50", Enabled: true, Step: 0.003, ShowsRoute: true},
		{ID: TypeTukTuk, Name: "Tuk-tuk", Icon: "🛺", Color: "#FF9800", Enabled: true, Step: 0.002},
		{ID: TypeVan, Name: "Van", Icon: "🚐", Color: "#2196F3", Enabled: true, Step: 0.004},
		{ID: TypeBus, Name: "Bus", Icon: "🚌", Color: "#F44336", Enabled: true, Step: 0.001, RequiresRoute: true, ShowsRoute: true},
	}
}
