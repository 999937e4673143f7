package models

import "time"

// OfflineReason records why a vehicle was taken offline without operator action.
type OfflineReason string

const (
	OfflineOutsideGeofence     OfflineReason = "outside_geofence"
	OfflinePermissionDenied    OfflineReason = "permission_denied"
	OfflinePositionUnavailable OfflineReason = "position_unavailable"
)

// Vehicle represents a registered driver and the vehicle they operate.
type Vehicle struct {
	ID            string        `bson:"id" json:"id"`
	Name          string        `bson:"name" json:"name"`
	Email         string        `bson:"email" json:"email"`
	Phone         string        `bson:"phone" json:"phone"`
	LicenseNumber string        `bson:"license_number" json:"license_number"`
	Plate         string        `bson:"plate" json:"plate"`
	VehicleType   TypeID        `bson:"vehicle_type" json:"vehicle_type"`
	RouteFrom     string        `bson:"route_from,omitempty" json:"route_from,omitempty"`
	RouteTo       string        `bson:"route_to,omitempty" json:"route_to,omitempty"`
	TaxiNumber    string        `bson:"taxi_number,omitempty" json:"taxi_number,omitempty"`
	PasswordHash  string        `bson:"password_hash" json:"-"`
	Governorate   string        `bson:"governorate,omitempty" json:"governorate,omitempty"`
	Location      *Location     `bson:"location,omitempty" json:"location,omitempty"`
	Approved      bool          `bson:"approved" json:"approved"`
	Online        bool          `bson:"online" json:"online"`
	OfflineReason OfflineReason `bson:"offline_reason,omitempty" json:"offline_reason,omitempty"`
	RegisteredAt  time.Time     `bson:"registered_at" json:"registered_at"`
	LastSeen      time.Time     `bson:"last_seen" json:"last_seen"`
}

// HasLocation reports whether a position has been recorded for the vehicle.
func (v *Vehicle) HasLocation() bool {
	return v.Location != nil
}

// Visible reports whether the vehicle is eligible to appear on the public map.
func (v *Vehicle) Visible() bool {
	return v.Approved && v.Online && v.Location != nil
}

// RouteLabel returns "from → to" when both route ends are set.
func (v *Vehicle) RouteLabel() string {
	if v.RouteFrom == "" || v.RouteTo == "" {
		return ""
	}
	return v.RouteFrom + " → " + v.RouteTo
}
