package models

// Role represents the kind of principal behind a session
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDriver Role = "driver"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token   string   `json:"token"`
	Role    Role     `json:"role"`
	Vehicle *Vehicle `json:"vehicle,omitempty"`
}

// Claims represents JWT claims
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Role    Role   `json:"role"`
	Exp     int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleDriver:
		return true
	default:
		return false
	}
}

// HasPermission checks if the session may perform an action
func (c *Claims) HasPermission(action string) bool {
	switch c.Role {
	case RoleAdmin:
		return true
	case RoleDriver:
		return action == "view_vehicles" || action == "update_presence"
	default:
		return false
	}
}

// CanActFor reports whether the session may change presence of the given vehicle.
func (c *Claims) CanActFor(vehicleID string) bool {
	if c.Role == RoleAdmin {
		return true
	}
	return c.Role == RoleDriver && c.Subject == vehicleID
}
