package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrOutsideGeofence     = errors.New("location outside geofence")
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrLocationTimeout     = errors.New("location request timed out")
	ErrNotFound            = errors.New("not found")
	ErrStorage             = errors.New("storage unreadable")
	ErrNotApproved         = errors.New("vehicle not approved")
	ErrInvalidTransition   = errors.New("invalid presence transition")
	ErrDuplicate           = errors.New("already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)

// ValidationError describes malformed or incomplete input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
