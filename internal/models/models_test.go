package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTypeID(t *testing.T) {
	id, err := ParseTypeID(" Tuk-Tuk ")
	require.NoError(t, err)
	assert.Equal(t, TypeTukTuk, id)

	_, err = ParseTypeID("sedan")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestDefaultVehicleTypes(t *testing.T) {
	types := DefaultVehicleTypes()
	require.Len(t, types, len(AllTypeIDs))

	seen := map[TypeID]bool{}
	for _, vt := range types {
		assert.False(t, seen[vt.ID], "duplicate id %s", vt.ID)
		seen[vt.ID] = true
		assert.True(t, vt.ID.IsValid())
		assert.True(t, vt.Enabled)
		assert.Greater(t, vt.Step, 0.0)
	}

	for _, vt := range types {
		switch vt.ID {
		case TypeTaxi:
			assert.True(t, vt.RequiresApproval)
		case TypeBus:
			assert.True(t, vt.RequiresRoute)
			assert.Equal(t, 0.001, vt.Step)
		default:
			assert.False(t, vt.RequiresApproval)
		}
	}
}

func TestVehicle_RouteLabelAndVisible(t *testing.T) {
	v := Vehicle{RouteFrom: "Tahrir Square", RouteTo: "Baghdad Airport"}
	assert.Equal(t, "Tahrir Square → Baghdad Airport", v.RouteLabel())
	assert.False(t, v.Visible())

	v.Approved, v.Online = true, true
	assert.False(t, v.Visible(), "no location")
	v.Location = &Location{Lat: 33.3, Lng: 44.4}
	assert.True(t, v.Visible())

	v.RouteTo = ""
	assert.Empty(t, v.RouteLabel())
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "email", Reason: "required"}
	assert.Equal(t, "email: required", err.Error())
	assert.ErrorIs(t, err, ErrValidation)
}
