package filter

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-presence/internal/models"
	"github.com/ukydev/fleet-presence/internal/registry"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New(models.DefaultVehicleTypes())
	require.NoError(t, err)
	return r
}

func vehicle(id string, vt models.TypeID, approved, online, located bool) models.Vehicle {
	v := models.Vehicle{ID: id, VehicleType: vt, Approved: approved, Online: online}
	if located {
		v.Location = &models.Location{Lat: 33.3, Lng: 44.3}
	}
	return v
}

func ids(vehicles []models.Vehicle) []string {
	out := []string{}
	for _, v := range vehicles {
		out = append(out, v.ID)
	}
	return out
}

func TestNew_AllEnabledActive(t *testing.T) {
	e := New(newRegistry(t))
	assert.True(t, e.AllActive())
	assert.Equal(t, models.AllTypeIDs, e.Active())
}

func TestToggleType_HidesTaxis(t *testing.T) {
	fleet := []models.Vehicle{
		vehicle("taxi-1", models.TypeTaxi, true, true, true),
		vehicle("van-1", models.TypeVan, true, true, true),
		vehicle("taxi-2", models.TypeTaxi, true, true, true),
		vehicle("van-2", models.TypeVan, true, true, true),
		vehicle("van-3", models.TypeVan, true, true, true),
	}
	e := New(newRegistry(t))
	require.NoError(t, e.ToggleType(models.TypeTaxi))

	assert.Equal(t, []string{"van-1", "van-2", "van-3"}, ids(e.VisibleVehicles(fleet)))
	assert.False(t, e.AllActive())
	assert.False(t, e.IsActive(models.TypeTaxi))

	require.NoError(t, e.ToggleType(models.TypeTaxi))
	assert.Len(t, e.VisibleVehicles(fleet), 5)
	assert.True(t, e.AllActive())
}

func TestToggleType_UnknownOrDisabled(t *testing.T) {
	types := newRegistry(t)
	require.NoError(t, types.SetEnabled(context.Background(), models.TypeBus, false))
	e := New(types)

	assert.ErrorIs(t, e.ToggleType("sedan"), models.ErrNotFound)
	assert.ErrorIs(t, e.ToggleType(models.TypeBus), models.ErrNotFound)
	assert.ErrorIs(t, e.SetActiveTypes([]models.TypeID{models.TypeVan, models.TypeBus}), models.ErrNotFound)
	assert.True(t, e.AllActive(), "failed calls leave the set unchanged")
}

func TestToggleAll(t *testing.T) {
	fleet := []models.Vehicle{
		vehicle("taxi", models.TypeTaxi, true, true, true),
		vehicle("bus", models.TypeBus, true, true, true),
	}
	e := New(newRegistry(t))

	e.ToggleAll()
	assert.Empty(t, e.Active())
	assert.Empty(t, e.VisibleVehicles(fleet), "empty set shows nothing")

	e.ToggleAll()
	assert.True(t, e.AllActive())
	assert.Len(t, e.VisibleVehicles(fleet), 2)

	require.NoError(t, e.SetActiveTypes([]models.TypeID{models.TypeBus}))
	e.ToggleAll()
	assert.True(t, e.AllActive(), "partial set becomes the full enabled set")
}

func TestDisabledTypeIsHidden(t *testing.T) {
	types := newRegistry(t)
	e := New(types)
	fleet := []models.Vehicle{
		vehicle("taxi", models.TypeTaxi, true, true, true),
		vehicle("bus", models.TypeBus, true, true, true),
	}
	require.NoError(t, types.SetEnabled(context.Background(), models.TypeBus, false))

	assert.Equal(t, []string{"taxi"}, ids(e.VisibleVehicles(fleet)))
	assert.NotContains(t, e.Active(), models.TypeBus)
	assert.True(t, e.AllActive())
}

func TestParseTypes(t *testing.T) {
	types := newRegistry(t)

	e, err := ParseTypes(types, "")
	require.NoError(t, err)
	assert.True(t, e.AllActive())

	e, err = ParseTypes(types, " Taxi, bus ,")
	require.NoError(t, err)
	assert.Equal(t, []models.TypeID{models.TypeTaxi, models.TypeBus}, e.Active())

	_, err = ParseTypes(types, "taxi,sedan")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestVisibleVehicles_MatchesDefinition(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	types := newRegistry(t)

	for round := 0; round < 50; round++ {
		var fleet []models.Vehicle
		for i := 0; i < 20; i++ {
			vt := models.AllTypeIDs[rng.IntN(len(models.AllTypeIDs))]
			fleet = append(fleet, vehicle(fmt.Sprintf("v%d", i), vt, rng.IntN(2) == 0, rng.IntN(2) == 0, rng.IntN(4) != 0))
		}
		var active []models.TypeID
		for _, id := range models.AllTypeIDs {
			if rng.IntN(2) == 0 {
				active = append(active, id)
			}
		}
		e := New(types)
		require.NoError(t, e.SetActiveTypes(active))

		inActive := map[models.TypeID]bool{}
		for _, id := range active {
			inActive[id] = true
		}
		want := []string{}
		for _, v := range fleet {
			if v.Approved && v.Online && v.Location != nil && inActive[v.VehicleType] {
				want = append(want, v.ID)
			}
		}

		first := e.VisibleVehicles(fleet)
		assert.Equal(t, want, ids(first))
		assert.Equal(t, first, e.VisibleVehicles(fleet))
	}
}
