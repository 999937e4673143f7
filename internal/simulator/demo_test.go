package simulator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-presence/internal/geofence"
	"github.com/ukydev/fleet-presence/internal/models"
)

func TestDemoFleet(t *testing.T) {
	fleet := DemoFleet(0, "hash", fixedNow)
	require.Len(t, fleet, len(demoDrivers))

	emails := map[string]bool{}
	for _, v := range fleet {
		assert.True(t, v.Approved, v.ID)
		assert.True(t, v.VehicleType.IsValid(), v.ID)
		require.NotNil(t, v.Location, v.ID)
		assert.True(t, geofence.Iraq().Contains(v.Location.Lat, v.Location.Lng), v.ID)
		assert.False(t, emails[v.Email], "duplicate email %s", v.Email)
		emails[v.Email] = true
		if v.VehicleType == models.TypeBus {
			assert.NotEmpty(t, v.RouteLabel(), v.ID)
		}
		assert.Equal(t, "hash", v.PasswordHash)
	}

	assert.Len(t, DemoFleet(3, "hash", fixedNow), 3)
	assert.Equal(t, "driver_001", fleet[0].ID)
}

func TestSeed_SkipsExistingEmails(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	fleet := DemoFleet(5, "hash", fixedNow)

	added, err := Seed(ctx, store, fleet)
	require.NoError(t, err)
	assert.Equal(t, 5, added)

	added, err = Seed(ctx, store, fleet)
	require.NoError(t, err)
	assert.Zero(t, added)

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestActivateDemo(t *testing.T) {
	ctx := context.Background()
	var fleet []models.Vehicle
	pending := onlineVehicle("pending", models.TypeTaxi, 33.3, 44.3)
	pending.Approved = false
	pending.Online = false
	fleet = append(fleet, pending)
	for i := 0; i < 7; i++ {
		v := onlineVehicle(fmt.Sprintf("off-%d", i), models.TypeVan, 33.3, 44.3)
		v.Online = false
		if i == 0 {
			v.Location = nil
		}
		if i == 1 {
			v.Location = &models.Location{Lat: 10, Lng: 10}
		}
		fleet = append(fleet, v)
	}
	store := newStore(t, fleet...)
	sim := newSimulator(store, newRegistry(t), geofence.Iraq(), 5)

	ids, err := sim.ActivateDemo(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"off-0", "off-1", "off-2", "off-3", "off-4"}, ids)

	all, err := store.All(ctx)
	require.NoError(t, err)
	online := 0
	for _, v := range all {
		if !v.Online {
			continue
		}
		online++
		assert.True(t, v.Approved)
		require.NotNil(t, v.Location)
		assert.True(t, geofence.Iraq().Contains(v.Location.Lat, v.Location.Lng), v.ID)
	}
	assert.Equal(t, MaxActivated, online)

	got, err := store.Get(ctx, "pending")
	require.NoError(t, err)
	assert.False(t, got.Online)

	ids, err = sim.ActivateDemo(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"off-5", "off-6"}, ids)

	ids, err = sim.ActivateDemo(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
