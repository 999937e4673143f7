package presence

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-presence/internal/db"
	"github.com/ukydev/fleet-presence/internal/geofence"
	"github.com/ukydev/fleet-presence/internal/models"
	"github.com/ukydev/fleet-presence/internal/notify"
	"github.com/ukydev/fleet-presence/internal/registry"
	"golang.org/x/crypto/bcrypt"
)

// MockNotifier is a mock implementation of notify.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event notify.Event, v models.Vehicle) error {
	args := m.Called(ctx, event, v)
	return args.Error(0)
}

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	machine  *Machine
	store    *db.VehicleRepository
	notifier *MockNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	types, err := registry.New(models.DefaultVehicleTypes())
	require.NoError(t, err)

	store := db.NewVehicleRepository(db.NewMemoryDocuments())
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	seq := 0
	m := New(store, types, geofence.Iraq(), notifier,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("v%d", seq) }),
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithHashCost(bcrypt.MinCost),
	)
	return &fixture{machine: m, store: store, notifier: notifier}
}

func validRegistration(vehicleType string) Registration {
	return Registration{
		Name:          "Sara Al-Mansouri",
		Email:         "sara." + vehicleType + "@example.com",
		Phone:         "07801234570",
		LicenseNumber: "BG001237",
		Plate:         "بغداد 3456",
		VehicleType:   vehicleType,
		Password:      "demo123",
		Location:      &models.Location{Lat: 33.3152, Lng: 44.3661},
	}
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, PendingApproval, StateOf(models.Vehicle{}))
	assert.Equal(t, ApprovedOffline, StateOf(models.Vehicle{Approved: true}))
	assert.Equal(t, ApprovedOnline, StateOf(models.Vehicle{Approved: true, Online: true}))
	assert.Equal(t, "approved_online", ApprovedOnline.String())
}

func TestRegister_VanIsAutoApproved(t *testing.T) {
	f := newFixture(t)
	v, err := f.machine.Register(context.Background(), validRegistration("van"))
	require.NoError(t, err)

	assert.True(t, v.Approved)
	assert.False(t, v.Online)
	assert.Equal(t, ApprovedOffline, StateOf(*v))
	assert.Equal(t, models.TypeVan, v.VehicleType)
	require.NotNil(t, v.Location)
	assert.Equal(t, 33.3152, v.Location.Lat)
	assert.Equal(t, fixedNow, v.RegisteredAt)
	assert.NotEqual(t, "demo123", v.PasswordHash)

	stored, err := f.store.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, stored.ID)

	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.EventRegistered, mock.Anything)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.EventAdminAlert, mock.Anything)
}

func TestRegister_TaxiNeedsApproval(t *testing.T) {
	f := newFixture(t)
	v, err := f.machine.Register(context.Background(), validRegistration("taxi"))
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.False(t, v.Online)
	assert.Equal(t, PendingApproval, StateOf(*v))
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Registration)
		field  string
	}{
		{"missing name", func(r *Registration) { r.Name = "  " }, "name"},
		{"missing plate", func(r *Registration) { r.Plate = "" }, "plate"},
		{"bad email", func(r *Registration) { r.Email = "nobody" }, "email"},
		{"short password", func(r *Registration) { r.Password = "abc" }, "password"},
		{"unknown type", func(r *Registration) { r.VehicleType = "sedan" }, "vehicle_type"},
		{"bus without route", func(r *Registration) { r.VehicleType = "bus"; r.RouteTo = "" }, "route"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			reg := validRegistration("van")
			reg.RouteFrom = "Tahrir Square"
			reg.RouteTo = "Baghdad Airport"
			tt.mutate(&reg)

			_, err := f.machine.Register(context.Background(), reg)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrValidation)
			var verr *models.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)

			all, _ := f.store.All(context.Background())
			assert.Empty(t, all, "nothing stored on validation failure")
			f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRegister_BusWithRoute(t *testing.T) {
	f := newFixture(t)
	reg := validRegistration("bus")
	reg.RouteFrom = "Tahrir Square"
	reg.RouteTo = "Baghdad Airport"
	v, err := f.machine.Register(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, "Tahrir Square → Baghdad Airport", v.RouteLabel())
}

func TestRegister_DisabledTypeRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.machine.types.SetEnabled(context.Background(), models.TypeTukTuk, false))
	_, err := f.machine.Register(context.Background(), validRegistration("tuk-tuk"))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRegister_OutsideGeofence(t *testing.T) {
	f := newFixture(t)
	reg := validRegistration("van")
	reg.Location = &models.Location{Lat: 10, Lng: 10}
	_, err := f.machine.Register(context.Background(), reg)
	assert.ErrorIs(t, err, models.ErrOutsideGeofence)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.machine.Register(context.Background(), validRegistration("van"))
	require.NoError(t, err)
	_, err = f.machine.Register(context.Background(), validRegistration("van"))
	assert.ErrorIs(t, err, models.ErrDuplicate)
}

func TestRegister_NotificationFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	failing := new(MockNotifier)
	failing.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	f.machine.notifier = failing

	v, err := f.machine.Register(context.Background(), validRegistration("van"))
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
	failing.AssertNumberOfCalls(t, "Notify", 2)
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reg := validRegistration("taxi")
	reg.Location = nil
	v, err := f.machine.Register(ctx, reg)
	require.NoError(t, err)

	approved, err := f.machine.Approve(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovedOffline, StateOf(*approved))
	require.NotNil(t, approved.Location, "approval seeds a position")
	assert.True(t, geofence.Iraq().Contains(approved.Location.Lat, approved.Location.Lng))
	assert.InDelta(t, geofence.Baghdad.Lat, approved.Location.Lat, 0.05)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.EventApproved, mock.Anything)

	_, err = f.machine.Approve(ctx, v.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.machine.Approve(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestApprove_NotificationFailureKeepsTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v, err := f.machine.Register(ctx, validRegistration("taxi"))
	require.NoError(t, err)

	failing := new(MockNotifier)
	failing.On("Notify", mock.Anything, notify.EventApproved, mock.Anything).Return(errors.New("smtp down"))
	f.machine.notifier = failing

	_, err = f.machine.Approve(ctx, v.ID)
	require.NoError(t, err)
	stored, err := f.store.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, stored.Approved)
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	taxi, err := f.machine.Register(ctx, validRegistration("taxi"))
	require.NoError(t, err)
	van, err := f.machine.Register(ctx, validRegistration("van"))
	require.NoError(t, err)

	require.NoError(t, f.machine.Reject(ctx, taxi.ID))
	_, err = f.store.Get(ctx, taxi.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, f.machine.Reject(ctx, van.ID), models.ErrInvalidTransition)
	assert.ErrorIs(t, f.machine.Reject(ctx, "missing"), models.ErrNotFound)

	require.NoError(t, f.machine.Remove(ctx, van.ID))
	assert.ErrorIs(t, f.machine.Remove(ctx, van.ID), models.ErrNotFound)
}

func TestGoOnline(t *testing.T) {
	ctx := context.Background()

	t.Run("inside geofence", func(t *testing.T) {
		f := newFixture(t)
		v, err := f.machine.Register(ctx, validRegistration("van"))
		require.NoError(t, err)

		online, err := f.machine.GoOnline(ctx, v.ID, models.Location{Lat: 33.34, Lng: 44.40})
		require.NoError(t, err)
		assert.Equal(t, ApprovedOnline, StateOf(*online))
		assert.Equal(t, 33.34, online.Location.Lat)
		assert.Equal(t, fixedNow, online.Location.Timestamp)
		assert.Equal(t, fixedNow, online.LastSeen)

		_, err = f.machine.GoOnline(ctx, v.ID, models.Location{Lat: 33.34, Lng: 44.40})
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("outside geofence stays offline", func(t *testing.T) {
		f := newFixture(t)
		v, err := f.machine.Register(ctx, validRegistration("van"))
		require.NoError(t, err)

		_, err = f.machine.GoOnline(ctx, v.ID, models.Location{Lat: 10.0, Lng: 10.0})
		assert.ErrorIs(t, err, models.ErrOutsideGeofence)

		stored, err := f.store.Get(ctx, v.ID)
		require.NoError(t, err)
		assert.False(t, stored.Online)
		assert.Equal(t, v.Location, stored.Location, "location unchanged")
	})

	t.Run("pending vehicle cannot go online", func(t *testing.T) {
		f := newFixture(t)
		v, err := f.machine.Register(ctx, validRegistration("taxi"))
		require.NoError(t, err)

		_, err = f.machine.GoOnline(ctx, v.ID, models.Location{Lat: 33.34, Lng: 44.40})
		assert.ErrorIs(t, err, models.ErrNotApproved)
		stored, _ := f.store.Get(ctx, v.ID)
		assert.False(t, stored.Online)
	})

	t.Run("unknown vehicle", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.machine.GoOnline(ctx, "missing", models.Location{Lat: 33.34, Lng: 44.40})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestGoOffline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v, err := f.machine.Register(ctx, validRegistration("van"))
	require.NoError(t, err)
	_, err = f.machine.GoOnline(ctx, v.ID, models.Location{Lat: 33.34, Lng: 44.40})
	require.NoError(t, err)

	off, err := f.machine.GoOffline(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovedOffline, StateOf(*off))

	off, err = f.machine.GoOffline(ctx, v.ID)
	require.NoError(t, err, "going offline twice succeeds")
	assert.False(t, off.Online)
}

func TestUpdateLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v, err := f.machine.Register(ctx, validRegistration("van"))
	require.NoError(t, err)
	_, err = f.machine.GoOnline(ctx, v.ID, models.Location{Lat: 33.34, Lng: 44.40})
	require.NoError(t, err)

	moved, err := f.machine.UpdateLocation(ctx, v.ID, models.Location{Lat: 33.35, Lng: 44.41})
	require.NoError(t, err)
	assert.Equal(t, 33.35, moved.Location.Lat)
	assert.True(t, moved.Online)

	forced, err := f.machine.UpdateLocation(ctx, v.ID, models.Location{Lat: 10, Lng: 10})
	assert.ErrorIs(t, err, models.ErrOutsideGeofence)
	require.NotNil(t, forced)
	assert.False(t, forced.Online)
	assert.Equal(t, models.OfflineOutsideGeofence, forced.OfflineReason)
	assert.Equal(t, 33.35, forced.Location.Lat, "last valid position kept")

	_, err = f.machine.UpdateLocation(ctx, v.ID, models.Location{Lat: 10, Lng: 10})
	assert.ErrorIs(t, err, models.ErrOutsideGeofence)

	back, err := f.machine.GoOnline(ctx, v.ID, models.Location{Lat: 33.34, Lng: 44.40})
	require.NoError(t, err)
	assert.Empty(t, back.OfflineReason)
}

func TestLocationFailed(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		cause      error
		wantForced bool
		reason     models.OfflineReason
	}{
		{"permission denied", fmt.Errorf("device: %w", models.ErrPermissionDenied), true, models.OfflinePermissionDenied},
		{"unavailable", models.ErrLocationUnavailable, true, models.OfflinePositionUnavailable},
		{"timeout", models.ErrLocationTimeout, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			v, err := f.machine.Register(ctx, validRegistration("van"))
			require.NoError(t, err)
			_, err = f.machine.GoOnline(ctx, v.ID, models.Location{Lat: 33.34, Lng: 44.40})
			require.NoError(t, err)

			forced, err := f.machine.LocationFailed(ctx, v.ID, tt.cause)
			require.NoError(t, err)
			assert.Equal(t, tt.wantForced, forced)

			stored, err := f.store.Get(ctx, v.ID)
			require.NoError(t, err)
			assert.Equal(t, !tt.wantForced, stored.Online)
			assert.Equal(t, tt.reason, stored.OfflineReason)

			again, err := f.machine.LocationFailed(ctx, v.ID, tt.cause)
			require.NoError(t, err)
			assert.False(t, again, "already offline")
		})
	}
}

func TestForceOffline_ReportsChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v, err := f.machine.Register(ctx, validRegistration("van"))
	require.NoError(t, err)

	_, forced, err := f.machine.ForceOffline(ctx, v.ID, models.OfflinePermissionDenied)
	require.NoError(t, err)
	assert.False(t, forced, "offline vehicle is left alone")

	_, err = f.machine.GoOnline(ctx, v.ID, models.Location{Lat: 33.34, Lng: 44.40})
	require.NoError(t, err)
	got, forced, err := f.machine.ForceOffline(ctx, v.ID, models.OfflinePermissionDenied)
	require.NoError(t, err)
	assert.True(t, forced)
	assert.False(t, got.Online)
	assert.Equal(t, models.OfflinePermissionDenied, got.OfflineReason)

	_, _, err = f.machine.ForceOffline(ctx, "missing", models.OfflinePermissionDenied)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	van, err := f.machine.Register(ctx, validRegistration("van"))
	require.NoError(t, err)
	taxi, err := f.machine.Register(ctx, validRegistration("taxi"))
	require.NoError(t, err)

	got, err := f.machine.Authenticate(ctx, van.Email, "demo123")
	require.NoError(t, err)
	assert.Equal(t, van.ID, got.ID)

	_, err = f.machine.Authenticate(ctx, van.Email, "wrong-password")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = f.machine.Authenticate(ctx, "nobody@example.com", "demo123")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = f.machine.Authenticate(ctx, taxi.Email, "demo123")
	assert.ErrorIs(t, err, models.ErrNotApproved)

	pending, err := f.machine.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, taxi.ID, pending[0].ID)
}

func TestInvariants_OnlineImpliesApprovedAndInside(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	locs := []models.Location{{Lat: 33.34, Lng: 44.40}, {Lat: 10, Lng: 10}, {Lat: 30.5085, Lng: 47.7804}, {Lat: 29.37, Lng: 47.98}}
	for i, vt := range []string{"taxi", "van", "bus", "minibus", "tuk-tuk", "taxi"} {
		reg := validRegistration(vt)
		reg.Email = fmt.Sprintf("driver%d@example.com", i)
		reg.RouteFrom, reg.RouteTo = "A", "B"
		v, err := f.machine.Register(ctx, reg)
		require.NoError(t, err)
		_, _ = f.machine.GoOnline(ctx, v.ID, locs[i%len(locs)])
		_, _ = f.machine.UpdateLocation(ctx, v.ID, locs[(i+1)%len(locs)])
	}

	all, err := f.store.All(ctx)
	require.NoError(t, err)
	for _, v := range all {
		if v.Online {
			assert.True(t, v.Approved, v.ID)
			require.NotNil(t, v.Location, v.ID)
			assert.True(t, geofence.Iraq().Contains(v.Location.Lat, v.Location.Lng), v.ID)
		}
	}
}

func driverRecord(vehicleType string, approved, online bool) DriverRecord {
	reg := validRegistration(vehicleType)
	reg.Location = nil
	return DriverRecord{Registration: reg, Approved: approved, Online: online}
}

func TestAdminCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.machine.AdminCreate(ctx, driverRecord("taxi", true, true))
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.True(t, v.Online)
	assert.Equal(t, ApprovedOnline, StateOf(*v))
	require.NotNil(t, v.Location)
	assert.True(t, geofence.Iraq().Contains(v.Location.Lat, v.Location.Lng))
	assert.NotEmpty(t, v.Governorate, "placed near a named city")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(v.PasswordHash), []byte("demo123")))
	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.EventApproved, mock.Anything)

	stored, err := f.store.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, stored.Online)

	_, err = f.machine.AdminCreate(ctx, driverRecord("taxi", true, false))
	assert.ErrorIs(t, err, models.ErrDuplicate)

	pending := driverRecord("van", false, false)
	pending.Email = "pending@example.com"
	pending.Governorate = "Najaf"
	p, err := f.machine.AdminCreate(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, PendingApproval, StateOf(*p), "admin choice overrides the type default")
	assert.Equal(t, "Najaf", p.Governorate)
}

func TestAdminCreate_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	online := driverRecord("van", false, true)
	_, err := f.machine.AdminCreate(ctx, online)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "online", verr.Field)

	noPassword := driverRecord("van", true, false)
	noPassword.Password = ""
	_, err = f.machine.AdminCreate(ctx, noPassword)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)

	bus := driverRecord("bus", true, false)
	_, err = f.machine.AdminCreate(ctx, bus)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "route", verr.Field)

	outside := driverRecord("van", true, true)
	outside.Location = &models.Location{Lat: 29.3759, Lng: 47.9774}
	_, err = f.machine.AdminCreate(ctx, outside)
	assert.ErrorIs(t, err, models.ErrOutsideGeofence)

	all, err := f.store.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAdminEdit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v, err := f.machine.Register(ctx, validRegistration("taxi"))
	require.NoError(t, err)
	oldHash := v.PasswordHash

	rec := driverRecord("taxi", true, true)
	rec.Name = "Sara Al-Basri"
	rec.Password = ""
	edited, err := f.machine.AdminEdit(ctx, v.ID, rec)
	require.NoError(t, err)
	assert.Equal(t, "Sara Al-Basri", edited.Name)
	assert.Equal(t, ApprovedOnline, StateOf(*edited))
	assert.Equal(t, oldHash, edited.PasswordHash, "empty password keeps the current one")
	assert.Equal(t, 33.3152, edited.Location.Lat, "registered position kept")

	rec.Online = false
	rec.Approved = false
	rec.Password = "newpass1"
	edited, err = f.machine.AdminEdit(ctx, v.ID, rec)
	require.NoError(t, err)
	assert.Equal(t, PendingApproval, StateOf(*edited))
	assert.NotEqual(t, oldHash, edited.PasswordHash)

	rec.Approved, rec.Online = true, true
	rec.Location = &models.Location{Lat: 29.3759, Lng: 47.9774}
	_, err = f.machine.AdminEdit(ctx, v.ID, rec)
	assert.ErrorIs(t, err, models.ErrOutsideGeofence)
	stored, err := f.store.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, stored.Online, "failed edit leaves the record untouched")
	assert.False(t, stored.Approved)

	rec.Location = nil
	rec.Online = true
	rec.Approved = false
	_, err = f.machine.AdminEdit(ctx, v.ID, rec)
	assert.ErrorIs(t, err, models.ErrValidation)

	other, err := f.machine.Register(ctx, validRegistration("van"))
	require.NoError(t, err)
	rec.Approved, rec.Online = true, false
	rec.Email = other.Email
	_, err = f.machine.AdminEdit(ctx, v.ID, rec)
	assert.ErrorIs(t, err, models.ErrDuplicate)

	missing := driverRecord("van", true, false)
	missing.Email = "nobody@example.com"
	_, err = f.machine.AdminEdit(ctx, "missing", missing)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAdminEdit_OnlineWithoutPositionIsPlaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reg := validRegistration("van")
	reg.Location = nil
	v, err := f.machine.Register(ctx, reg)
	require.NoError(t, err)
	require.Nil(t, v.Location)

	edited, err := f.machine.AdminEdit(ctx, v.ID, driverRecord("van", true, true))
	require.NoError(t, err)
	assert.True(t, edited.Online)
	require.NotNil(t, edited.Location)
	assert.True(t, geofence.Iraq().Contains(edited.Location.Lat, edited.Location.Lng))
}
