// Package presence governs vehicle approval and online/offline transitions.
//
// A vehicle is in exactly one of three states: PendingApproval,
// ApprovedOffline or ApprovedOnline. Every transition is applied through
// db.VehicleStore.Update so a failed check leaves the stored record untouched.
package presence

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/db"
	"github.com/ukydev/fleet-presence/internal/geofence"
	"github.com/ukydev/fleet-presence/internal/models"
	"github.com/ukydev/fleet-presence/internal/notify"
	"github.com/ukydev/fleet-presence/internal/registry"
	"golang.org/x/crypto/bcrypt"
)

// State is the presence state of a vehicle.
type State int

const (
	PendingApproval State = iota
	ApprovedOffline
	ApprovedOnline
)

func (s State) String() string {
	switch s {
	case PendingApproval:
		return "pending_approval"
	case ApprovedOffline:
		return "approved_offline"
	case ApprovedOnline:
		return "approved_online"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateOf derives the presence state from a vehicle record.
func StateOf(v models.Vehicle) State {
	switch {
	case !v.Approved:
		return PendingApproval
	case v.Online:
		return ApprovedOnline
	default:
		return ApprovedOffline
	}
}

// Machine applies presence transitions to vehicles in a store.
type Machine struct {
	store    db.VehicleStore
	types    *registry.Registry
	fence    *geofence.Validator
	notifier notify.Notifier
	now      func() time.Time
	newID    func() string
	rng      *rand.Rand
	rngMu    sync.Mutex
	hashCost int

	// serializes the email uniqueness check with the insert
	registerMu sync.Mutex
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithIDGenerator overrides vehicle id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Machine) { m.newID = fn }
}

// WithRand sets the random source used to place newly approved vehicles.
func WithRand(r *rand.Rand) Option {
	return func(m *Machine) { m.rng = r }
}

// WithHashCost sets the bcrypt cost for registration passwords.
func WithHashCost(cost int) Option {
	return func(m *Machine) { m.hashCost = cost }
}

// New creates a presence state machine.
func New(store db.VehicleStore, types *registry.Registry, fence *geofence.Validator, notifier notify.Notifier, opts ...Option) *Machine {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	m := &Machine{
		store:    store,
		types:    types,
		fence:    fence,
		notifier: notifier,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registration is the input collected when a driver signs up.
type Registration struct {
	Name          string           `json:"name"`
	Email         string           `json:"email"`
	Phone         string           `json:"phone"`
	LicenseNumber string           `json:"license_number"`
	Plate         string           `json:"plate"`
	VehicleType   string           `json:"vehicle_type"`
	RouteFrom     string           `json:"route_from,omitempty"`
	RouteTo       string           `json:"route_to,omitempty"`
	TaxiNumber    string           `json:"taxi_number,omitempty"`
	Password      string           `json:"password"`
	Governorate   string           `json:"governorate,omitempty"`
	Location      *models.Location `json:"location,omitempty"`
}

// MinPasswordLength is the shortest accepted registration password.
const MinPasswordLength = 6

// Validate checks the registration against the registry and returns the
// resolved vehicle type.
func (r *Registration) Validate(types *registry.Registry) (models.VehicleType, error) {
	return r.validate(types, true)
}

// validate checks the registration. A missing password passes unless
// needPassword is set.
func (r *Registration) validate(types *registry.Registry, needPassword bool) (models.VehicleType, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	r.LicenseNumber = strings.TrimSpace(r.LicenseNumber)
	r.Plate = strings.TrimSpace(r.Plate)
	r.RouteFrom = strings.TrimSpace(r.RouteFrom)
	r.RouteTo = strings.TrimSpace(r.RouteTo)
	r.TaxiNumber = strings.TrimSpace(r.TaxiNumber)

	required := []struct{ field, value string }{
		{"name", r.Name},
		{"email", r.Email},
		{"phone", r.Phone},
		{"license_number", r.LicenseNumber},
		{"plate", r.Plate},
		{"vehicle_type", r.VehicleType},
	}
	if needPassword {
		required = append(required, struct{ field, value string }{"password", r.Password})
	}
	for _, f := range required {
		if f.value == "" {
			return models.VehicleType{}, &models.ValidationError{Field: f.field, Reason: "required"}
		}
	}
	if !strings.Contains(r.Email, "@") || !strings.Contains(r.Email, ".") {
		return models.VehicleType{}, &models.ValidationError{Field: "email", Reason: "invalid email format"}
	}
	if r.Password != "" && len(r.Password) < MinPasswordLength {
		return models.VehicleType{}, &models.ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters long", MinPasswordLength)}
	}

	id, err := models.ParseTypeID(r.VehicleType)
	if err != nil {
		return models.VehicleType{}, err
	}
	vt, ok := types.Lookup(id)
	if !ok || !vt.Enabled {
		return models.VehicleType{}, &models.ValidationError{Field: "vehicle_type", Reason: fmt.Sprintf("vehicle type %q is not available", id)}
	}
	if vt.RequiresRoute && (r.RouteFrom == "" || r.RouteTo == "") {
		return models.VehicleType{}, &models.ValidationError{Field: "route", Reason: fmt.Sprintf("%s drivers must specify routes", vt.Name)}
	}
	return vt, nil
}

// Register validates the input and stores a new vehicle. Types that require
// approval start in PendingApproval, all others in ApprovedOffline.
func (m *Machine) Register(ctx context.Context, reg Registration) (*models.Vehicle, error) {
	vt, err := reg.Validate(m.types)
	if err != nil {
		return nil, err
	}
	now := m.now()

	var loc *models.Location
	if reg.Location != nil {
		if !m.fence.Contains(reg.Location.Lat, reg.Location.Lng) {
			return nil, fmt.Errorf("registration at %.4f,%.4f: %w", reg.Location.Lat, reg.Location.Lng, models.ErrOutsideGeofence)
		}
		loc = &models.Location{Lat: reg.Location.Lat, Lng: reg.Location.Lng, Timestamp: now}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), m.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	v := models.Vehicle{
		ID:            m.newID(),
		Name:          reg.Name,
		Email:         reg.Email,
		Phone:         reg.Phone,
		LicenseNumber: reg.LicenseNumber,
		Plate:         reg.Plate,
		VehicleType:   vt.ID,
		RouteFrom:     reg.RouteFrom,
		RouteTo:       reg.RouteTo,
		TaxiNumber:    reg.TaxiNumber,
		PasswordHash:  string(hash),
		Governorate:   reg.Governorate,
		Location:      loc,
		Approved:      !vt.RequiresApproval,
		Online:        false,
		RegisteredAt:  now,
		LastSeen:      now,
	}

	if err := m.insert(ctx, v); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"vehicle_id":   v.ID,
		"vehicle_type": v.VehicleType,
		"state":        StateOf(v),
	}).Info("Registered vehicle")

	m.notify(ctx, notify.EventRegistered, v)
	m.notify(ctx, notify.EventAdminAlert, v)
	return &v, nil
}

// insert stores v unless another vehicle already uses its email.
func (m *Machine) insert(ctx context.Context, v models.Vehicle) error {
	m.registerMu.Lock()
	defer m.registerMu.Unlock()
	if _, err := m.store.FindByEmail(ctx, v.Email); err == nil {
		return fmt.Errorf("email %s: %w", v.Email, models.ErrDuplicate)
	} else if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return m.store.Upsert(ctx, v)
}

// DriverRecord is a driver as entered by an administrator. On edit an empty
// password keeps the current one.
type DriverRecord struct {
	Registration
	Approved bool `json:"approved"`
	Online   bool `json:"online"`
}

func (d *DriverRecord) validate(types *registry.Registry, needPassword bool) (models.VehicleType, error) {
	vt, err := d.Registration.validate(types, needPassword)
	if err != nil {
		return vt, err
	}
	if d.Online && !d.Approved {
		return vt, &models.ValidationError{Field: "online", Reason: "only approved drivers can be online"}
	}
	return vt, nil
}

// AdminCreate stores a driver with the approval and online flags chosen by an
// administrator. A driver without a position is placed near a random city,
// whose name becomes the governorate when none is given.
func (m *Machine) AdminCreate(ctx context.Context, rec DriverRecord) (*models.Vehicle, error) {
	vt, err := rec.validate(m.types, true)
	if err != nil {
		return nil, err
	}
	now := m.now()

	governorate := rec.Governorate
	var loc models.Location
	if rec.Location != nil {
		if !m.fence.Contains(rec.Location.Lat, rec.Location.Lng) {
			return nil, fmt.Errorf("driver at %.4f,%.4f: %w", rec.Location.Lat, rec.Location.Lng, models.ErrOutsideGeofence)
		}
		loc = models.Location{Lat: rec.Location.Lat, Lng: rec.Location.Lng, Timestamp: now}
	} else {
		near, city := m.nearCity(now)
		loc = *near
		if governorate == "" {
			governorate = city
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rec.Password), m.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	v := models.Vehicle{
		ID:            m.newID(),
		Name:          rec.Name,
		Email:         rec.Email,
		Phone:         rec.Phone,
		LicenseNumber: rec.LicenseNumber,
		Plate:         rec.Plate,
		VehicleType:   vt.ID,
		RouteFrom:     rec.RouteFrom,
		RouteTo:       rec.RouteTo,
		TaxiNumber:    rec.TaxiNumber,
		PasswordHash:  string(hash),
		Governorate:   governorate,
		Location:      &loc,
		Approved:      rec.Approved,
		Online:        rec.Online,
		RegisteredAt:  now,
		LastSeen:      now,
	}
	if err := m.insert(ctx, v); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"vehicle_id":   v.ID,
		"vehicle_type": v.VehicleType,
		"state":        StateOf(v),
	}).Info("Driver added by administrator")

	m.notify(ctx, notify.EventRegistered, v)
	if v.Approved {
		m.notify(ctx, notify.EventApproved, v)
	}
	return &v, nil
}

// AdminEdit replaces the editable fields of a driver. Going online needs an
// approved driver and a position inside the geofence; a driver without a
// position is placed near a random city first. Withdrawing approval takes
// the driver offline.
func (m *Machine) AdminEdit(ctx context.Context, id string, rec DriverRecord) (*models.Vehicle, error) {
	vt, err := rec.validate(m.types, false)
	if err != nil {
		return nil, err
	}
	var hash []byte
	if rec.Password != "" {
		if hash, err = bcrypt.GenerateFromPassword([]byte(rec.Password), m.hashCost); err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
	}

	m.registerMu.Lock()
	defer m.registerMu.Unlock()
	if other, err := m.store.FindByEmail(ctx, rec.Email); err == nil && other.ID != id {
		return nil, fmt.Errorf("email %s: %w", rec.Email, models.ErrDuplicate)
	} else if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	v, err := m.store.Update(ctx, id, func(v *models.Vehicle) error {
		now := m.now()
		if rec.Location != nil {
			if !m.fence.Contains(rec.Location.Lat, rec.Location.Lng) {
				return fmt.Errorf("driver at %.4f,%.4f: %w", rec.Location.Lat, rec.Location.Lng, models.ErrOutsideGeofence)
			}
			v.Location = &models.Location{Lat: rec.Location.Lat, Lng: rec.Location.Lng, Timestamp: now}
		}
		if rec.Online {
			if !v.HasLocation() {
				v.Location, _ = m.nearCity(now)
			}
			if !m.fence.Contains(v.Location.Lat, v.Location.Lng) {
				return fmt.Errorf("go online at %.4f,%.4f: %w", v.Location.Lat, v.Location.Lng, models.ErrOutsideGeofence)
			}
		}
		if rec.Online != v.Online {
			v.OfflineReason = ""
		}

		v.Name = rec.Name
		v.Email = rec.Email
		v.Phone = rec.Phone
		v.LicenseNumber = rec.LicenseNumber
		v.Plate = rec.Plate
		v.VehicleType = vt.ID
		v.RouteFrom = rec.RouteFrom
		v.RouteTo = rec.RouteTo
		v.TaxiNumber = rec.TaxiNumber
		if rec.Governorate != "" {
			v.Governorate = rec.Governorate
		}
		if hash != nil {
			v.PasswordHash = string(hash)
		}
		v.Approved = rec.Approved
		v.Online = rec.Online
		v.LastSeen = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"vehicle_id": id, "state": StateOf(*v)}).Info("Driver edited by administrator")
	return v, nil
}

// nearCity places a vehicle near a random city and returns the city name.
func (m *Machine) nearCity(now time.Time) (*models.Location, string) {
	m.rngMu.Lock()
	city := geofence.Cities[m.rng.IntN(len(geofence.Cities))]
	p := m.fence.Near(m.rng, city.Point, 0.05)
	m.rngMu.Unlock()
	return &models.Location{Lat: p.Lat, Lng: p.Lng, Timestamp: now}, city.Name
}

// Approve moves a vehicle from PendingApproval to ApprovedOffline. A vehicle
// without a recorded position is placed near the Baghdad centre so it can be
// simulated once it goes online.
func (m *Machine) Approve(ctx context.Context, id string) (*models.Vehicle, error) {
	v, err := m.store.Update(ctx, id, func(v *models.Vehicle) error {
		if v.Approved {
			return fmt.Errorf("approve %s from %s: %w", id, StateOf(*v), models.ErrInvalidTransition)
		}
		v.Approved = true
		v.Online = false
		if v.Location == nil {
			v.Location = m.defaultLocation()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithField("vehicle_id", id).Info("Approved vehicle")
	m.notify(ctx, notify.EventApproved, *v)
	return v, nil
}

func (m *Machine) defaultLocation() *models.Location {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return &models.Location{
		Lat:       geofence.Baghdad.Lat + (m.rng.Float64()-0.5)*0.1,
		Lng:       geofence.Baghdad.Lng + (m.rng.Float64()-0.5)*0.1,
		Timestamp: m.now(),
	}
}

// Reject removes a vehicle that is still pending approval.
func (m *Machine) Reject(ctx context.Context, id string) error {
	v, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if v.Approved {
		return fmt.Errorf("reject %s from %s: %w", id, StateOf(*v), models.ErrInvalidTransition)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	log.WithField("vehicle_id", id).Info("Rejected vehicle")
	return nil
}

// Remove deletes a vehicle regardless of its state.
func (m *Machine) Remove(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	log.WithField("vehicle_id", id).Info("Removed vehicle")
	return nil
}

// GoOnline moves an ApprovedOffline vehicle online at loc. The vehicle stays
// offline when it is not approved or loc is outside the geofence.
func (m *Machine) GoOnline(ctx context.Context, id string, loc models.Location) (*models.Vehicle, error) {
	return m.store.Update(ctx, id, func(v *models.Vehicle) error {
		if !v.Approved {
			return fmt.Errorf("vehicle %s: %w", id, models.ErrNotApproved)
		}
		if v.Online {
			return fmt.Errorf("vehicle %s already online: %w", id, models.ErrInvalidTransition)
		}
		if !m.fence.Contains(loc.Lat, loc.Lng) {
			return fmt.Errorf("go online at %.4f,%.4f: %w", loc.Lat, loc.Lng, models.ErrOutsideGeofence)
		}
		now := m.now()
		if loc.Timestamp.IsZero() {
			loc.Timestamp = now
		}
		v.Location = &loc
		v.LastSeen = now
		v.Online = true
		v.OfflineReason = ""
		return nil
	})
}

// GoOffline takes a vehicle offline. It succeeds from any state.
func (m *Machine) GoOffline(ctx context.Context, id string) (*models.Vehicle, error) {
	return m.store.Update(ctx, id, func(v *models.Vehicle) error {
		v.Online = false
		v.OfflineReason = ""
		v.LastSeen = m.now()
		return nil
	})
}

// ForceOffline takes a vehicle offline without operator action and records
// the cause. It is a no-op for a vehicle that is already offline, and reports
// whether the vehicle was online.
func (m *Machine) ForceOffline(ctx context.Context, id string, reason models.OfflineReason) (*models.Vehicle, bool, error) {
	forced := false
	v, err := m.store.Update(ctx, id, func(v *models.Vehicle) error {
		if !v.Online {
			return nil
		}
		forced = true
		v.Online = false
		v.OfflineReason = reason
		v.LastSeen = m.now()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if forced {
		log.WithFields(log.Fields{"vehicle_id": id, "reason": reason}).Warn("Vehicle forced offline")
	}
	return v, forced, nil
}

// UpdateLocation commits a live position. A position outside the geofence
// forces an online vehicle offline and returns ErrOutsideGeofence; the stored
// location is left unchanged in that case.
func (m *Machine) UpdateLocation(ctx context.Context, id string, loc models.Location) (*models.Vehicle, error) {
	outside := false
	v, err := m.store.Update(ctx, id, func(v *models.Vehicle) error {
		now := m.now()
		if !m.fence.Contains(loc.Lat, loc.Lng) {
			if !v.Online {
				return fmt.Errorf("location %.4f,%.4f: %w", loc.Lat, loc.Lng, models.ErrOutsideGeofence)
			}
			outside = true
			v.Online = false
			v.OfflineReason = models.OfflineOutsideGeofence
			v.LastSeen = now
			return nil
		}
		if loc.Timestamp.IsZero() {
			loc.Timestamp = now
		}
		v.Location = &loc
		v.LastSeen = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outside {
		log.WithFields(log.Fields{
			"vehicle_id": id,
			"lat":        loc.Lat,
			"lng":        loc.Lng,
			"reason":     models.OfflineOutsideGeofence,
		}).Warn("Vehicle forced offline")
		return v, fmt.Errorf("location %.4f,%.4f: %w", loc.Lat, loc.Lng, models.ErrOutsideGeofence)
	}
	return v, nil
}

// LocationFailed handles a failed device location request. Permission and
// availability failures force the vehicle offline; timeouts are only logged.
// It reports whether the vehicle was taken offline.
func (m *Machine) LocationFailed(ctx context.Context, id string, cause error) (bool, error) {
	var reason models.OfflineReason
	switch {
	case errors.Is(cause, models.ErrPermissionDenied):
		reason = models.OfflinePermissionDenied
	case errors.Is(cause, models.ErrLocationUnavailable):
		reason = models.OfflinePositionUnavailable
	default:
		log.WithError(cause).WithField("vehicle_id", id).Warn("Location request failed")
		return false, nil
	}

	_, forced, err := m.ForceOffline(ctx, id, reason)
	if err != nil {
		return false, err
	}
	return forced, nil
}

// Authenticate checks driver credentials. Vehicles pending approval cannot log in.
func (m *Machine) Authenticate(ctx context.Context, email, password string) (*models.Vehicle, error) {
	v, err := m.store.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(v.PasswordHash), []byte(password)) != nil {
		return nil, models.ErrInvalidCredentials
	}
	if !v.Approved {
		return nil, fmt.Errorf("vehicle %s: %w", v.ID, models.ErrNotApproved)
	}
	return v, nil
}

// Pending returns the vehicles waiting for approval in store order.
func (m *Machine) Pending(ctx context.Context) ([]models.Vehicle, error) {
	all, err := m.store.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Vehicle
	for _, v := range all {
		if !v.Approved {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Machine) notify(ctx context.Context, event notify.Event, v models.Vehicle) {
	if err := m.notifier.Notify(ctx, event, v); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"event":      event,
			"vehicle_id": v.ID,
		}).Error("Failed to send notification")
	}
}
