package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/models"
)

// DefaultTimeout bounds a single location request.
const DefaultTimeout = 15 * time.Second

// Presence is the subset of the presence state machine the tracker drives.
type Presence interface {
	GoOnline(ctx context.Context, id string, loc models.Location) (*models.Vehicle, error)
	UpdateLocation(ctx context.Context, id string, loc models.Location) (*models.Vehicle, error)
	LocationFailed(ctx context.Context, id string, cause error) (bool, error)
}

// Tracker keeps one vehicle's position current from a Source.
//
// A permission denial suspends automatic updates until GoOnline is called
// again. Once Stop returns no watch callback changes vehicle state.
type Tracker struct {
	vehicleID string
	source    Source
	presence  Presence

	// serializes watch callbacks with Stop
	cbMu sync.Mutex

	mu        sync.Mutex
	tracking  bool
	suspended bool
	updating  bool
	gen       uint64
	watchID   WatchID
	ctx       context.Context
	stopAfter func() bool
}

// NewTracker creates a tracker for vehicleID.
func NewTracker(vehicleID string, source Source, presence Presence) *Tracker {
	return &Tracker{vehicleID: vehicleID, source: source, presence: presence}
}

// Tracking reports whether a watch is active.
func (t *Tracker) Tracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

// Suspended reports whether automatic updates are suspended.
func (t *Tracker) Suspended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspended
}

// Locate asks the source for the current position. A request that does not
// finish within timeout fails with models.ErrLocationTimeout.
func (t *Tracker) Locate(ctx context.Context, timeout time.Duration) (models.Location, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	loc, err := t.source.CurrentLocation(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return models.Location{}, fmt.Errorf("no position after %s: %w", timeout, models.ErrLocationTimeout)
	}
	if err != nil {
		return models.Location{}, err
	}
	return loc, nil
}

// GoOnline is the explicit trigger: it clears any suspension, locates the
// device, brings the vehicle online and starts tracking. Tracking outlives ctx
// and ends with Stop.
func (t *Tracker) GoOnline(ctx context.Context, timeout time.Duration) (*models.Vehicle, error) {
	t.mu.Lock()
	t.suspended = false
	t.mu.Unlock()

	loc, err := t.Locate(ctx, timeout)
	if err != nil {
		t.failed(ctx, err)
		return nil, err
	}
	v, err := t.presence.GoOnline(ctx, t.vehicleID, loc)
	if err != nil {
		return nil, err
	}
	if err := t.Start(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).WithField("vehicle_id", t.vehicleID).Warn("Live location unavailable")
	}
	return v, nil
}

// Start begins watching the source. Callbacks use ctx, and tracking stops
// when ctx is done. Starting an active tracker is a no-op.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.tracking {
		t.mu.Unlock()
		return nil
	}
	t.gen++
	gen := t.gen
	t.tracking = true
	t.ctx = ctx
	t.mu.Unlock()

	id, err := t.source.Watch(
		func(loc models.Location) { t.onUpdate(gen, loc) },
		func(err error) { t.onError(gen, err) },
	)

	t.mu.Lock()
	if gen != t.gen {
		// stopped while subscribing
		t.mu.Unlock()
		if err == nil {
			t.source.CancelWatch(id)
		}
		return nil
	}
	if err != nil {
		t.tracking = false
		t.mu.Unlock()
		return err
	}
	t.watchID = id
	t.stopAfter = context.AfterFunc(ctx, t.Stop)
	t.mu.Unlock()

	log.WithField("vehicle_id", t.vehicleID).Debug("Live location tracking started")
	return nil
}

// Stop ends tracking. It is safe to call when not tracking.
func (t *Tracker) Stop() {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.stopLocked()
}

// stopLocked requires cbMu.
func (t *Tracker) stopLocked() {
	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		return
	}
	t.tracking = false
	t.gen++
	id := t.watchID
	stopAfter := t.stopAfter
	t.stopAfter = nil
	t.mu.Unlock()

	if stopAfter != nil {
		stopAfter()
	}
	t.source.CancelWatch(id)
	log.WithField("vehicle_id", t.vehicleID).Debug("Live location tracking stopped")
}

// current reports whether gen is the active watch and returns its context.
func (t *Tracker) current(gen uint64) (context.Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx, t.tracking && t.gen == gen
}

func (t *Tracker) onUpdate(gen uint64, loc models.Location) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	ctx, ok := t.current(gen)
	if !ok {
		return
	}
	_, err := t.presence.UpdateLocation(ctx, t.vehicleID, loc)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrOutsideGeofence):
		t.stopLocked()
	default:
		log.WithError(err).WithField("vehicle_id", t.vehicleID).Error("Failed to record live location")
	}
}

func (t *Tracker) onError(gen uint64, err error) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	ctx, ok := t.current(gen)
	if !ok {
		return
	}
	if t.failed(ctx, err) {
		t.stopLocked()
	}
}

// failed records a location failure and reports whether tracking must end.
func (t *Tracker) failed(ctx context.Context, err error) bool {
	if errors.Is(err, models.ErrPermissionDenied) {
		t.mu.Lock()
		t.suspended = true
		t.mu.Unlock()
	}
	forced, ferr := t.presence.LocationFailed(ctx, t.vehicleID, err)
	if ferr != nil {
		log.WithError(ferr).WithField("vehicle_id", t.vehicleID).Error("Failed to record location failure")
	}
	return forced || errors.Is(err, models.ErrPermissionDenied) || errors.Is(err, models.ErrLocationUnavailable)
}

// beginUpdate claims the tracker for one automatic update. It reports false
// when an update is already running.
func (t *Tracker) beginUpdate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.updating {
		return false
	}
	t.updating = true
	return true
}

func (t *Tracker) endUpdate() {
	t.mu.Lock()
	t.updating = false
	t.mu.Unlock()
}

// AutoUpdate refreshes the position silently. It does nothing while
// suspended or not tracking. A failed request suspends further automatic
// updates.
func (t *Tracker) AutoUpdate(ctx context.Context, timeout time.Duration) error {
	t.mu.Lock()
	skip := t.suspended || !t.tracking
	gen := t.gen
	t.mu.Unlock()
	if skip {
		return nil
	}

	loc, err := t.Locate(ctx, timeout)

	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	if _, ok := t.current(gen); !ok {
		return nil
	}
	if err != nil {
		t.mu.Lock()
		t.suspended = true
		t.mu.Unlock()
		if t.failed(ctx, err) {
			t.stopLocked()
		}
		return err
	}

	if _, err := t.presence.UpdateLocation(ctx, t.vehicleID, loc); err != nil {
		if errors.Is(err, models.ErrOutsideGeofence) {
			t.stopLocked()
		}
		return err
	}
	return nil
}
