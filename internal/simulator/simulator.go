// Package simulator applies small random displacements to online vehicles so
// the map shows a moving fleet without real devices.
package simulator

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/db"
	"github.com/ukydev/fleet-presence/internal/geofence"
	"github.com/ukydev/fleet-presence/internal/models"
	"github.com/ukydev/fleet-presence/internal/registry"
)

var (
	errIneligible = errors.New("vehicle not eligible for movement")
	errRejected   = errors.New("candidate position outside geofence")
)

// Result summarizes one movement tick.
type Result struct {
	Moved    int  `json:"moved"`
	Skipped  int  `json:"skipped"`
	Rejected int  `json:"rejected"`
	Paused   bool `json:"paused,omitempty"`
}

// Simulator moves approved online vehicles inside the geofence.
type Simulator struct {
	store db.VehicleStore
	types *registry.Registry
	fence *geofence.Validator
	now   func() time.Time

	mu  sync.Mutex // guards rng
	rng *rand.Rand

	paused atomic.Bool
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithRand sets the random source. Two simulators with the same seed over the
// same store contents produce the same positions.
func WithRand(r *rand.Rand) Option {
	return func(s *Simulator) { s.rng = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// New creates a simulator. Movement starts enabled.
func New(store db.VehicleStore, types *registry.Registry, fence *geofence.Validator, opts ...Option) *Simulator {
	s := &Simulator{
		store: store,
		types: types,
		fence: fence,
		now:   time.Now,
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xf1ee7)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEnabled pauses or resumes movement.
func (s *Simulator) SetEnabled(enabled bool) {
	s.paused.Store(!enabled)
	log.WithField("enabled", enabled).Info("Movement simulation toggled")
}

// Enabled reports whether ticks move vehicles.
func (s *Simulator) Enabled() bool {
	return !s.paused.Load()
}

// Tick performs one movement step over every vehicle in store order. A
// vehicle is moved when it is approved, online and has a location; the
// candidate position gets a single attempt and is discarded when it falls
// outside the geofence.
func (s *Simulator) Tick(ctx context.Context) (Result, error) {
	var res Result
	if !s.Enabled() {
		res.Paused = true
		return res, nil
	}

	vehicles, err := s.store.All(ctx)
	if err != nil {
		return res, err
	}

	for _, v := range vehicles {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !v.Visible() {
			res.Skipped++
			continue
		}
		vt, ok := s.types.Lookup(v.VehicleType)
		if !ok {
			res.Skipped++
			continue
		}

		_, err := s.store.Update(ctx, v.ID, func(cur *models.Vehicle) error {
			if !cur.Visible() {
				return errIneligible
			}
			lat, lng, ok := s.step(cur.Location.Lat, cur.Location.Lng, vt.Step)
			if !ok {
				return errRejected
			}
			now := s.now()
			cur.Location = &models.Location{Lat: lat, Lng: lng, Timestamp: now}
			cur.LastSeen = now
			return nil
		})
		switch {
		case err == nil:
			res.Moved++
		case errors.Is(err, errRejected):
			res.Rejected++
			log.WithFields(log.Fields{
				"vehicle_id":   v.ID,
				"vehicle_type": v.VehicleType,
			}).Debug("Movement rejected by geofence")
		case errors.Is(err, errIneligible), errors.Is(err, models.ErrNotFound):
			res.Skipped++
		default:
			return res, err
		}
	}

	log.WithFields(log.Fields{
		"moved":    res.Moved,
		"skipped":  res.Skipped,
		"rejected": res.Rejected,
	}).Debug("Movement tick")
	return res, nil
}

// step draws a displacement uniform in [-r/2, r/2] on each axis, clamps it to
// the geofence bounding box and reports whether the result is inside.
func (s *Simulator) step(lat, lng, r float64) (float64, float64, bool) {
	s.mu.Lock()
	dLat := (s.rng.Float64() - 0.5) * r
	dLng := (s.rng.Float64() - 0.5) * r
	s.mu.Unlock()

	lat, lng = s.fence.Bounds().Clamp(lat+dLat, lng+dLng)
	return lat, lng, s.fence.Contains(lat, lng)
}

// Status is the movement status summary.
type Status struct {
	Total        int  `json:"total"`
	Approved     int  `json:"approved"`
	Online       int  `json:"online"`
	WithLocation int  `json:"with_location"`
	Enabled      bool `json:"enabled"`
}

// Status counts the vehicles the next tick will consider and logs them.
func (s *Simulator) Status(ctx context.Context) (Status, error) {
	vehicles, err := s.store.All(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{Total: len(vehicles), Enabled: s.Enabled()}
	for _, v := range vehicles {
		if !v.Approved {
			continue
		}
		st.Approved++
		if !v.Online {
			continue
		}
		st.Online++
		if v.HasLocation() {
			st.WithLocation++
		}
	}
	log.WithFields(log.Fields{
		"total":         st.Total,
		"approved":      st.Approved,
		"online":        st.Online,
		"with_location": st.WithLocation,
		"enabled":       st.Enabled,
	}).Info("Movement status")
	return st, nil
}
