package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/models"
)

// SourceFactory returns the position source for a vehicle's device.
type SourceFactory func(vehicleID string) Source

// Pool owns one Tracker per vehicle that went online through live location.
type Pool struct {
	presence  Presence
	newSource SourceFactory
	timeout   time.Duration

	mu       sync.Mutex
	trackers map[string]*Tracker

	// background automatic updates
	ctx     context.Context
	cancel  context.CancelFunc
	updates sync.WaitGroup
}

// NewPool creates a pool. A nil factory disables live location and GoOnline
// fails with models.ErrLocationUnavailable.
func NewPool(presence Presence, newSource SourceFactory, timeout time.Duration) *Pool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		presence:  presence,
		newSource: newSource,
		timeout:   timeout,
		trackers:  map[string]*Tracker{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enabled reports whether device positions can be read.
func (p *Pool) Enabled() bool {
	return p.newSource != nil
}

// Tracker returns the tracker for vehicleID, creating it if needed.
func (p *Pool) Tracker(vehicleID string) (*Tracker, error) {
	if p.newSource == nil {
		return nil, fmt.Errorf("live location disabled: %w", models.ErrLocationUnavailable)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.trackers[vehicleID]
	if !ok {
		t = NewTracker(vehicleID, p.newSource(vehicleID), p.presence)
		p.trackers[vehicleID] = t
	}
	return t, nil
}

// GoOnline brings vehicleID online at its device position and keeps tracking it.
func (p *Pool) GoOnline(ctx context.Context, vehicleID string) (*models.Vehicle, error) {
	t, err := p.Tracker(vehicleID)
	if err != nil {
		return nil, err
	}
	return t.GoOnline(ctx, p.timeout)
}

// Stop ends tracking for vehicleID and forgets its tracker.
func (p *Pool) Stop(vehicleID string) {
	p.mu.Lock()
	t, ok := p.trackers[vehicleID]
	delete(p.trackers, vehicleID)
	p.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// AutoUpdate starts a background refresh for every tracked vehicle and
// returns without waiting for device positions. A vehicle whose previous
// refresh is still running is skipped. Failures are logged.
func (p *Pool) AutoUpdate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	trackers := make([]*Tracker, 0, len(p.trackers))
	for _, t := range p.trackers {
		trackers = append(trackers, t)
	}
	p.mu.Unlock()

	for _, t := range trackers {
		if !t.beginUpdate() {
			continue
		}
		p.updates.Add(1)
		go func() {
			defer p.updates.Done()
			defer t.endUpdate()
			if err := t.AutoUpdate(p.ctx, p.timeout); err != nil {
				log.WithError(err).WithField("vehicle_id", t.vehicleID).Warn("Automatic location update failed")
			}
		}()
	}
	return nil
}

// Wait blocks until every running automatic update has finished.
func (p *Pool) Wait() {
	p.updates.Wait()
}

// Close stops every tracker and waits for running automatic updates.
func (p *Pool) Close() {
	p.mu.Lock()
	trackers := p.trackers
	p.trackers = map[string]*Tracker{}
	p.mu.Unlock()
	for _, t := range trackers {
		t.Stop()
	}
	p.cancel()
	p.updates.Wait()
}
