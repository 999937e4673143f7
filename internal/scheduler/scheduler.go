// Package scheduler runs the periodic refresh, movement, dashboard and live
// location actions from a single loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Kind identifies a periodic action.
type Kind int

const (
	Refresh Kind = iota
	Movement
	Dashboard
	LiveLocation
	numKinds
)

// Default cadences.
const (
	DefaultRefreshInterval   = 10 * time.Second
	DefaultMovementInterval  = 15 * time.Second
	DefaultDashboardInterval = 30 * time.Second
)

var kindNames = [numKinds]string{"refresh", "movement", "dashboard", "live_location"}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ErrNotRegistered is returned by Tick for a kind without an action.
var ErrNotRegistered = errors.New("scheduler: no action registered")

// Action is the work done on each tick.
type Action func(ctx context.Context) error

type job struct {
	interval time.Duration
	action   Action
}

// Scheduler owns the timers. Actions never run concurrently with each other,
// whether triggered by a timer or by Tick.
type Scheduler struct {
	mu   sync.Mutex
	jobs [numKinds]*job

	// held while an action runs
	runMu sync.Mutex
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Register sets the action for kind, replacing any previous one. It must be
// called before Run.
func (s *Scheduler) Register(kind Kind, interval time.Duration, action Action) error {
	if kind < 0 || kind >= numKinds {
		return fmt.Errorf("scheduler: unknown kind %d", int(kind))
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: %s interval must be positive, got %s", kind, interval)
	}
	if action == nil {
		return fmt.Errorf("scheduler: %s action is nil", kind)
	}
	s.mu.Lock()
	s.jobs[kind] = &job{interval: interval, action: action}
	s.mu.Unlock()
	return nil
}

// Registered reports whether kind has an action.
func (s *Scheduler) Registered(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return kind >= 0 && kind < numKinds && s.jobs[kind] != nil
}

// Tick runs the action for kind immediately and returns its error.
func (s *Scheduler) Tick(ctx context.Context, kind Kind) error {
	s.mu.Lock()
	var j *job
	if kind >= 0 && kind < numKinds {
		j = s.jobs[kind]
	}
	s.mu.Unlock()
	if j == nil {
		return fmt.Errorf("%s: %w", kind, ErrNotRegistered)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	return j.action(ctx)
}

// Run drives every registered action on its interval until ctx is done.
// Action errors are logged and the loop keeps going.
func (s *Scheduler) Run(ctx context.Context) error {
	var tick [numKinds]<-chan time.Time
	s.mu.Lock()
	for kind, j := range s.jobs {
		if j == nil {
			continue
		}
		t := time.NewTicker(j.interval)
		defer t.Stop()
		tick[kind] = t.C
		log.WithFields(log.Fields{"kind": Kind(kind), "interval": j.interval}).Info("Scheduled action")
	}
	s.mu.Unlock()

	for {
		var kind Kind
		select {
		case <-ctx.Done():
			log.Info("Scheduler stopped")
			return nil
		case <-tick[Refresh]:
			kind = Refresh
		case <-tick[Movement]:
			kind = Movement
		case <-tick[Dashboard]:
			kind = Dashboard
		case <-tick[LiveLocation]:
			kind = LiveLocation
		}
		if err := s.Tick(ctx, kind); err != nil {
			log.WithError(err).WithField("kind", kind).Error("Scheduled action failed")
		}
	}
}
