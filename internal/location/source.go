// Package location reads device positions and keeps an online vehicle's
// position current while it is tracked.
package location

import (
	"context"
	"sync"

	"github.com/ukydev/fleet-presence/internal/models"
)

// WatchID identifies a watch registered with a Source.
type WatchID int

// Source is a device position provider. Errors passed to a watch's onError
// wrap models.ErrPermissionDenied, models.ErrLocationUnavailable or
// models.ErrLocationTimeout.
type Source interface {
	CurrentLocation(ctx context.Context) (models.Location, error)
	Watch(onUpdate func(models.Location), onError func(error)) (WatchID, error)
	CancelWatch(id WatchID)
}

type watcher struct {
	onUpdate func(models.Location)
	onError  func(error)
}

// watchers is the callback set shared by the Source implementations.
type watchers struct {
	mu   sync.Mutex
	next WatchID
	set  map[WatchID]watcher
}

func (w *watchers) add(onUpdate func(models.Location), onError func(error)) (WatchID, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.set == nil {
		w.set = map[WatchID]watcher{}
	}
	w.next++
	w.set[w.next] = watcher{onUpdate: onUpdate, onError: onError}
	return w.next, len(w.set)
}

// remove deletes id and returns how many watches remain and whether id existed.
func (w *watchers) remove(id WatchID) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.set[id]
	delete(w.set, id)
	return len(w.set), ok
}

func (w *watchers) snapshot() []watcher {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]watcher, 0, len(w.set))
	for _, cb := range w.set {
		out = append(out, cb)
	}
	return out
}

func (w *watchers) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.set)
}

func (w *watchers) update(loc models.Location) {
	for _, cb := range w.snapshot() {
		if cb.onUpdate != nil {
			cb.onUpdate(loc)
		}
	}
}

func (w *watchers) fail(err error) {
	for _, cb := range w.snapshot() {
		if cb.onError != nil {
			cb.onError(err)
		}
	}
}

// StaticSource returns a fixed position and delivers scripted updates. Used
// by tests and when positions are entered manually.
type StaticSource struct {
	mu   sync.Mutex
	loc  models.Location
	err  error
	hang bool

	watchers watchers
}

// NewStaticSource returns a source reporting loc.
func NewStaticSource(loc models.Location) *StaticSource {
	return &StaticSource{loc: loc}
}

// Set changes the result of CurrentLocation.
func (s *StaticSource) Set(loc models.Location, err error) {
	s.mu.Lock()
	s.loc, s.err = loc, err
	s.mu.Unlock()
}

// Hang makes CurrentLocation block until its context is done.
func (s *StaticSource) Hang(hang bool) {
	s.mu.Lock()
	s.hang = hang
	s.mu.Unlock()
}

// CurrentLocation returns the configured position or error.
func (s *StaticSource) CurrentLocation(ctx context.Context) (models.Location, error) {
	s.mu.Lock()
	loc, err, hang := s.loc, s.err, s.hang
	s.mu.Unlock()
	if hang {
		<-ctx.Done()
		return models.Location{}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return models.Location{}, err
	}
	return loc, err
}

// Watch registers callbacks for Push and Fail.
func (s *StaticSource) Watch(onUpdate func(models.Location), onError func(error)) (WatchID, error) {
	id, _ := s.watchers.add(onUpdate, onError)
	return id, nil
}

// CancelWatch removes a watch. Unknown ids are ignored.
func (s *StaticSource) CancelWatch(id WatchID) {
	s.watchers.remove(id)
}

// Push delivers loc to every watch.
func (s *StaticSource) Push(loc models.Location) {
	s.watchers.update(loc)
}

// Fail delivers err to every watch.
func (s *StaticSource) Fail(err error) {
	s.watchers.fail(err)
}

// Watching returns the number of active watches.
func (s *StaticSource) Watching() int {
	return s.watchers.len()
}
