// Package dashboard computes the admin fleet statistics.
package dashboard

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/db"
	"github.com/ukydev/fleet-presence/internal/models"
)

// RecentLimit is the number of registrations listed as recent activity.
const RecentLimit = 5

// Activity is one recent registration.
type Activity struct {
	VehicleID    string        `json:"vehicle_id"`
	Name         string        `json:"name"`
	VehicleType  models.TypeID `json:"vehicle_type"`
	Approved     bool          `json:"approved"`
	RegisteredAt time.Time     `json:"registered_at"`
}

// Stats is the dashboard summary.
type Stats struct {
	Total              int                   `json:"total"`
	Approved           int                   `json:"approved"`
	Online             int                   `json:"online"`
	PendingApprovals   int                   `json:"pending_approvals"`
	RegisteredThisWeek int                   `json:"registered_this_week"`
	ByType             map[models.TypeID]int `json:"by_type"`
	OnlineByType       map[models.TypeID]int `json:"online_by_type"`
	Recent             []Activity            `json:"recent"`
	ComputedAt         time.Time             `json:"computed_at"`
}

// Compute summarizes vehicles as of now. Pending approvals count taxis only,
// the one type that needs approval.
func Compute(vehicles []models.Vehicle, now time.Time) Stats {
	s := Stats{
		Total:        len(vehicles),
		ByType:       map[models.TypeID]int{},
		OnlineByType: map[models.TypeID]int{},
		Recent:       []Activity{},
		ComputedAt:   now,
	}
	weekAgo := now.Add(-7 * 24 * time.Hour)
	for _, v := range vehicles {
		s.ByType[v.VehicleType]++
		if v.Approved {
			s.Approved++
		}
		if v.Approved && v.Online {
			s.Online++
			s.OnlineByType[v.VehicleType]++
		}
		if !v.Approved && v.VehicleType == models.TypeTaxi {
			s.PendingApprovals++
		}
		if v.RegisteredAt.After(weekAgo) {
			s.RegisteredThisWeek++
		}
	}

	recent := make([]models.Vehicle, len(vehicles))
	copy(recent, vehicles)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].RegisteredAt.After(recent[j].RegisteredAt)
	})
	if len(recent) > RecentLimit {
		recent = recent[:RecentLimit]
	}
	for _, v := range recent {
		s.Recent = append(s.Recent, Activity{
			VehicleID:    v.ID,
			Name:         v.Name,
			VehicleType:  v.VehicleType,
			Approved:     v.Approved,
			RegisteredAt: v.RegisteredAt,
		})
	}
	return s
}

// Service recomputes the statistics on each dashboard tick and serves the
// last result.
type Service struct {
	store db.VehicleStore
	now   func() time.Time

	mu    sync.RWMutex
	stats *Stats
}

// NewService creates a dashboard service over store.
func NewService(store db.VehicleStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Refresh recomputes the statistics.
func (s *Service) Refresh(ctx context.Context) error {
	vehicles, err := s.store.All(ctx)
	if err != nil {
		return err
	}
	stats := Compute(vehicles, s.now())
	s.mu.Lock()
	s.stats = &stats
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"total":   stats.Total,
		"online":  stats.Online,
		"pending": stats.PendingApprovals,
	}).Debug("Dashboard refreshed")
	return nil
}

// Stats returns the last computed statistics, computing them first if no
// tick has run yet.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	cached := s.stats
	s.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	if err := s.Refresh(ctx); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.stats, nil
}
