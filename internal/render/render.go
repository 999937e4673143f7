// Package render turns the visible vehicle set into map snapshots and hands
// them to a rendering surface.
package render

import (
	"context"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/db"
	"github.com/ukydev/fleet-presence/internal/filter"
	"github.com/ukydev/fleet-presence/internal/models"
	"github.com/ukydev/fleet-presence/internal/mqttutil"
	"github.com/ukydev/fleet-presence/internal/registry"
)

// SnapshotTopic carries the retained map snapshot.
const SnapshotTopic = "fleet/snapshot"

// VisibleVehicle is one map marker.
type VisibleVehicle struct {
	ID         string        `json:"id"`
	Type       models.TypeID `json:"type"`
	Name       string        `json:"name"`
	Lat        float64       `json:"lat"`
	Lng        float64       `json:"lng"`
	Icon       string        `json:"icon"`
	Color      string        `json:"color"`
	RouteLabel string        `json:"route_label,omitempty"`
}

// Frame is a complete snapshot as published.
type Frame struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Count       int              `json:"count"`
	Vehicles    []VisibleVehicle `json:"vehicles"`
}

// Renderer displays a snapshot. Each call replaces the previous one.
type Renderer interface {
	RenderSnapshot(ctx context.Context, vehicles []VisibleVehicle) error
}

// Markers builds map markers for vehicles that are already filtered. Icon
// and color come from the registry; a route label is shown for types that
// display routes.
func Markers(types *registry.Registry, vehicles []models.Vehicle) []VisibleVehicle {
	out := make([]VisibleVehicle, 0, len(vehicles))
	for i := range vehicles {
		v := &vehicles[i]
		if v.Location == nil {
			continue
		}
		m := VisibleVehicle{
			ID:   v.ID,
			Type: v.VehicleType,
			Name: v.Name,
			Lat:  v.Location.Lat,
			Lng:  v.Location.Lng,
		}
		if vt, ok := types.Lookup(v.VehicleType); ok {
			m.Icon = vt.Icon
			m.Color = vt.Color
			if vt.ShowsRoute {
				m.RouteLabel = v.RouteLabel()
			}
		}
		out = append(out, m)
	}
	return out
}

// Latest keeps the most recent snapshot in memory for the HTTP surface.
type Latest struct {
	mu    sync.RWMutex
	frame Frame
	now   func() time.Time
}

// NewLatest returns an empty snapshot holder.
func NewLatest() *Latest {
	return &Latest{frame: Frame{Vehicles: []VisibleVehicle{}}, now: time.Now}
}

// RenderSnapshot stores a copy of vehicles.
func (l *Latest) RenderSnapshot(ctx context.Context, vehicles []VisibleVehicle) error {
	cp := make([]VisibleVehicle, len(vehicles))
	copy(cp, vehicles)
	l.mu.Lock()
	l.frame = Frame{GeneratedAt: l.now(), Count: len(cp), Vehicles: cp}
	l.mu.Unlock()
	return nil
}

// Frame returns the last stored snapshot.
func (l *Latest) Frame() Frame {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f := l.frame
	f.Vehicles = make([]VisibleVehicle, len(l.frame.Vehicles))
	copy(f.Vehicles, l.frame.Vehicles)
	return f
}

// MQTTRenderer publishes snapshots as retained messages so new map clients
// get the current fleet on subscribe.
type MQTTRenderer struct {
	client mqtt.Client
	topic  string
	now    func() time.Time
}

// NewMQTTRenderer publishes on topic, SnapshotTopic when empty.
func NewMQTTRenderer(client mqtt.Client, topic string) *MQTTRenderer {
	if topic == "" {
		topic = SnapshotTopic
	}
	return &MQTTRenderer{client: client, topic: topic, now: time.Now}
}

// RenderSnapshot publishes the frame with QoS 1.
func (r *MQTTRenderer) RenderSnapshot(ctx context.Context, vehicles []VisibleVehicle) error {
	if r.client == nil || !r.client.IsConnectionOpen() {
		return errors.New("mqtt renderer: not connected")
	}
	if vehicles == nil {
		vehicles = []VisibleVehicle{}
	}
	return mqttutil.PublishJSON(r.client, r.topic, 1, true, Frame{
		GeneratedAt: r.now(),
		Count:       len(vehicles),
		Vehicles:    vehicles,
	})
}

// Multi renders to several surfaces and returns the joined errors.
type Multi []Renderer

// RenderSnapshot renders to every surface even when one fails.
func (m Multi) RenderSnapshot(ctx context.Context, vehicles []VisibleVehicle) error {
	var errs []error
	for _, r := range m {
		if err := r.RenderSnapshot(ctx, vehicles); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refresher rebuilds the snapshot from the store on every refresh tick.
type Refresher struct {
	store    db.VehicleStore
	types    *registry.Registry
	filter   *filter.Engine
	renderer Renderer
}

// NewRefresher wires the refresh pipeline.
func NewRefresher(store db.VehicleStore, types *registry.Registry, f *filter.Engine, renderer Renderer) *Refresher {
	return &Refresher{store: store, types: types, filter: f, renderer: renderer}
}

// Refresh reads the store, applies the filter and renders the result.
func (r *Refresher) Refresh(ctx context.Context) error {
	vehicles, err := r.store.All(ctx)
	if err != nil {
		return err
	}
	markers := Markers(r.types, r.filter.VisibleVehicles(vehicles))
	if err := r.renderer.RenderSnapshot(ctx, markers); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"total":   len(vehicles),
		"visible": len(markers),
	}).Debug("Map refreshed")
	return nil
}
