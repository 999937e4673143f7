package location

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/models"
	"github.com/ukydev/fleet-presence/internal/mqttutil"
)

// Error codes a device can report instead of a position.
const (
	CodePermissionDenied    = "permission_denied"
	CodePositionUnavailable = "position_unavailable"
	CodeTimeout             = "timeout"
)

// Report is the payload a device publishes on its location topic.
type Report struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Err maps a reported error code to a sentinel error.
func (r Report) Err() error {
	switch r.Error {
	case "":
		return nil
	case CodePermissionDenied:
		return models.ErrPermissionDenied
	case CodeTimeout:
		return models.ErrLocationTimeout
	default:
		return fmt.Errorf("device reported %q: %w", r.Error, models.ErrLocationUnavailable)
	}
}

// DeviceTopic is the topic a vehicle's device publishes positions on.
func DeviceTopic(vehicleID string) string {
	return "fleet/devices/" + vehicleID + "/location"
}

// MQTTSource reads a vehicle's device positions from the broker. The topic is
// subscribed while at least one watch is registered.
type MQTTSource struct {
	client mqtt.Client
	topic  string

	subMu      sync.Mutex
	subscribed bool

	watchers watchers
}

// NewMQTTSource creates a source for vehicleID.
func NewMQTTSource(client mqtt.Client, vehicleID string) *MQTTSource {
	return &MQTTSource{client: client, topic: DeviceTopic(vehicleID)}
}

// Topic returns the subscribed topic.
func (s *MQTTSource) Topic() string {
	return s.topic
}

// Watch registers callbacks and subscribes to the device topic if needed.
func (s *MQTTSource) Watch(onUpdate func(models.Location), onError func(error)) (WatchID, error) {
	id, _ := s.watchers.add(onUpdate, onError)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subscribed {
		return id, nil
	}
	if err := mqttutil.Wait(s.client.Subscribe(s.topic, 1, s.handle), mqttutil.DefaultTimeout); err != nil {
		s.watchers.remove(id)
		return 0, fmt.Errorf("failed to subscribe to %s: %w", s.topic, err)
	}
	s.subscribed = true
	log.WithField("topic", s.topic).Debug("Subscribed to device location")
	return id, nil
}

// CancelWatch removes a watch and unsubscribes after the last one. It does not
// wait for the broker so it is safe to call from a message handler.
func (s *MQTTSource) CancelWatch(id WatchID) {
	remaining, ok := s.watchers.remove(id)
	if !ok || remaining > 0 {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if !s.subscribed || s.watchers.len() > 0 {
		return
	}
	s.subscribed = false
	token := s.client.Unsubscribe(s.topic)
	go func() {
		if err := mqttutil.Wait(token, mqttutil.DefaultTimeout); err != nil {
			log.WithError(err).WithField("topic", s.topic).Warn("Failed to unsubscribe from device location")
		}
	}()
}

// CurrentLocation waits for the next report from the device.
func (s *MQTTSource) CurrentLocation(ctx context.Context) (models.Location, error) {
	type result struct {
		loc models.Location
		err error
	}
	ch := make(chan result, 1)
	send := func(r result) {
		select {
		case ch <- r:
		default:
		}
	}
	id, err := s.Watch(
		func(loc models.Location) { send(result{loc: loc}) },
		func(err error) { send(result{err: err}) },
	)
	if err != nil {
		return models.Location{}, err
	}
	defer s.CancelWatch(id)

	select {
	case <-ctx.Done():
		return models.Location{}, ctx.Err()
	case r := <-ch:
		return r.loc, r.err
	}
}

func (s *MQTTSource) handle(_ mqtt.Client, msg mqtt.Message) {
	var r Report
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		log.WithError(err).WithField("topic", msg.Topic()).Warn("Discarding malformed location report")
		return
	}
	if err := r.Err(); err != nil {
		s.watchers.fail(err)
		return
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	s.watchers.update(models.Location{Lat: r.Lat, Lng: r.Lng, Timestamp: r.Timestamp})
}
