// Package notify delivers lifecycle events (registration, approval, admin
// alerts) to an outbound channel. Delivery failures never block a state
// transition; callers log them and move on.
package notify

import (
	"context"
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/models"
	"github.com/ukydev/fleet-presence/internal/mqttutil"
)

// Event is the kind of notification.
type Event string

const (
	EventRegistered Event = "registered"
	EventApproved   Event = "approved"
	EventAdminAlert Event = "admin_alert"
)

// Notifier delivers an event about a vehicle.
type Notifier interface {
	Notify(ctx context.Context, event Event, vehicle models.Vehicle) error
}

// Message is the payload delivered for an event.
type Message struct {
	Event       Event         `json:"event"`
	VehicleID   string        `json:"vehicle_id"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	Phone       string        `json:"phone"`
	VehicleType models.TypeID `json:"vehicle_type"`
	Plate       string        `json:"plate"`
	Approved    bool          `json:"approved"`
	SentAt      time.Time     `json:"sent_at"`
}

// NewMessage builds the payload for event. Credentials are never included.
func NewMessage(event Event, v models.Vehicle, now time.Time) Message {
	return Message{
		Event:       event,
		VehicleID:   v.ID,
		Name:        v.Name,
		Email:       v.Email,
		Phone:       v.Phone,
		VehicleType: v.VehicleType,
		Plate:       v.Plate,
		Approved:    v.Approved,
		SentAt:      now,
	}
}

// LogNotifier writes events to the log. Used when no broker is configured.
type LogNotifier struct{}

// Notify logs the event.
func (LogNotifier) Notify(ctx context.Context, event Event, v models.Vehicle) error {
	log.WithFields(log.Fields{
		"event":        event,
		"vehicle_id":   v.ID,
		"email":        v.Email,
		"vehicle_type": v.VehicleType,
	}).Info("Notification")
	return nil
}

// MQTTNotifier publishes events on <prefix>/<event>.
type MQTTNotifier struct {
	client mqtt.Client
	prefix string
	now    func() time.Time
}

// NewMQTTNotifier creates a notifier publishing under prefix, e.g. "fleet/notifications".
func NewMQTTNotifier(client mqtt.Client, prefix string) *MQTTNotifier {
	if prefix == "" {
		prefix = "fleet/notifications"
	}
	return &MQTTNotifier{client: client, prefix: prefix, now: time.Now}
}

// Notify publishes the event with QoS 1.
func (n *MQTTNotifier) Notify(ctx context.Context, event Event, v models.Vehicle) error {
	if n.client == nil || !n.client.IsConnectionOpen() {
		return errors.New("mqtt notifier: not connected")
	}
	return mqttutil.PublishJSON(n.client, n.prefix+"/"+string(event), 1, false, NewMessage(event, v, n.now()))
}

// Multi fans an event out to several notifiers and returns the joined errors.
type Multi []Notifier

// Notify delivers to every notifier even when one fails.
func (m Multi) Notify(ctx context.Context, event Event, v models.Vehicle) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
