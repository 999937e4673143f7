// Package mqttutil holds the MQTT connection helpers shared by the
// notification, snapshot and device-location adapters.
package mqttutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds how long a publish or subscribe waits for the broker.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt: operation timed out")

// Connect opens a client connection to broker.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			log.WithField("broker", broker).Info("MQTT connected")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("connect %s: %w", broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, err)
	}
	return client, nil
}

// Wait blocks on token for at most timeout and returns its error.
func Wait(token mqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !token.WaitTimeout(timeout) {
		return ErrTimeout
	}
	return token.Error()
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(client mqtt.Client, topic string, qos byte, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	if err := Wait(client.Publish(topic, qos, retained, payload), DefaultTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
