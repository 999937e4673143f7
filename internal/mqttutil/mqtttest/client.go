// Package mqtttest provides an in-memory mqtt.Client for tests.
package mqtttest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Published is a message captured by Client.Publish.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client records publishes and routes Deliver calls to subscribers.
type Client struct {
	mu           sync.Mutex
	connected    bool
	PublishErr   error
	SubscribeErr error
	published    []Published
	handlers     map[string]mqtt.MessageHandler
}

// NewClient returns a connected fake client.
func NewClient() *Client {
	return &Client{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

// SetConnected toggles the reported connection state.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Published returns the captured messages.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Published, len(c.published))
	copy(out, c.published)
	return out
}

// Subscribed reports whether a handler is registered for topic.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

// Deliver invokes the handler subscribed to topic, if any.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, &message{topic: topic, payload: payload})
	return true
}

func (c *Client) IsConnected() bool { return c.IsConnectionOpen() }

func (c *Client) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Connect() mqtt.Token {
	c.SetConnected(true)
	return &Token{}
}

func (c *Client) Disconnect(quiesce uint) { c.SetConnected(false) }

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr != nil {
		return &Token{Err: c.PublishErr}
	}
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	}
	c.published = append(c.published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: body})
	return &Token{}
}

func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return &Token{Err: c.SubscribeErr}
	}
	c.handlers[topic] = callback
	return &Token{}
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		if t := c.Subscribe(topic, qos, callback); t.Error() != nil {
			return t
		}
	}
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	return &Token{}
}

func (c *Client) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	c.handlers[topic] = callback
	c.mu.Unlock()
}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// Token is an already-completed token.
type Token struct {
	Err error
}

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Error() error                   { return t.Err }

func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 1 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
