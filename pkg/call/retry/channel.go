package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Request is one redial order handed to the scheduling channel.
type Request struct {
	LeadID      string        `json:"lead_id"`
	PhoneNumber string        `json:"phone_number"`
	Attempt     int           `json:"attempt"`
	Reason      string        `json:"reason"`
	Delay       time.Duration `json:"delay_ms"`
}

// Channel is the preferred external scheduling path. Errors fall back to a
// direct redial through the dialer.
type Channel interface {
	RequestRedial(ctx context.Context, req Request) error
}

// MQTTOptions configures the broker-backed channel.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
}

// MQTTChannel publishes redial orders to an MQTT topic consumed by an
// external campaign scheduler.
type MQTTChannel struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTChannel creates and connects the broker-backed channel.
func NewMQTTChannel(opts MQTTOptions) (*MQTTChannel, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}
	return &MQTTChannel{client: client, topic: opts.Topic, qos: opts.QoS}, nil
}

func (c *MQTTChannel) RequestRedial(_ context.Context, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling redial request: %w", err)
	}
	token := c.client.Publish(c.topic, c.qos, false, data)
	token.Wait()
	return token.Error()
}

func (c *MQTTChannel) Close() error {
	c.client.Disconnect(1000)
	return nil
}

// MockChannel records redial requests in memory for tests.
type MockChannel struct {
	mu       sync.Mutex
	requests []Request
	err      error
}

func NewMockChannel() *MockChannel {
	return &MockChannel{}
}

func (m *MockChannel) RequestRedial(_ context.Context, req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.requests = append(m.requests, req)
	return nil
}

func (m *MockChannel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockChannel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
