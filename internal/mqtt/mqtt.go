// Package mqtt publishes training and labelling progress to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/carnet-go/internal/conf"
)

// Client defines the MQTT operations used by the publisher.
type Client interface {
	// Connect resolves the broker host and connects.
	Connect(ctx context.Context) error

	// Publish sends payload to topic and waits for delivery.
	Publish(ctx context.Context, topic, payload string) error

	IsConnected() bool

	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string // topic prefix
	Retain            bool
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values.
func DefaultConfig() Config {
	return Config{
		ClientID:          "carnet",
		Topic:             "carnet",
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings builds a Config from the mqtt settings section, keeping
// defaults for empty fields.
func ConfigFromSettings(s *conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.Retain = s.Retain
	if s.ClientID != "" {
		cfg.ClientID = s.ClientID
	}
	if s.Topic != "" {
		cfg.Topic = s.Topic
	}
	if s.Timeout > 0 {
		cfg.PublishTimeout = s.Timeout
	}
	return cfg
}
