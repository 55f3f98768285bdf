// Package mqtt publishes task lifecycle events to an MQTT broker.
package mqtt

import (
	"context"
	"time"
)

// Config carries broker connection settings. Zero durations are replaced
// with the DefaultConfig values by NewClient.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string // default topic when Publish callers pass none upstream
	QoS               byte
	Retain            bool
	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with the stock timeouts.
func DefaultConfig() Config {
	return Config{
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// Client is the broker-facing surface the publisher depends on.
type Client interface {
	// Connect dials the broker, honoring the configured connect timeout.
	Connect(ctx context.Context) error

	// Publish sends payload to topic and waits for the broker ack or the
	// publish timeout, whichever comes first.
	Publish(ctx context.Context, topic string, payload string) error

	// IsConnected reports whether the underlying connection is up.
	IsConnected() bool

	// Disconnect closes the connection and stops any pending reconnect.
	Disconnect()
}
