// client.go: paho-backed implementation of the Client interface.
package mqtt

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
)

const defaultClientID = "audiohub"

// Reconnect backoff bounds after a lost connection.
const (
	initialRetryBackoff = time.Second
	maxRetryBackoff     = 5 * time.Minute
)

// client wraps a paho connection with reconnect pacing and metrics.
type client struct {
	config      Config
	paho        mqtt.Client
	lastAttempt time.Time
	mu          sync.Mutex
	retryTimer  *time.Timer
	stopRetry   chan struct{}
	stopOnce    sync.Once
	metrics     *metrics.MQTTMetrics
	logger      *slog.Logger
}

// NewClient creates an MQTT client from the broker settings. Timeouts and
// reconnect pacing come from DefaultConfig.
func NewClient(settings *conf.Settings, m *metrics.MQTTMetrics) Client {
	config := DefaultConfig()
	config.Broker = settings.MQTT.Broker
	config.ClientID = settings.Main.Name
	if config.ClientID == "" {
		config.ClientID = defaultClientID
	}
	config.Username = settings.MQTT.Username
	config.Password = settings.MQTT.Password
	config.Topic = settings.MQTT.Topic
	config.QoS = settings.MQTT.QoS
	config.Retain = settings.MQTT.Retain

	return &client{
		config:    config,
		stopRetry: make(chan struct{}),
		metrics:   m,
		logger:    logging.ForService("mqtt"),
	}
}

// Connect attempts to establish a connection to the MQTT broker. The broker
// hostname is resolved first so DNS failures surface as such instead of as
// opaque connect timeouts.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Kind(errors.KindConnection).
			Build()
	}
	c.lastAttempt = time.Now()

	if err := c.resolveBroker(ctx); err != nil {
		return err
	}

	c.paho = mqtt.NewClient(c.pahoOptions())

	token := c.paho.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return connectionError("connection timeout", c.config.Broker)
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Kind(errors.KindConnection).
			Context("broker", c.config.Broker).
			Build()
	}

	if c.metrics != nil {
		c.metrics.ObserveConnection(true)
	}
	return nil
}

// resolveBroker validates the broker URL and pre-resolves its hostname.
// A *net.DNSError passes through unwrapped so callers can detect it.
func (c *client) resolveBroker(ctx context.Context) error {
	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Context("broker", c.config.Broker).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return nil
	}

	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return dnsErr
		}
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Kind(errors.KindConnection).
			Context("host", host).
			Build()
	}
	return nil
}

// pahoOptions translates the config into paho client options. Paho's own
// auto-reconnect stays on for transient drops; the handler-driven backoff
// below covers broker restarts that outlive it.
func (c *client) pahoOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.config.Broker).
		SetClientID(c.config.ClientID).
		SetUsername(c.config.Username).
		SetPassword(c.config.Password).
		SetCleanSession(true).
		SetAutoReconnect(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	return opts
}

// Publish sends a message to the specified topic with the configured QoS and
// retain flag.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return connectionError("not connected to MQTT broker", c.config.Broker)
	}

	start := time.Now()
	token := c.paho.Publish(topic, c.config.QoS, c.config.Retain, payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		if c.metrics != nil {
			c.metrics.RecordFailure(metrics.MQTTStagePublishTimeout)
		}
		return errors.Newf("publish timeout for topic %s", topic).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Kind(errors.KindTimeout).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		if c.metrics != nil {
			c.metrics.RecordFailure(metrics.MQTTStagePublish)
		}
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Kind(errors.KindConnection).
			Context("topic", topic).
			Build()
	}

	if c.metrics != nil {
		c.metrics.RecordDelivery(len(payload), time.Since(start).Seconds())
	}
	c.logger.Debug("message published", "topic", topic, "bytes", len(payload))
	return nil
}

// IsConnected reports whether the underlying paho connection is up.
func (c *client) IsConnected() bool {
	return c.paho != nil && c.paho.IsConnected()
}

// Disconnect closes the connection to the MQTT broker. Safe to call more
// than once.
func (c *client) Disconnect() {
	if c.paho != nil && c.paho.IsConnected() {
		c.paho.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		if c.metrics != nil {
			c.metrics.ObserveConnection(false)
		}
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.stopOnce.Do(func() { close(c.stopRetry) })
}

func (c *client) onConnect(_ mqtt.Client) {
	c.logger.Info("connected to broker", "broker", c.config.Broker)
	if c.metrics != nil {
		c.metrics.ObserveConnection(true)
	}
}

func (c *client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("connection to broker lost", "broker", c.config.Broker, "error", err)
	if c.metrics != nil {
		c.metrics.ObserveConnection(false)
		c.metrics.RecordFailure(metrics.MQTTStageConnection)
	}

	c.retryTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		select {
		case <-c.stopRetry:
		default:
			c.reconnectLoop()
		}
	})
}

// reconnectLoop retries the connection with exponential backoff until it
// succeeds or Disconnect stops it.
func (c *client) reconnectLoop() {
	backoff := initialRetryBackoff

	for {
		if c.metrics != nil {
			c.metrics.RecordReconnectAttempt()
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.logger.Info("reconnected to broker", "broker", c.config.Broker)
			return
		}

		if c.metrics != nil {
			c.metrics.RecordFailure(metrics.MQTTStageReconnect)
		}
		c.logger.Warn("reconnect failed", "broker", c.config.Broker, "error", err, "retry_in", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxRetryBackoff)
		case <-c.stopRetry:
			return
		}
	}
}

func connectionError(msg, broker string) error {
	return errors.Newf("%s", msg).
		Component("mqtt").
		Category(errors.CategoryNetwork).
		Kind(errors.KindConnection).
		Context("broker", broker).
		Build()
}
