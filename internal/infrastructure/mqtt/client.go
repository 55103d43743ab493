package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lumen-core/internal/infrastructure/config"
)

// Logger is the logging surface the client needs. *logging.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives one message. topic is the concrete topic, with
// wildcards resolved. A returned error is logged; the message is still
// acknowledged.
type MessageHandler func(topic string, payload []byte) error

// newPahoClient builds the underlying paho client.
var newPahoClient = pahomqtt.NewClient

// Client is lumen's broker connection.
//
// paho handles reconnecting. On every reconnect the client publishes the
// online status again and replays its subscriptions in topic order, so the
// bridge's command filter survives a broker restart without the bridge
// noticing. All methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	logger Logger
	now    func() time.Time

	subMu         sync.Mutex
	subscriptions map[string]subscription

	connected  atomic.Bool
	connects   atomic.Uint64
	reconnects atomic.Uint64
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect opens the broker connection described by cfg and waits for the
// first CONNACK.
//
// Parameters:
//   - cfg: the mqtt config section
//   - logger: receives link and handler events; nil discards them
//
// Returns:
//   - *Client: connected and marked online on lumen/system/status
//   - error: wraps ErrConnectionFailed on timeout or refusal
func Connect(cfg config.MQTTConfig, logger Logger) (*Client, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Client{
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg, c.now())
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logger.Info("mqtt reconnecting", "broker", brokerURL(cfg))
	})

	c.paho = newPahoClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: %s: timeout after %v", ErrConnectionFailed, brokerURL(cfg), defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// The on-connect handler runs on its own goroutine and may lag.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	if c.connects.Add(1) == 1 {
		c.logger.Debug("mqtt session established", "broker", brokerURL(c.cfg))
	} else {
		c.reconnects.Add(1)
		c.logger.Info("mqtt reconnected", "broker", brokerURL(c.cfg), "subscriptions", c.subscriptionCount())
	}
	c.restoreSubscriptions()
	c.publishStatus(StatusOnline, "")
}

func (c *Client) handleConnectionLost(err error) {
	c.connected.Store(false)
	c.logger.Warn("mqtt connection lost", "broker", brokerURL(c.cfg), "error", err)
}

func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	payload := statusPayload(status, c.cfg.Broker.ClientID, reason, c.now())
	return c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload)
}

// Close publishes a graceful offline status and disconnects. It is safe
// to call on a client that never connected.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(StatusOffline, reasonGraceful).WaitTimeout(defaultAckTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker link is up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// Reconnects returns how many times the link came back after a loss.
func (c *Client) Reconnects() uint64 {
	return c.reconnects.Load()
}
