package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lumen-core/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds the first connect and each retry.
	defaultConnectTimeout = 10 * time.Second

	// defaultAckTimeout bounds waiting for a publish or subscribe ack.
	defaultAckTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is how long Close lets in-flight work finish,
	// in milliseconds.
	defaultDisconnectQuiesce = 1000

	// defaultKeepAlive is the MQTT keepalive interval.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the highest MQTT QoS level.
	maxQoS = 2

	// maxPayloadSize caps one publish. Light payloads are a few hundred bytes.
	maxPayloadSize = 1 << 20

	tlsMinVersion = tls.VersionTLS12
)

// brokerURL returns tcp://host:port, or ssl:// when TLS is on.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions maps the mqtt config section onto paho options.
//
// Sessions are clean: the client restores its own subscriptions after a
// reconnect instead of relying on broker-side session state. The last
// will marks the process offline with reason unexpected_disconnect.
func buildClientOptions(cfg config.MQTTConfig, now time.Time) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	opts.SetBinaryWill(
		Topics{}.SystemStatus(),
		statusPayload(StatusOffline, cfg.Broker.ClientID, reasonUnexpected, now),
		byte(cfg.QoS),
		true,
	)
	return opts
}
