package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultOperationTimeout bounds subscribe/publish/disconnect round trips
	// started internally (resubscribe, status publish, Close).
	defaultOperationTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval in seconds.
	defaultKeepAlive = 60

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Status values published on mqtt.status_topic.
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

func brokerAddress(cfg config.MQTTConfig) string {
	return fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port)
}

func keepAlive(cfg config.MQTTConfig) int {
	if cfg.KeepAlive > 0 {
		return cfg.KeepAlive
	}
	return defaultKeepAlive
}

func tlsConfig(cfg config.MQTTConfig) *tls.Config {
	if !cfg.Broker.TLS {
		return nil
	}
	return &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: cfg.Broker.Host,
	}
}

// buildClientOptions creates paho MQTT 3.1.1 options from config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials
//   - Auto-reconnect with exponential backoff after the first connection
//   - Last Will and Testament when a status topic is configured
//
// The initial connect is not retried: a failure is reported to the caller
// so it can be logged, matching the MQTT 5 path.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s", scheme, brokerAddress(cfg)))

	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetProtocolVersion(4)
	opts.SetCleanSession(true)
	// Deliveries keep broker order; handlers must not block.
	opts.SetOrderMatters(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}

	opts.SetConnectTimeout(connectTimeout(cfg))
	opts.SetKeepAlive(time.Duration(keepAlive(cfg)) * time.Second)

	if tc := tlsConfig(cfg); tc != nil {
		opts.SetTLSConfig(tc)
	}

	if cfg.StatusTopic != "" {
		opts.SetBinaryWill(cfg.StatusTopic, buildStatusPayload(cfg.Broker.ClientID, statusOffline), byte(cfg.QoS), true) //nolint:gosec // QoS validated
	}

	return opts
}

// buildV5Config creates the autopaho configuration for MQTT 5.
//
// Callbacks are left for dialV5 to fill in.
func buildV5Config(cfg config.MQTTConfig) (autopaho.ClientConfig, error) {
	scheme := "mqtt"
	if cfg.Broker.TLS {
		scheme = "mqtts"
	}
	serverURL, err := url.Parse(fmt.Sprintf("%s://%s", scheme, brokerAddress(cfg)))
	if err != nil {
		return autopaho.ClientConfig{}, fmt.Errorf("%w: broker url: %w", ErrConnectionFailed, err)
	}

	ac := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     uint16(keepAlive(cfg)), //nolint:gosec // seconds, small
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         0,
		ConnectTimeout:                connectTimeout(cfg),
		TlsCfg:                        tlsConfig(cfg),
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.Broker.ClientID,
		},
	}

	if cfg.Auth.Username != "" {
		ac.ConnectUsername = cfg.Auth.Username
		ac.ConnectPassword = []byte(cfg.Auth.Password)
	}

	if cfg.StatusTopic != "" {
		ac.WillMessage = &paho.WillMessage{
			Topic:   cfg.StatusTopic,
			Payload: buildStatusPayload(cfg.Broker.ClientID, statusOffline),
			QoS:     byte(cfg.QoS), //nolint:gosec // QoS validated
			Retain:  true,
		}
	}

	return ac, nil
}

// buildStatusPayload creates the JSON payload for status messages.
func buildStatusPayload(clientID, status string) []byte {
	return []byte(fmt.Sprintf(
		`{"status":%q,"client_id":%q,"timestamp":%q}`,
		status,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	))
}
