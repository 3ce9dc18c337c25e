package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/config"
)

// Client is a protocol-independent MQTT client.
//
// It provides connection management, message publishing and subscription
// handling on top of either paho.mqtt.golang (MQTT 3.1.1) or paho.golang's
// autopaho (MQTT 5). Reconnection is left to the underlying library.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	cfg       config.MQTTConfig
	transport transport

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger for error/panic logging (optional, set via ConnectWithLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	filter  string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on the MQTT library's delivery goroutines and must
// not block.
//
// Parameters:
//   - filter: The subscription filter the message was delivered for
//   - topic: The concrete topic the message was published on
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(filter, topic string, payload []byte) error

// transport is the protocol-specific half of a Client.
type transport interface {
	subscribe(ctx context.Context, filter string, qos byte) error
	unsubscribe(ctx context.Context, filter string) error
	publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	connected() bool
	disconnect(ctx context.Context) error
}

// Connect establishes a connection to the MQTT broker.
//
// The protocol version in cfg.Broker.ProtocolVersion selects the
// implementation (4 = MQTT 3.1.1, 5 = MQTT 5). The call blocks until the
// broker accepts the connection, ctx is done, or the configured connect
// timeout elapses.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	return ConnectWithLogger(ctx, cfg, nil)
}

// ConnectWithLogger is Connect with a logger installed before the first
// connection event fires.
func ConnectWithLogger(ctx context.Context, cfg config.MQTTConfig, logger Logger) (*Client, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}

	c := newClient(cfg)
	c.logger = logger

	ctx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
	defer cancel()

	// dial* install c.transport before connecting so that connection
	// callbacks never observe a nil transport.
	var err error
	switch cfg.Broker.ProtocolVersion {
	case config.ProtocolV311:
		err = dialV3(ctx, c)
	case config.ProtocolV5, 0:
		err = dialV5(ctx, c)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedProtocol, cfg.Broker.ProtocolVersion)
	}
	if err != nil {
		return nil, err
	}

	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}
}

// handleConnect is called when the connection is established or re-established.
func (c *Client) handleConnect() {
	c.logInfo("MQTT connected",
		"broker", brokerAddress(c.cfg),
		"client_id", c.cfg.Broker.ClientID,
	)

	go func() {
		c.restoreSubscriptions()
		c.publishStatus(statusOnline)
	}()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.logWarn("MQTT connection lost", "error", err)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked filters after reconnect.
func (c *Client) restoreSubscriptions() {
	if c.transport == nil {
		return
	}

	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), defaultOperationTimeout)
		err := c.transport.subscribe(ctx, sub.filter, sub.qos)
		cancel()
		if err != nil {
			c.logError("MQTT resubscribe failed", "filter", sub.filter, "error", err)
		}
	}
}

// deliver routes a received message to the handler registered for filter.
func (c *Client) deliver(filter, topic string, payload []byte) {
	c.subMu.RLock()
	sub, ok := c.subscriptions[filter]
	c.subMu.RUnlock()
	if !ok {
		return
	}
	c.invoke(sub, topic, payload)
}

// deliverMatching routes a message to every tracked filter that matches
// topic. Used where the library offers a single global receive callback.
func (c *Client) deliverMatching(topic string, payload []byte) {
	for _, sub := range c.matching(topic) {
		c.invoke(sub, topic, payload)
	}
}

func (c *Client) matching(topic string) []subscription {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	var subs []subscription
	for _, sub := range c.subscriptions {
		if MatchTopic(sub.filter, topic) {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].filter < subs[j].filter })
	return subs
}

// invoke calls a handler with panic recovery and optional logging.
func (c *Client) invoke(sub subscription, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("MQTT handler panic recovered",
				"filter", sub.filter,
				"topic", topic,
				"panic", r,
			)
		}
	}()

	if err := sub.handler(sub.filter, topic, payload); err != nil {
		c.logWarn("MQTT handler returned error",
			"filter", sub.filter,
			"topic", topic,
			"error", err,
		)
	}
}

// Close gracefully disconnects from the MQTT broker.
//
// When a status topic is configured a retained "offline" status is
// published first, distinguishing a clean shutdown from the LWT.
func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus(statusOffline)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOperationTimeout)
	defer cancel()
	return c.transport.disconnect(ctx)
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state as reported by the library.
func (c *Client) IsConnected() bool {
	return c.transport != nil && c.transport.connected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logInfo(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, args...)
	}
}

func connectTimeout(cfg config.MQTTConfig) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return time.Duration(cfg.ConnectTimeout) * time.Second
	}
	return defaultConnectTimeout
}
