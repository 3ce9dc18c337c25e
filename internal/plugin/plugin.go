package plugin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/touchportal-mqtt/internal/payload"
	"github.com/nerrad567/touchportal-mqtt/internal/touchportal"
)

const (
	defaultSlots      = 4
	defaultResetDelay = 10 * time.Millisecond
	defaultQueueSize  = 256

	sinkTimeout = 5 * time.Second
)

// ErrInvalidOptions is returned by New for missing collaborators.
var ErrInvalidOptions = errors.New("plugin: invalid options")

// Logger is the logging interface the plugin writes to.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateUpdater pushes state values to TouchPortal.
type StateUpdater interface {
	UpdateState(ctx context.Context, stateID, value string) error
}

// MQTTClient is the part of a connected MQTT client the plugin uses.
type MQTTClient interface {
	Subscribe(ctx context.Context, filter string, handler mqtt.MessageHandler) error
	IsConnected() bool
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	Close() error
}

// Connector dials a broker.
type Connector func(ctx context.Context, cfg config.MQTTConfig) (MQTTClient, error)

// HistoryRecorder stores delivered payloads.
type HistoryRecorder interface {
	Record(ctx context.Context, ev payload.Event) error
}

// MetricsRecorder receives every delivered payload; it must not block.
type MetricsRecorder interface {
	RecordPayload(ev payload.Event)
}

// Broadcaster fans events out to live subscribers.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// Options configures a Plugin. Host is required; everything else has a
// default or is optional.
type Options struct {
	PluginID string
	Host     StateUpdater

	// Connect dials MQTT. Defaults to mqtt.ConnectWithLogger.
	Connect Connector

	// MQTT holds the YAML defaults the TouchPortal settings are laid over.
	MQTT config.MQTTConfig

	Slots      int
	ResetDelay time.Duration

	// QueueSize bounds deliveries waiting for the worker; further
	// deliveries are dropped and counted.
	QueueSize int

	Logger Logger

	History     HistoryRecorder
	Metrics     MetricsRecorder
	Broadcaster Broadcaster
}

// Plugin bridges MQTT deliveries to TouchPortal states. It implements
// touchportal.Handler.
type Plugin struct {
	pluginID   string
	host       StateUpdater
	connect    Connector
	mqttBase   config.MQTTConfig
	slots      int
	resetDelay time.Duration
	logger     Logger

	history     HistoryRecorder
	metrics     MetricsRecorder
	broadcaster Broadcaster

	inbox chan delivery
	queue *gochannel.GoChannel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	topics      *TopicMap
	client      MQTTClient
	generation  uint64
	initCancel  context.CancelFunc
	last        map[int]payload.Event
	lastMQTTErr string

	delivered    atomic.Uint64
	unknown      atomic.Uint64
	updateErrors atomic.Uint64
	dropped      atomic.Uint64
	disconnects  atomic.Uint64

	closeOnce sync.Once
}

// New builds a Plugin and starts its worker. Close releases it.
func New(opts Options) (*Plugin, error) {
	if opts.Host == nil {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidOptions)
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ErrInvalidOptions)
	}
	if opts.PluginID == "" {
		opts.PluginID = DefaultPluginID
	}
	if opts.Slots <= 0 {
		opts.Slots = defaultSlots
	}
	if opts.ResetDelay <= 0 {
		opts.ResetDelay = defaultResetDelay
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Connect == nil {
		opts.Connect = DialMQTT(opts.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Plugin{
		pluginID:    opts.PluginID,
		host:        opts.Host,
		connect:     opts.Connect,
		mqttBase:    opts.MQTT,
		slots:       opts.Slots,
		resetDelay:  opts.ResetDelay,
		logger:      opts.Logger,
		history:     opts.History,
		metrics:     opts.Metrics,
		broadcaster: opts.Broadcaster,
		inbox:       make(chan delivery, opts.QueueSize),
		queue:       newQueue(opts.Logger),
		ctx:         ctx,
		cancel:      cancel,
		last:        make(map[int]payload.Event),
	}

	messages, err := p.queue.Subscribe(ctx, queueTopic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing to delivery queue: %w", err)
	}

	p.wg.Add(2)
	go p.pump()
	go p.run(messages)

	return p, nil
}

// DialMQTT returns a Connector backed by the mqtt package.
func DialMQTT(logger mqtt.Logger) Connector {
	return func(ctx context.Context, cfg config.MQTTConfig) (MQTTClient, error) {
		client, err := mqtt.ConnectWithLogger(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// OnInfo handles the pairing confirmation and its initial settings.
func (p *Plugin) OnInfo(info touchportal.Info) {
	p.logger.Info("touchportal paired",
		"tp_version", info.TPVersionString,
		"sdk_version", info.SDKVersion,
		"plugin_version", info.PluginVersion,
	)
	p.apply(info.Settings)
}

// OnSettings handles the user saving the plugin settings.
func (p *Plugin) OnSettings(settings map[string]string) {
	p.logger.Info("touchportal settings received")
	p.apply(settings)
}

// OnClosePlugin disconnects MQTT; the owner closes the Plugin once the
// host connection ends.
func (p *Plugin) OnClosePlugin() {
	p.logger.Info("touchportal requested plugin shutdown")
	p.teardown()
}

// OnEvent logs host messages the plugin does not act on.
func (p *Plugin) OnEvent(msg touchportal.Message) {
	p.logger.Debug("touchportal message ignored", "type", msg.Type)
}

// apply tears down the current MQTT session and, when the settings are
// usable, starts a new one in the background so the host receive loop is
// not blocked by the broker.
func (p *Plugin) apply(values map[string]string) {
	p.teardown()

	s := ParseSettings(values, p.slots)
	if !s.Validate(p.logger) || !s.ValidateTopics(p.logger) {
		return
	}

	topics := NewTopicMap(s.Topics)
	ctx, cancel := context.WithCancel(p.ctx)

	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		cancel()
		return
	}
	p.generation++
	gen := p.generation
	p.topics = topics
	p.initCancel = cancel
	p.last = make(map[int]payload.Event)
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.initialize(ctx, gen, s.MQTTConfig(p.mqttBase), topics)
	}()
}

// initialize connects and subscribes every distinct filter in topics.
func (p *Plugin) initialize(ctx context.Context, gen uint64, cfg config.MQTTConfig, topics *TopicMap) {
	broker := cfg.Broker.Host + ":" + strconv.Itoa(cfg.Broker.Port)
	p.logger.Info("initializing MQTT connection",
		"broker", broker,
		"client_id", cfg.Broker.ClientID,
		"protocol_version", cfg.Broker.ProtocolVersion,
		"tls", cfg.Broker.TLS,
		"topics", topics.String(),
	)

	client, err := p.connect(ctx, cfg)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("connecting to MQTT broker failed", "broker", broker, "error", err)
		}
		return
	}

	p.mu.Lock()
	if gen != p.generation || ctx.Err() != nil {
		p.mu.Unlock()
		client.Close() //nolint:errcheck // superseded session
		return
	}
	p.client = client
	p.lastMQTTErr = ""
	p.mu.Unlock()

	client.SetOnDisconnect(func(err error) { p.connectionLost(gen, err) })
	client.SetOnConnect(func() { p.connectionRestored(gen) })

	p.logger.Info("connected to MQTT broker", "broker", broker)

	for _, slot := range topics.Slots() {
		if owner, _ := topics.Lookup(slot.Filter); owner != slot.Index {
			p.logger.Warn("topic slot duplicates a lower slot, deliveries go to the lower slot",
				"slot", slot.Index, "filter", slot.Filter, "owner_slot", owner)
		}
	}

	handler := p.deliverer(gen)
	for _, filter := range topics.Filters() {
		slot, _ := topics.Lookup(filter)
		if err := client.Subscribe(ctx, filter, handler); err != nil {
			p.logger.Error("subscribing to MQTT topic failed", "slot", slot, "filter", filter, "error", err)
			continue
		}
		p.logger.Info("subscribed to MQTT topic", "slot", slot, "filter", filter)
	}
}

// connectionLost records a dropped broker connection of session gen. The
// client reconnects on its own.
func (p *Plugin) connectionLost(gen uint64, err error) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.lastMQTTErr = err.Error()
	}
	p.mu.Unlock()

	n := p.disconnects.Add(1)
	p.logger.Warn("MQTT connection lost, waiting for reconnect", "error", err, "disconnects", n)
}

// connectionRestored clears the lost state once session gen reconnects.
func (p *Plugin) connectionRestored(gen uint64) {
	p.mu.Lock()
	if gen != p.generation || p.lastMQTTErr == "" {
		p.mu.Unlock()
		return
	}
	p.lastMQTTErr = ""
	p.mu.Unlock()

	p.logger.Info("MQTT connection restored")
}

// teardown cancels a pending initialisation and closes the MQTT client.
// Deliveries still queued from the closed session are dropped.
func (p *Plugin) teardown() {
	p.mu.Lock()
	p.generation++
	if p.initCancel != nil {
		p.initCancel()
		p.initCancel = nil
	}
	client := p.client
	p.client = nil
	p.topics = nil
	p.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			p.logger.Warn("closing MQTT client failed", "error", err)
		}
		p.logger.Info("disconnected from MQTT broker")
	}
}

// deliverer returns the MQTT handler for one session. It never blocks the
// MQTT library's delivery goroutine: when the inbox is full the message is
// dropped and counted.
func (p *Plugin) deliverer(gen uint64) mqtt.MessageHandler {
	return func(filter, topic string, body []byte) error {
		d := delivery{
			filter:     filter,
			topic:      topic,
			payload:    string(body),
			receivedAt: time.Now(),
			generation: gen,
		}
		select {
		case p.inbox <- d:
		default:
			n := p.dropped.Add(1)
			p.logger.Warn("delivery queue full, dropping MQTT message",
				"filter", filter, "topic", topic, "queue_size", cap(p.inbox), "dropped", n)
		}
		return nil
	}
}

// pump moves inbox deliveries onto the queue in arrival order. Each
// Publish waits for the worker's ack.
func (p *Plugin) pump() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case d := <-p.inbox:
			if err := p.queue.Publish(queueTopic, encodeDelivery(d)); err != nil {
				if p.ctx.Err() == nil {
					p.logger.Error("queueing delivery failed", "filter", d.filter, "error", err)
				}
				return
			}
		}
	}
}

// run is the single worker; one delivery's state pulse finishes before
// the next starts.
func (p *Plugin) run(messages <-chan *message.Message) {
	defer p.wg.Done()
	for msg := range messages {
		d := decodeDelivery(msg)

		p.mu.RLock()
		stale := d.generation != p.generation
		topics := p.topics
		p.mu.RUnlock()

		if stale {
			p.logger.Debug("dropping delivery from a previous MQTT session", "filter", d.filter)
		} else {
			p.handlePayload(p.ctx, topics, d)
		}
		msg.Ack()
	}
}

// handlePayload maps a delivery to its slot and pulses the TouchPortal
// states: "Topic N", the payload, then "Any topic" after the reset delay.
func (p *Plugin) handlePayload(ctx context.Context, topics *TopicMap, d delivery) {
	slot, ok := topics.Lookup(d.filter)
	if !ok {
		p.unknown.Add(1)
		p.logger.Error("could not trigger event/state update, topic does not exist",
			"filter", d.filter, "topic", d.topic, "active_topics", topics.String())
		return
	}

	lastTopic := LastTopicStateID(p.pluginID)
	p.updateState(ctx, lastTopic, payload.SlotLabel(slot))
	p.updateState(ctx, PayloadStateID(p.pluginID, slot), d.payload)

	timer := time.NewTimer(p.resetDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}
	p.updateState(ctx, lastTopic, AnyTopic)

	ev := payload.Event{
		Slot:       slot,
		Filter:     d.filter,
		Topic:      d.topic,
		Payload:    d.payload,
		ReceivedAt: d.receivedAt,
	}
	p.delivered.Add(1)
	p.mu.Lock()
	p.last[slot] = ev
	p.mu.Unlock()

	p.forward(ctx, ev)
}

func (p *Plugin) updateState(ctx context.Context, id, value string) {
	if err := p.host.UpdateState(ctx, id, value); err != nil {
		p.updateErrors.Add(1)
		p.logger.Error("updating touchportal state failed", "state", id, "error", err)
	}
}

// forward hands ev to the optional sinks.
func (p *Plugin) forward(ctx context.Context, ev payload.Event) {
	if p.history != nil {
		hctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := p.history.Record(hctx, ev); err != nil {
			p.logger.Warn("recording payload history failed", "slot", ev.Slot, "error", err)
		}
		cancel()
	}
	if p.metrics != nil {
		p.metrics.RecordPayload(ev)
	}
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(payload.EventReceived, ev)
	}
}

// SlotStatus describes one configured slot.
type SlotStatus struct {
	Slot         int        `json:"slot"`
	Filter       string     `json:"filter"`
	LastTopic    string     `json:"last_topic,omitempty"`
	LastPayload  string     `json:"last_payload,omitempty"`
	LastReceived *time.Time `json:"last_received,omitempty"`
}

// Status is a point-in-time view of the bridge.
type Status struct {
	PluginID      string       `json:"plugin_id"`
	MQTTConnected bool         `json:"mqtt_connected"`
	Slots         []SlotStatus `json:"slots"`
	Delivered     uint64       `json:"delivered"`
	Unknown       uint64       `json:"unknown_topic"`
	UpdateErrors  uint64       `json:"update_errors"`
	Dropped       uint64       `json:"dropped"`

	MQTTDisconnects uint64 `json:"mqtt_disconnects"`
	MQTTLastError   string `json:"mqtt_last_error,omitempty"`
}

// Status reports connection state, active slots and the last payload per slot.
func (p *Plugin) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := Status{
		PluginID:      p.pluginID,
		MQTTConnected: p.client != nil && p.client.IsConnected(),
		Slots:         make([]SlotStatus, 0, p.topics.Len()),
		Delivered:     p.delivered.Load(),
		Unknown:       p.unknown.Load(),
		UpdateErrors:  p.updateErrors.Load(),
		Dropped:       p.dropped.Load(),

		MQTTDisconnects: p.disconnects.Load(),
		MQTTLastError:   p.lastMQTTErr,
	}
	for _, s := range p.topics.Slots() {
		ss := SlotStatus{Slot: s.Index, Filter: s.Filter}
		if ev, ok := p.last[s.Index]; ok {
			received := ev.ReceivedAt
			ss.LastTopic = ev.Topic
			ss.LastPayload = ev.Payload
			ss.LastReceived = &received
		}
		st.Slots = append(st.Slots, ss)
	}
	return st
}

// Close disconnects MQTT, stops the worker and waits for background work.
func (p *Plugin) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.cancel()
		p.mu.Unlock()

		p.teardown()
		err = p.queue.Close()
		p.wg.Wait()
	})
	if err != nil {
		return fmt.Errorf("closing delivery queue: %w", err)
	}
	return nil
}
