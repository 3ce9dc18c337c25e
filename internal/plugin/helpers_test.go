package plugin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/touchportal-mqtt/internal/payload"
)

type logLine struct {
	level string
	msg   string
	args  []any
}

// recordingLogger captures log lines for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	lines []logLine
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, logLine{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordingLogger) errors() []logLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logLine
	for _, line := range l.lines {
		if line.level == "error" {
			out = append(out, line)
		}
	}
	return out
}

func (l *recordingLogger) has(level, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if line.level == level && strings.Contains(line.msg, substr) {
			return true
		}
	}
	return false
}

type stateUpdate struct {
	id    string
	value string
	at    time.Time
}

// fakeHost records TouchPortal state updates. A non-nil block holds
// every update until it is closed.
type fakeHost struct {
	mu      sync.Mutex
	updates []stateUpdate
	err     error
	block   chan struct{}
}

func (h *fakeHost) UpdateState(ctx context.Context, id, value string) error {
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, stateUpdate{id: id, value: value, at: time.Now()})
	return h.err
}

func (h *fakeHost) snapshot() []stateUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]stateUpdate(nil), h.updates...)
}

// fakeMQTT is an in-memory MQTTClient.
type fakeMQTT struct {
	mu        sync.Mutex
	cfg       config.MQTTConfig
	handlers  map[string]mqtt.MessageHandler
	order     []string
	failOn    map[string]bool
	closed    int
	connected bool

	onConnect    func()
	onDisconnect func(err error)
}

func (f *fakeMQTT) Subscribe(_ context.Context, filter string, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[filter] {
		return fmt.Errorf("%w: rejected", mqtt.ErrSubscribeFailed)
	}
	f.handlers[filter] = handler
	f.order = append(f.order, filter)
	return nil
}

func (f *fakeMQTT) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeMQTT) SetOnConnect(callback func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = callback
}

func (f *fakeMQTT) SetOnDisconnect(callback func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = callback
}

// drop simulates a lost broker connection.
func (f *fakeMQTT) drop(err error) {
	f.mu.Lock()
	f.connected = false
	callback := f.onDisconnect
	f.mu.Unlock()
	if callback != nil {
		callback(err)
	}
}

// restore simulates a successful automatic reconnect.
func (f *fakeMQTT) restore() {
	f.mu.Lock()
	f.connected = true
	callback := f.onConnect
	f.mu.Unlock()
	if callback != nil {
		callback()
	}
}

func (f *fakeMQTT) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.connected = false
	return nil
}

func (f *fakeMQTT) deliver(t *testing.T, filter, topic, body string) {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[filter]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %q", filter)
	}
	if err := h(filter, topic, []byte(body)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

func (f *fakeMQTT) subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeMQTT) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeBroker hands out fakeMQTT clients and remembers them.
type fakeBroker struct {
	mu      sync.Mutex
	clients []*fakeMQTT
	failOn  map[string]bool
	err     error
}

func (b *fakeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *fakeBroker) client(i int) *fakeMQTT {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clients[i]
}

func (b *fakeBroker) connect(_ context.Context, cfg config.MQTTConfig) (MQTTClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	c := &fakeMQTT{cfg: cfg, handlers: make(map[string]mqtt.MessageHandler), failOn: b.failOn, connected: true}
	b.clients = append(b.clients, c)
	return c, nil
}

var errBrokerDown = errors.New("broker down")

// recordingSinks implements the optional history, metrics and broadcast sinks.
type recordingSinks struct {
	mu         sync.Mutex
	history    []payload.Event
	metrics    []payload.Event
	broadcasts []string
}

func (s *recordingSinks) Record(_ context.Context, ev payload.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, ev)
	return nil
}

func (s *recordingSinks) RecordPayload(ev payload.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, ev)
}

func (s *recordingSinks) Broadcast(eventType string, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, eventType)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func validSettings(topics ...string) map[string]string {
	m := map[string]string{
		SettingClientID: "tp-test",
		SettingHost:     "broker.local",
		SettingPort:     "8883",
		SettingUseSSL:   "true",
		SettingUseV3:    "false",
		SettingUsername: "user",
		SettingPassword: "secret",
	}
	for i, topic := range topics {
		m[TopicSetting(i+1)] = topic
	}
	return m
}
