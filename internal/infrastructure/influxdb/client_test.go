package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/touchportal-mqtt/internal/payload"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu     sync.Mutex
	lines  []string
	status int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{status: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			f.mu.Lock()
			f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			status := f.status
			f.mu.Unlock()
			w.WriteHeader(status)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "home",
		Bucket:        "mqtt",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
	return client
}

func TestConnect(t *testing.T) {
	server := newFakeInflux(t)
	client := connect(t, testConfig(server.URL))

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Errors(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig("http://127.0.0.1:1")
		cfg.Enabled = false
		if _, err := influxdb.Connect(context.Background(), cfg); !errors.Is(err, influxdb.ErrDisabled) {
			t.Errorf("Connect() error = %v, want ErrDisabled", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		if _, err := influxdb.Connect(context.Background(), testConfig("http://127.0.0.1:1")); !errors.Is(err, influxdb.ErrConnectionFailed) {
			t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
		}
	})
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	server := newFakeInflux(t)
	cfg := testConfig(server.URL)
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client := connect(t, cfg)
	if !client.IsConnected() {
		t.Error("IsConnected() = false with default batch settings")
	}
}

func TestRecordPayload(t *testing.T) {
	server := newFakeInflux(t)
	client := connect(t, testConfig(server.URL))
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	client.RecordPayload(payload.Event{Slot: 2, Topic: "home/hall/temp", Payload: "21.5", ReceivedAt: ts})
	client.RecordPayload(payload.Event{Slot: 1, Topic: "home/door", Payload: `{"open":true}`, ReceivedAt: ts})
	client.Flush()

	deadline := time.Now().Add(2 * time.Second)
	var lines []string
	for time.Now().Before(deadline) {
		if lines = server.written(); len(lines) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(lines) != 1 {
		t.Fatalf("written lines = %q, want exactly one point", lines)
	}
	line := lines[0]
	for _, want := range []string{influxdb.Measurement, "slot=2", `topic=home/hall/temp`, "value=21.5"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}

	if stats := client.Stats(); stats.Written != 1 || stats.Skipped != 1 {
		t.Errorf("Stats() = %+v, want 1 written and 1 skipped", stats)
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	server := newFakeInflux(t)
	server.mu.Lock()
	server.status = http.StatusBadRequest
	server.mu.Unlock()

	client := connect(t, testConfig(server.URL))

	errCh := make(chan error, 4)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.RecordPayload(payload.Event{Slot: 1, Topic: "t", Payload: "1"})
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("write error never reached the callback")
	}
}

func TestClose(t *testing.T) {
	server := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	client.RecordPayload(payload.Event{Slot: 1, Payload: "1"})
	if stats := client.Stats(); stats.Written != 0 {
		t.Errorf("RecordPayload after Close wrote %d points", stats.Written)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
