package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
touchportal:
  plugin_id: "TestPlugin"
mqtt:
  broker:
    host: "broker.local"
    port: 8883
    tls: true
    client_id: "test-client"
    protocol_version: 4
  qos: 0
bridge:
  topic_slots: 6
  reset_delay: 25ms
database:
  enabled: true
  path: "/tmp/test.db"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TouchPortal.PluginID != "TestPlugin" {
		t.Errorf("TouchPortal.PluginID = %q, want %q", cfg.TouchPortal.PluginID, "TestPlugin")
	}
	if cfg.TouchPortal.Port != 12136 {
		t.Errorf("TouchPortal.Port = %d, want default 12136", cfg.TouchPortal.Port)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.Broker.ProtocolVersion != ProtocolV311 {
		t.Errorf("MQTT.Broker.ProtocolVersion = %d, want %d", cfg.MQTT.Broker.ProtocolVersion, ProtocolV311)
	}
	if cfg.Bridge.TopicSlots != 6 {
		t.Errorf("Bridge.TopicSlots = %d, want 6", cfg.Bridge.TopicSlots)
	}
	if cfg.Bridge.ResetDelay != 25*time.Millisecond {
		t.Errorf("Bridge.ResetDelay = %v, want 25ms", cfg.Bridge.ResetDelay)
	}
	if !cfg.Database.Enabled || cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database = %+v, want enabled with /tmp/test.db", cfg.Database)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
bridge:
  topic_slots: 0
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for zero topic_slots, got nil")
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatalf("LoadOrDefault() error = %v", err)
		}
		if cfg.Bridge.TopicSlots != 4 {
			t.Errorf("Bridge.TopicSlots = %d, want 4", cfg.Bridge.TopicSlots)
		}
	})

	t.Run("invalid file is still an error", func(t *testing.T) {
		_, err := LoadOrDefault(writeConfig(t, "invalid: [yaml"))
		if err == nil {
			t.Error("LoadOrDefault() expected error for invalid YAML, got nil")
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid protocol version", mutate: func(c *Config) { c.MQTT.Broker.ProtocolVersion = 3 }, wantErr: true},
		{name: "zero topic slots", mutate: func(c *Config) { c.Bridge.TopicSlots = 0 }, wantErr: true},
		{name: "negative reset delay", mutate: func(c *Config) { c.Bridge.ResetDelay = -time.Millisecond }, wantErr: true},
		{name: "zero reset delay", mutate: func(c *Config) { c.Bridge.ResetDelay = 0 }, wantErr: true},
		{name: "missing plugin id", mutate: func(c *Config) { c.TouchPortal.PluginID = "" }, wantErr: true},
		{name: "touchportal port out of range", mutate: func(c *Config) { c.TouchPortal.Port = 70000 }, wantErr: true},
		{
			name:    "database enabled without path",
			mutate:  func(c *Config) { c.Database.Enabled = true; c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "database disabled without path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: false,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "api enabled with invalid port",
			mutate:  func(c *Config) { c.API.Enabled = true; c.API.Port = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := (TouchPortalConfig{ConnectTimeout: 5}).Timeout(); got != 5*time.Second {
		t.Errorf("TouchPortalConfig.Timeout() = %v, want 5s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("TPMQTT_TOUCHPORTAL_PORT", "13000")
	t.Setenv("TPMQTT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("TPMQTT_MQTT_PORT", "8883")
	t.Setenv("TPMQTT_MQTT_USERNAME", "testuser")
	t.Setenv("TPMQTT_MQTT_PASSWORD", "testpass")
	t.Setenv("TPMQTT_BRIDGE_TOPIC_SLOTS", "8")
	t.Setenv("TPMQTT_BRIDGE_RESET_DELAY", "50ms")
	t.Setenv("TPMQTT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("TPMQTT_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("TPMQTT_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.TouchPortal.Port != 13000 {
		t.Errorf("TouchPortal.Port = %d, want 13000", cfg.TouchPortal.Port)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v, want testuser/testpass", cfg.MQTT.Auth)
	}
	if cfg.Bridge.TopicSlots != 8 {
		t.Errorf("Bridge.TopicSlots = %d, want 8", cfg.Bridge.TopicSlots)
	}
	if cfg.Bridge.ResetDelay != 50*time.Millisecond {
		t.Errorf("Bridge.ResetDelay = %v, want 50ms", cfg.Bridge.ResetDelay)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestApplyEnvOverrides_IgnoresMalformedNumbers(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("TPMQTT_MQTT_PORT", "not-a-port")
	t.Setenv("TPMQTT_BRIDGE_RESET_DELAY", "soon")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Bridge.ResetDelay != 10*time.Millisecond {
		t.Errorf("Bridge.ResetDelay = %v, want 10ms", cfg.Bridge.ResetDelay)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.TouchPortal.Host != "127.0.0.1" || cfg.TouchPortal.Port != 12136 {
		t.Errorf("defaultConfig TouchPortal = %s:%d, want 127.0.0.1:12136", cfg.TouchPortal.Host, cfg.TouchPortal.Port)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Bridge.ResetDelay != 10*time.Millisecond {
		t.Errorf("defaultConfig Bridge.ResetDelay = %v, want 10ms", cfg.Bridge.ResetDelay)
	}
	if cfg.API.Enabled || cfg.Database.Enabled || cfg.InfluxDB.Enabled {
		t.Error("defaultConfig should leave optional sinks disabled")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	if err := Watch(ctx, path, func(c *Config) { changes <- c }, nil); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Logging.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("Watch() did not report the rewritten config")
		}
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), "/nonexistent/dir/config.yaml", nil, nil)
	if err == nil {
		t.Error("Watch() expected error for missing directory, got nil")
	}
}
