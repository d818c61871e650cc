package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/hermeswatch/internal/config"
)

const validYAML = `
log_level: debug
mqtt:
  broker: ssl://broker.lan:8883
  client_id: watcher-1
  username: rhasspy
  password: secret
  tls: true
  ca_certs: /etc/ssl/rhasspy.pem
  keep_alive: 30s
store:
  dir: /var/lib/hermeswatch
output:
  format: raw
  file: /var/log/hermes.log
  no_stdout: true
server:
  listen_addr: ":9090"
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := config.Config{
		LogLevel: config.LogDebug,
		MQTT: config.MQTTConfig{
			Broker:    "ssl://broker.lan:8883",
			ClientID:  "watcher-1",
			Username:  "rhasspy",
			Password:  "secret",
			TLS:       true,
			CACerts:   "/etc/ssl/rhasspy.pem",
			KeepAlive: 30 * time.Second,
		},
		Store:  config.StoreConfig{Dir: "/var/lib/hermeswatch"},
		Output: config.OutputConfig{Format: config.FormatRaw, File: "/var/log/hermes.log", NoStdout: true},
		Server: config.ServerConfig{ListenAddr: ":9090"},
	}
	if *cfg != want {
		t.Errorf("config = %+v\nwant     %+v", *cfg, want)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should be valid, got: %v", err)
	}
	if *cfg != *config.Default() {
		t.Errorf("empty config = %+v, want defaults", *cfg)
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if cfg.MQTT.Broker != "tcp://rhasspy-master:1883" {
		t.Errorf("broker = %q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.ClientID != "hermeswatch" {
		t.Errorf("client_id = %q", cfg.MQTT.ClientID)
	}
	if cfg.MQTT.KeepAlive != time.Minute {
		t.Errorf("keep_alive = %s", cfg.MQTT.KeepAlive)
	}
	if cfg.Store.Dir != "./archives" {
		t.Errorf("store.dir = %q", cfg.Store.Dir)
	}
	if cfg.Output.Format != config.FormatHuman {
		t.Errorf("output.format = %q", cfg.Output.Format)
	}
	if cfg.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.Server.ListenAddr != "" {
		t.Errorf("listen_addr = %q, want disabled", cfg.Server.ListenAddr)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("mqtt:\n  brokr: tcp://x:1883\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "brokr") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"invalid log level", "log_level: verbose\n", "log_level"},
		{"invalid format", "output:\n  format: fancy\n", "output.format"},
		{"broker without scheme", "mqtt:\n  broker: rhasspy-master\n", "mqtt.broker"},
		{"negative keep alive", "mqtt:\n  keep_alive: -5s\n", "mqtt.keep_alive"},
		{"password without user", "mqtt:\n  password: hunter2\n", "mqtt.username"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %s, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{LogLevel: "loud", Output: config.OutputConfig{Format: "fancy"}}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "output.format", "mqtt.broker is required", "store.dir is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}
