// Package config provides the configuration schema and loader for
// hermeswatch.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// OutputFormat selects how messages are rendered.
type OutputFormat string

const (
	FormatHuman OutputFormat = "human"
	FormatRaw   OutputFormat = "raw"
)

// IsValid reports whether f is a recognised output format.
func (f OutputFormat) IsValid() bool {
	return f == FormatHuman || f == FormatRaw
}

// Defaults.
const (
	DefaultBroker   = "tcp://rhasspy-master:1883"
	DefaultClientID = "hermeswatch"
	DefaultStoreDir = "./archives"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], then overridden by environment
// variables ([ApplyEnv]) and command-line flags.
type Config struct {
	LogLevel LogLevel     `yaml:"log_level"`
	MQTT     MQTTConfig   `yaml:"mqtt"`
	Store    StoreConfig  `yaml:"store"`
	Output   OutputConfig `yaml:"output"`
	Server   ServerConfig `yaml:"server"`
}

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. "tcp://rhasspy-master:1883".
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// TLS enables TLS to the broker. CACerts optionally names a PEM bundle
	// used to verify it.
	TLS     bool   `yaml:"tls"`
	CACerts string `yaml:"ca_certs"`

	KeepAlive time.Duration `yaml:"keep_alive"`
}

// StoreConfig locates the record archive.
type StoreConfig struct {
	Dir string `yaml:"dir"`
}

// OutputConfig controls where rendered lines go.
type OutputConfig struct {
	Format OutputFormat `yaml:"format"`

	// File, when set, receives every line in append mode.
	File string `yaml:"file"`

	// NoStdout suppresses standard output.
	NoStdout bool `yaml:"no_stdout"`
}

// ServerConfig configures the HTTP side listener.
type ServerConfig struct {
	// ListenAddr serves /healthz, /readyz, /metrics and /stream, e.g.
	// ":9090". Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = DefaultBroker
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultClientID
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = 60 * time.Second
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = DefaultStoreDir
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = FormatHuman
	}
}
