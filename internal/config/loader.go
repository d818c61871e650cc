package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values. Secrets belong here
// rather than in the YAML file.
const (
	EnvBroker   = "HERMESWATCH_MQTT_BROKER"
	EnvUsername = "HERMESWATCH_MQTT_USERNAME"
	EnvPassword = "HERMESWATCH_MQTT_PASSWORD"
	EnvStoreDir = "HERMESWATCH_STORE_DIR"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional is [Load], except that a missing file yields [Default].
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("config file not found, using defaults", "path", path)
		return Default(), nil
	}
	return cfg, err
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document is a valid, all-default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored. With no arguments ".env" is tried.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the HERMESWATCH_* variables that are set.
// lookup is usually [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.MQTT.Broker, EnvBroker)
	set(&cfg.MQTT.Username, EnvUsername)
	set(&cfg.MQTT.Password, EnvPassword)
	set(&cfg.Store.Dir, EnvStoreDir)
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	} else if u, err := url.Parse(cfg.MQTT.Broker); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker %q must be a URL such as tcp://host:1883", cfg.MQTT.Broker))
	}
	if cfg.MQTT.KeepAlive < 0 {
		errs = append(errs, fmt.Errorf("mqtt.keep_alive %s must not be negative", cfg.MQTT.KeepAlive))
	}
	if cfg.MQTT.CACerts != "" && !cfg.MQTT.TLS {
		slog.Warn("mqtt.ca_certs is set but mqtt.tls is false; the CA bundle will be ignored")
	}
	if cfg.MQTT.Password != "" && cfg.MQTT.Username == "" {
		errs = append(errs, errors.New("mqtt.password is set without mqtt.username"))
	}

	if cfg.Store.Dir == "" {
		errs = append(errs, errors.New("store.dir is required"))
	}

	if cfg.Output.Format != "" && !cfg.Output.Format.IsValid() {
		errs = append(errs, fmt.Errorf("output.format %q is invalid; valid values: human, raw", cfg.Output.Format))
	}
	if cfg.Output.NoStdout && cfg.Output.File == "" && cfg.Server.ListenAddr == "" {
		slog.Warn("output.no_stdout is set without output.file or server.listen_addr; rendered messages go nowhere")
	}

	return errors.Join(errs...)
}
