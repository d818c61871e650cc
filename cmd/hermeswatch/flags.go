package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/hermeswatch/internal/config"
)

// flags holds the persistent command-line flags. Flags that were set win
// over the environment, which wins over the config file.
type flags struct {
	configPath string
	logLevel   string

	host     string
	port     int
	username string
	password string
	tls      bool
	caCerts  string

	store      string
	format     string
	outputFile string
	noStdout   bool
	listen     string
}

func (f *flags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "hermeswatch.yaml", "path to the YAML configuration file (optional)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")

	pf.StringVar(&f.host, "host", "", "MQTT broker hostname or IP (default rhasspy-master)")
	pf.IntVar(&f.port, "port", 1883, "MQTT broker TCP port")
	pf.StringVar(&f.username, "username", "", "MQTT username")
	pf.StringVar(&f.password, "password", "", "MQTT password")
	pf.BoolVar(&f.tls, "tls", false, "connect to the broker over TLS")
	pf.StringVar(&f.caCerts, "cacerts", "", "PEM bundle used to verify the broker's TLS certificate")

	pf.StringVar(&f.store, "store", "", "archive directory for recorded messages and audio (default ./archives)")
	pf.StringVar(&f.format, "format", "", "output format: human or raw (default human)")
	pf.StringVar(&f.outputFile, "output-file", "", "also append rendered lines to this file")
	pf.BoolVar(&f.noStdout, "no-stdout", false, "do not write rendered lines to standard output")
	pf.StringVar(&f.listen, "listen", "", "serve /healthz, /readyz, /metrics and /stream on this address, e.g. :9090")
}

// config loads the file, then .env and HERMESWATCH_* variables, then the
// flags that were set on cmd, and validates the result.
func (f *flags) config(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadOptional(f.configPath)
	if err != nil {
		return nil, err
	}
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg, os.LookupEnv)

	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.LogLevel = config.LogLevel(strings.ToLower(f.logLevel))
	}
	if changed("host") || changed("port") || changed("tls") {
		broker, err := brokerURL(cfg.MQTT.Broker, f.host, f.port, f.tls, changed("host"), changed("port"), changed("tls"))
		if err != nil {
			return nil, err
		}
		cfg.MQTT.Broker = broker
	}
	if changed("tls") {
		cfg.MQTT.TLS = f.tls
	}
	if changed("username") {
		cfg.MQTT.Username = f.username
	}
	if changed("password") {
		cfg.MQTT.Password = f.password
	}
	if changed("cacerts") {
		cfg.MQTT.CACerts = f.caCerts
	}
	if changed("store") {
		cfg.Store.Dir = f.store
	}
	if changed("format") {
		cfg.Output.Format = config.OutputFormat(strings.ToLower(f.format))
	}
	if changed("output-file") {
		cfg.Output.File = f.outputFile
	}
	if changed("no-stdout") {
		cfg.Output.NoStdout = f.noStdout
	}
	if changed("listen") {
		cfg.Server.ListenAddr = f.listen
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// watcher returns a watcher on the config file, or nil when there is no
// file to watch.
func (f *flags) watcher(onChange func(old, new *config.Config)) *config.Watcher {
	if f.configPath == "" {
		return nil
	}
	if _, err := os.Stat(f.configPath); err != nil {
		return nil
	}
	w, err := config.NewWatcher(f.configPath, onChange)
	if err != nil {
		slog.Warn("config hot reload disabled", "path", f.configPath, "err", err)
		return nil
	}
	return w
}

// brokerURL rewrites base with the host, port and TLS flags that were set.
// TLS selects the ssl scheme, otherwise tcp.
func brokerURL(base, host string, port int, useTLS, hostSet, portSet, tlsSet bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("mqtt broker %q is not a URL", base)
	}
	h, p := u.Hostname(), u.Port()
	if hostSet {
		if host == "" {
			return "", errors.New("--host must not be empty")
		}
		h = host
	}
	if portSet {
		if port <= 0 || port > 65535 {
			return "", fmt.Errorf("--port %d is out of range", port)
		}
		p = strconv.Itoa(port)
	}
	if tlsSet {
		u.Scheme = "tcp"
		if useTLS {
			u.Scheme = "ssl"
		}
	}
	if p == "" {
		p = "1883"
	}
	u.Host = net.JoinHostPort(h, p)
	return u.String(), nil
}

// timeLayouts are tried in order by parseTime.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime parses a search bound. Layouts without a zone are read in loc;
// RFC 3339 input keeps its own offset.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date and time, e.g. \"2020-05-26 23:30:00\"", s)
}
