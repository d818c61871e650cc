package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/hermeswatch/internal/config"
	"github.com/MrWong99/hermeswatch/internal/hermes"
)

func TestParseTime(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("CEST", 2*3600)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2020-05-26 23:30:00", time.Date(2020, 5, 26, 23, 30, 0, 0, loc)},
		{"2020-05-26 23:30:00.123456", time.Date(2020, 5, 26, 23, 30, 0, 123456000, loc)},
		{"2020-05-26T23:30:00", time.Date(2020, 5, 26, 23, 30, 0, 0, loc)},
		{"2020-05-26 23:30", time.Date(2020, 5, 26, 23, 30, 0, 0, loc)},
		{"2020-05-26", time.Date(2020, 5, 26, 0, 0, 0, 0, loc)},
		{"  2020-05-26  ", time.Date(2020, 5, 26, 0, 0, 0, 0, loc)},
		{"2020-05-26T21:30:00Z", time.Date(2020, 5, 26, 21, 30, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseTime(tc.in, loc)
			if err != nil {
				t.Fatalf("parseTime(%q): %v", tc.in, err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("parseTime(%q) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}

	for _, bad := range []string{"", "yesterday", "26/05/2020", "2020-13-01"} {
		if _, err := parseTime(bad, loc); err == nil {
			t.Errorf("parseTime(%q) should fail", bad)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name                     string
		base, host               string
		port                     int
		tls                      bool
		hostSet, portSet, tlsSet bool
		want                     string
	}{
		{"host only", "tcp://rhasspy-master:1883", "10.0.0.2", 1883, false, true, false, false, "tcp://10.0.0.2:1883"},
		{"port only", "tcp://rhasspy-master:1883", "", 1884, false, false, true, false, "tcp://rhasspy-master:1884"},
		{"tls", "tcp://rhasspy-master:1883", "", 0, true, false, false, true, "ssl://rhasspy-master:1883"},
		{"tls off", "ssl://broker:8883", "", 0, false, false, false, true, "tcp://broker:8883"},
		{"ipv6 host", "tcp://rhasspy-master:1883", "::1", 0, false, true, false, false, "tcp://[::1]:1883"},
		{"base without port", "tcp://broker", "", 0, false, false, false, false, "tcp://broker:1883"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := brokerURL(tc.base, tc.host, tc.port, tc.tls, tc.hostSet, tc.portSet, tc.tlsSet)
			if err != nil {
				t.Fatalf("brokerURL: %v", err)
			}
			if got != tc.want {
				t.Errorf("brokerURL = %q, want %q", got, tc.want)
			}
		})
	}

	if _, err := brokerURL("tcp://x:1", "", 70000, false, false, true, false); err == nil {
		t.Error("out-of-range port should fail")
	}
	if _, err := brokerURL("tcp://x:1", "", 0, false, true, false, false); err == nil {
		t.Error("empty host should fail")
	}
}

// parsed returns a command whose persistent flags were parsed from args.
func parsed(t *testing.T, f *flags, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	return cmd
}

func TestFlagsConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hermeswatch.yaml")
	yaml := "log_level: warn\nmqtt:\n  broker: tcp://file-broker:1883\n  username: file-user\nstore:\n  dir: /from/file\noutput:\n  format: human\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvUsername, "env-user")
	t.Setenv(config.EnvStoreDir, "/from/env")

	f := &flags{}
	cmd := parsed(t, f, "--config", path, "--host", "flag-broker", "--store", "/from/flag", "--format", "RAW", "--no-stdout", "--output-file", filepath.Join(dir, "out.log"))

	cfg, err := f.config(cmd)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://flag-broker:1883" {
		t.Errorf("broker = %q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Username != "env-user" {
		t.Errorf("username = %q, want env override", cfg.MQTT.Username)
	}
	if cfg.Store.Dir != "/from/flag" {
		t.Errorf("store = %q, want flag override", cfg.Store.Dir)
	}
	if cfg.LogLevel != config.LogWarn {
		t.Errorf("log_level = %q, want file value", cfg.LogLevel)
	}
	if cfg.Output.Format != config.FormatRaw || !cfg.Output.NoStdout {
		t.Errorf("output = %+v", cfg.Output)
	}
}

func TestFlagsConfig_MissingFileUsesDefaults(t *testing.T) {
	f := &flags{}
	cmd := parsed(t, f, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := f.config(cmd)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.MQTT.Broker != config.DefaultBroker || cfg.Store.Dir != config.DefaultStoreDir {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestFlagsConfig_TLS(t *testing.T) {
	f := &flags{}
	cmd := parsed(t, f, "--config", "", "--tls", "--port", "8883", "--cacerts", "/etc/ca.pem")
	cfg, err := f.config(cmd)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.MQTT.Broker != "ssl://rhasspy-master:8883" || !cfg.MQTT.TLS || cfg.MQTT.CACerts != "/etc/ca.pem" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
}

func TestFlagsConfig_Invalid(t *testing.T) {
	f := &flags{}
	cmd := parsed(t, f, "--config", "", "--format", "fancy", "--log-level", "chatty")
	_, err := f.config(cmd)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"output.format", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestSearchCommand_RequiresBounds(t *testing.T) {
	root := newRoot()
	root.SetArgs([]string{"search", "--config", "", "--start", "2020-05-10"})
	err := root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "stop") {
		t.Fatalf("Execute = %v, want missing --stop error", err)
	}
}

func TestSearchCommand_BadTime(t *testing.T) {
	root := newRoot()
	root.SetArgs([]string{"search", "--config", "", "--store", t.TempDir(), "--no-stdout",
		"--start", "last tuesday", "--stop", "2020-05-11"})
	err := root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "--start") {
		t.Fatalf("Execute = %v, want --start parse error", err)
	}
}

func TestSearchCommand_EmptyArchive(t *testing.T) {
	root := newRoot()
	root.SetArgs([]string{"search", "--config", "", "--store", t.TempDir(), "--no-stdout",
		"--start", "2020-05-10", "--stop", "2020-05-11"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestSearchCommand_MissingStore(t *testing.T) {
	store := filepath.Join(t.TempDir(), "typo-archive")
	root := newRoot()
	root.SetArgs([]string{"search", "--config", "", "--store", store, "--no-stdout",
		"--start", "2020-05-10", "--stop", "2020-05-11"})
	if err := root.ExecuteContext(context.Background()); !errors.Is(err, hermes.ErrStorage) {
		t.Fatalf("Execute = %v, want ErrStorage", err)
	}
	if _, err := os.Stat(store); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("search created %s", store)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
