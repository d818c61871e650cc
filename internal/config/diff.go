package config

// ConfigDiff describes what changed between two configs. LogLevel and
// Output.Format are applied live; everything else is only reported.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	FormatChanged bool
	NewFormat     OutputFormat

	// RestartRequired lists the changed keys that take effect only after a
	// restart, e.g. "mqtt.broker".
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.FormatChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Output.Format != new.Output.Format {
		d.FormatChanged = true
		d.NewFormat = new.Output.Format
	}

	restart := []struct {
		key     string
		changed bool
	}{
		{"mqtt.broker", old.MQTT.Broker != new.MQTT.Broker},
		{"mqtt.client_id", old.MQTT.ClientID != new.MQTT.ClientID},
		{"mqtt.username", old.MQTT.Username != new.MQTT.Username},
		{"mqtt.password", old.MQTT.Password != new.MQTT.Password},
		{"mqtt.tls", old.MQTT.TLS != new.MQTT.TLS},
		{"mqtt.ca_certs", old.MQTT.CACerts != new.MQTT.CACerts},
		{"mqtt.keep_alive", old.MQTT.KeepAlive != new.MQTT.KeepAlive},
		{"store.dir", old.Store.Dir != new.Store.Dir},
		{"output.file", old.Output.File != new.Output.File},
		{"output.no_stdout", old.Output.NoStdout != new.Output.NoStdout},
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.key)
		}
	}
	return d
}
