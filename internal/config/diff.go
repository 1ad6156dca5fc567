package config

import "slices"

// ConfigDiff describes what changed between two loaded configs. Only the
// log level can be applied to a running server; everything else needs a
// restart, and the diff lets the caller say so precisely.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the dotted names of changed settings that only
	// take effect on restart.
	RestartRequired []string
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(name string) {
		d.RestartRequired = append(d.RestartRequired, name)
	}
	if old.Server.Port != new.Server.Port {
		restart("server.port")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		restart("server.allowed_origins")
	}
	if old.Server.ShutdownTimeout != new.Server.ShutdownTimeout {
		restart("server.shutdown_timeout")
	}
	if old.OpenAI != new.OpenAI {
		restart("openai")
	}
	if old.RateLimit != new.RateLimit {
		restart("rate_limit")
	}

	return d
}
