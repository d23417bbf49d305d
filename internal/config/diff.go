package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked; everything else needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LimitsChanged bool
	NewLimits     LimitsConfig

	PairingChanged bool
	NewPairing     PairingConfig
}

// Empty reports whether the diff carries no applicable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LimitsChanged && !d.PairingChanged
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply without restart: log verbosity, the
// per-connection rate limits (picked up by new connections), and pairing
// lifetimes (picked up by new codes).
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Limits != new.Limits {
		d.LimitsChanged = true
		d.NewLimits = new.Limits
	}
	if old.Pairing != new.Pairing {
		d.PairingChanged = true
		d.NewPairing = new.Pairing
	}
	return d
}
