package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VerificationChanged is true if any verification setting changed.
	VerificationChanged bool
	NewVerification     VerificationConfig

	// RestartRequired lists top-level sections that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VerificationChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Verification != new.Verification {
		d.VerificationChanged = true
		d.NewVerification = new.Verification
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if oldServer != newServer {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !ageEqual(old.Age, new.Age) {
		d.RestartRequired = append(d.RestartRequired, "age")
	}
	if old.Playback != new.Playback {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	if !entryEqual(a.Embeddings, b.Embeddings) || !entryEqual(a.TTS, b.TTS) || !entryEqual(a.Text, b.Text) {
		return false
	}
	if len(a.TTSFallbacks) != len(b.TTSFallbacks) {
		return false
	}
	for i := range a.TTSFallbacks {
		if !entryEqual(a.TTSFallbacks[i], b.TTSFallbacks[i]) {
			return false
		}
	}
	return true
}

// entryEqual compares the scalar fields of two entries. Options maps are
// compared by key set and formatted value.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model || a.Timeout != b.Timeout {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !optionEqual(av, bv) {
			return false
		}
	}
	return true
}

func optionEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !optionEqual(x, y) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !optionEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

func ageEqual(a, b AgeConfig) bool {
	if len(a.PitchStrategies) != len(b.PitchStrategies) {
		return false
	}
	for i := range a.PitchStrategies {
		if a.PitchStrategies[i] != b.PitchStrategies[i] {
			return false
		}
	}
	return a.SpectralProfile == b.SpectralProfile &&
		a.FormantWarp == b.FormantWarp &&
		a.Post == b.Post &&
		a.Instability == b.Instability &&
		a.Seed == b.Seed &&
		a.PackStep == b.PackStep &&
		a.PackConcurrency == b.PackConcurrency
}
