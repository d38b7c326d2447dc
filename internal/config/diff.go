package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Reloadable changes are applied in place; the rest only take effect after a
// restart and are reported so the caller can warn.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SyncScheduleChanged bool
	NewSyncSchedule     string

	// RestartRequired lists top-level sections whose changes are not applied
	// until restart.
	RestartRequired []string
}

// Empty reports whether d carries no change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SyncScheduleChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Synthesis.SyncSchedule != new.Synthesis.SyncSchedule {
		d.SyncScheduleChanged = true
		d.NewSyncSchedule = new.Synthesis.SyncSchedule
	}

	if old.Server.LogFormat != new.Server.LogFormat || old.Server.MetricsAddr != new.Server.MetricsAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Cache != new.Cache {
		d.RestartRequired = append(d.RestartRequired, "cache")
	}
	if old.Synthesis.GenerationTimeout != new.Synthesis.GenerationTimeout {
		d.RestartRequired = append(d.RestartRequired, "synthesis")
	}
	if old.Transcription != new.Transcription {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if old.Video != new.Video {
		d.RestartRequired = append(d.RestartRequired, "video")
	}
	if old.Recognition != new.Recognition {
		d.RestartRequired = append(d.RestartRequired, "recognition")
	}
	if old.Translation != new.Translation {
		d.RestartRequired = append(d.RestartRequired, "translation")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	ga, gb := a.Gemini, b.Gemini
	return slices.Equal(ga.APIKeys, gb.APIKeys) &&
		ga.BaseURL == gb.BaseURL &&
		ga.LiveBaseURL == gb.LiveBaseURL &&
		ga.Voice == gb.Voice &&
		ga.Models == gb.Models &&
		slices.Equal(a.TextFallbacks, b.TextFallbacks)
}
