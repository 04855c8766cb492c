package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider, store
// and listener changes need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScoringChanged is set when weights, scale, temperature or the default
	// candidate policy changed. The evaluation pipeline is rebuilt with the
	// new settings; running evaluations finish with the old ones.
	ScoringChanged bool

	// InboxProfileChanged is set when the job profile applied to inbox
	// files changed. The watched directory itself is not hot-reloadable.
	InboxProfileChanged bool

	// RestartRequired lists top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// Empty reports whether nothing reloadable or restart-worthy changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ScoringChanged && !d.InboxProfileChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if scoringChanged(old.Scoring, new.Scoring) {
		d.ScoringChanged = true
	}

	if old.Inbox.JobTitle != new.Inbox.JobTitle ||
		old.Inbox.Candidate != new.Inbox.Candidate ||
		!slices.Equal(old.Inbox.RequiredQualities, new.Inbox.RequiredQualities) {
		d.InboxProfileChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldServer.TLS, newServer.TLS = nil, nil
	if oldServer != newServer || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if !sameDiscord(old.Notify.Discord, new.Notify.Discord) {
		d.RestartRequired = append(d.RestartRequired, "notify")
	}
	if old.Inbox.Dir != new.Inbox.Dir {
		d.RestartRequired = append(d.RestartRequired, "inbox")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func scoringChanged(old, new ScoringConfig) bool {
	if old.Weights != new.Weights || old.Scale != new.Scale || old.Candidate != new.Candidate {
		return true
	}
	switch {
	case old.Temperature == nil && new.Temperature == nil:
		return false
	case old.Temperature == nil || new.Temperature == nil:
		return true
	default:
		return *old.Temperature != *new.Temperature
	}
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameDiscord(a, b *DiscordConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameProviders compares entries by name, endpoint, model and key. Options
// maps are compared by length only; a changed option value is picked up on
// the next restart.
func sameProviders(a, b ProvidersConfig) bool {
	return sameEntry(a.LLM, b.LLM) &&
		sameEntry(a.STT, b.STT) &&
		sameEntry(a.Diarization, b.Diarization) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, sameEntry) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, sameEntry) &&
		slices.EqualFunc(a.DiarizationFallbacks, b.DiarizationFallbacks, sameEntry)
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && len(a.Options) == len(b.Options)
}
