// Package config provides the configuration schema, loader, hot-reload watcher
// and provider registry for the VocaHire evaluation service.
package config

import (
	"log/slog"
	"time"

	"github.com/vocahire/vocahire/internal/score"
)

// LogLevel controls log verbosity for the VocaHire server.
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

// SlogLevel maps l to the slog level. Unknown and empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreDriver selects the persistence backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
	StoreSQLite   StoreDriver = "sqlite"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreMemory, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure for VocaHire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Store     StoreConfig     `yaml:"store"`
	Notify    NotifyConfig    `yaml:"notify"`
	Inbox     InboxConfig     `yaml:"inbox"`
	MCP       MCPConfig       `yaml:"mcp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network, logging and upload settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxUploadBytes caps the size of an uploaded recording. Default: 200 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// MaxConcurrent bounds the number of evaluations running at once across
	// the HTTP API, the MCP tools and the inbox. Default: 2.
	MaxConcurrent int `yaml:"max_concurrent"`

	// UploadDir is where uploaded recordings are staged. Default: the OS
	// temp directory.
	UploadDir string `yaml:"upload_dir"`

	// ShutdownTimeout bounds graceful shutdown. Default: 30s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation serves each
// external collaborator. Each entry selects a named provider registered in
// the [Registry].
type ProvidersConfig struct {
	// LLM scores transcripts.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails or its breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// STT transcribes recordings.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when STT fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// Diarization labels speakers.
	Diarization ProviderEntry `yaml:"diarization"`

	// DiarizationFallbacks are tried in order when Diarization fails.
	DiarizationFallbacks []ProviderEntry `yaml:"diarization_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// ScoringConfig controls the evaluator and the score aggregator.
type ScoringConfig struct {
	// Weights of the four dimensions. Zero means the default 0.4/0.3/0.2/0.1.
	Weights score.Weights `yaml:"weights"`

	// Scale is "unit" (default) or "percent".
	Scale score.Scale `yaml:"scale"`

	// Temperature is the model sampling temperature. Nil means 0.2.
	Temperature *float64 `yaml:"temperature"`

	// Candidate is the default candidate policy: "dominant" (default),
	// "first", "second" or "label:<SPEAKER>".
	Candidate string `yaml:"candidate"`
}

// StoreConfig selects where evaluation results are persisted.
type StoreConfig struct {
	// Driver is memory (default), postgres or sqlite.
	Driver StoreDriver `yaml:"driver"`

	// DSN is the connection string for postgres or the file path for sqlite.
	DSN string `yaml:"dsn"`
}

// NotifyConfig configures result notifications.
type NotifyConfig struct {
	Discord *DiscordConfig `yaml:"discord"`
}

// DiscordConfig configures the Discord channel that receives one embed per
// finished evaluation.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// InboxConfig configures the watched directory for batch ingestion.
type InboxConfig struct {
	// Dir is the watched directory. Empty disables the inbox.
	Dir string `yaml:"dir"`

	// JobTitle and RequiredQualities describe the position every file in
	// the inbox is evaluated against.
	JobTitle          string   `yaml:"job_title"`
	RequiredQualities []string `yaml:"required_qualities"`

	// Candidate overrides scoring.candidate for inbox files.
	Candidate string `yaml:"candidate"`
}

// MCPConfig controls the Model Context Protocol tool endpoint.
type MCPConfig struct {
	// Enabled mounts the MCP server at /mcp.
	Enabled bool `yaml:"enabled"`
}

// TelemetryConfig configures OpenTelemetry resource attributes and sampling.
type TelemetryConfig struct {
	// ServiceName is reported in telemetry. Default: "vocahire".
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of new traces sampled, in (0, 1].
	// Zero samples everything.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults used when the corresponding field is zero.
const (
	DefaultListenAddr      = ":8080"
	DefaultMaxUploadBytes  = 200 << 20
	DefaultMaxConcurrent   = 2
	DefaultShutdownTimeout = 30 * time.Second
	DefaultTemperature     = 0.2
)

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Server.MaxConcurrent == 0 {
		c.Server.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Scoring.Weights.IsZero() {
		c.Scoring.Weights = score.DefaultWeights()
	}
	if c.Scoring.Scale == "" {
		c.Scoring.Scale = score.ScaleUnit
	}
	if c.Scoring.Temperature == nil {
		t := DefaultTemperature
		c.Scoring.Temperature = &t
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "vocahire"
	}
}
