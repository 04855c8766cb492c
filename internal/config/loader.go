package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vocahire/vocahire/internal/extract"
	"github.com/vocahire/vocahire/internal/score"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":         {"deepgram", "whisper", "whisper-native"},
	"diarization": {"pyannote", "deepgram"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. ${VAR} and $VAR references are expanded from the environment
// before decoding, so secrets never need to live in the file.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if cfg.Server.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("server.max_concurrent %d must not be negative", cfg.Server.MaxConcurrent))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for _, fb := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("diarization", cfg.Providers.Diarization.Name)
	for _, fb := range cfg.Providers.DiarizationFallbacks {
		validateProviderName("diarization", fb.Name)
	}

	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
	}
	for i, fb := range cfg.Providers.DiarizationFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.diarization_fallbacks[%d].name is required", i))
		}
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; every evaluation will degrade to the default score")
	}

	// Scoring
	if !cfg.Scoring.Weights.IsZero() {
		if err := cfg.Scoring.Weights.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("scoring.weights: %w", err))
		}
	}
	if _, err := score.ParseScale(string(cfg.Scoring.Scale)); err != nil {
		errs = append(errs, fmt.Errorf("scoring.scale: %w", err))
	}
	if t := cfg.Scoring.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("scoring.temperature %.2f is out of range [0, 2]", *t))
	}
	if _, err := extract.ParsePolicy(cfg.Scoring.Candidate); err != nil {
		errs = append(errs, fmt.Errorf("scoring.candidate: %w", err))
	}

	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Store
	if cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, postgres, sqlite", cfg.Store.Driver))
	}
	if (cfg.Store.Driver == StorePostgres || cfg.Store.Driver == StoreSQLite) && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver))
	}

	// Notify
	if d := cfg.Notify.Discord; d != nil {
		if d.Token == "" {
			errs = append(errs, errors.New("notify.discord.token is required"))
		}
		if d.ChannelID == "" {
			errs = append(errs, errors.New("notify.discord.channel_id is required"))
		}
	}

	// Inbox
	if cfg.Inbox.Dir != "" {
		if strings.TrimSpace(cfg.Inbox.JobTitle) == "" {
			errs = append(errs, errors.New("inbox.job_title is required when inbox.dir is set"))
		}
		if _, err := extract.ParsePolicy(cfg.Inbox.Candidate); err != nil {
			errs = append(errs, fmt.Errorf("inbox.candidate: %w", err))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// loadBytes parses an in-memory config. The watcher reads the file itself
// so it can digest the raw bytes.
func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}
