package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live": {"gemini-live"},
	"llm":  {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":  {"gemini"},
}

// Defaults applied by [LoadFromReader] for zero-valued fields.
const (
	DefaultListenAddr    = ":8080"
	DefaultCaptureRate   = 48000
	DefaultTransmitRate  = 16000
	DefaultPlaybackRate  = 24000
	DefaultCacheDir      = "data"
	DefaultRetentionDays = 30
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = DefaultCaptureRate
	}
	if cfg.Audio.TransmitRate == 0 {
		cfg.Audio.TransmitRate = DefaultTransmitRate
	}
	if cfg.Audio.PlaybackRate == 0 {
		cfg.Audio.PlaybackRate = DefaultPlaybackRate
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = DefaultCacheDir
	}
	if cfg.Cache.RetentionDays == 0 {
		cfg.Cache.RetentionDays = DefaultRetentionDays
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// Provider availability warnings
	if cfg.Providers.Live.Name == "" {
		slog.Warn("no live provider configured; the voice interview endpoint will be disabled")
	}
	if cfg.Providers.LLM.Name == "" || cfg.Providers.TTS.Name == "" {
		slog.Warn("llm or tts provider missing; podcast generation will be disabled")
	}

	// Audio rates
	if cfg.Audio.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must be positive", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.TransmitRate < 0 {
		errs = append(errs, fmt.Errorf("audio.transmit_rate %d must be positive", cfg.Audio.TransmitRate))
	}
	if cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must be positive", cfg.Audio.PlaybackRate))
	}

	// Cache
	if cfg.Cache.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("cache.retention_days %d must not be negative", cfg.Cache.RetentionDays))
	}
	if cfg.Cache.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max_bytes %d must not be negative", cfg.Cache.MaxBytes))
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
