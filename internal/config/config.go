// Package config provides the configuration schema and loader for the
// PitchCoach server.
package config

// LogLevel controls log verbosity for the PitchCoach server.
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

// Config is the root configuration structure for PitchCoach.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Cache     CacheConfig     `yaml:"cache"`
	Interview InterviewConfig `yaml:"interview"`
}

// ServerConfig holds network and logging settings for the PitchCoach server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// external dependency of the audio pipeline.
type ProvidersConfig struct {
	// Live is the duplex speech session provider for the interview.
	Live ProviderEntry `yaml:"live"`

	// LLM generates podcast scripts.
	LLM ProviderEntry `yaml:"llm"`

	// TTS synthesises podcast audio from scripts.
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "gemini-live", "gemini").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig holds the sample rates of the interview pipeline. Zero values
// fall back to the defaults applied by the loader.
type AudioConfig struct {
	// CaptureRate is the sample rate clients record at. Default 48000.
	CaptureRate int `yaml:"capture_rate"`

	// TransmitRate is the rate microphone audio is sent upstream at.
	// Default 16000, the rate the Live API expects.
	TransmitRate int `yaml:"transmit_rate"`

	// PlaybackRate is the rate of model audio. Default 24000.
	PlaybackRate int `yaml:"playback_rate"`
}

// CacheConfig holds settings for the on-disk podcast cache and CRM store.
type CacheConfig struct {
	// Dir is the directory holding the SQLite databases. Default "data".
	Dir string `yaml:"dir"`

	// RetentionDays is how long cached podcasts stay valid. Default 30.
	RetentionDays int `yaml:"retention_days"`

	// MaxBytes caps the total size of cached podcast audio. Zero means no
	// application-level cap; the store still surfaces disk-full errors.
	MaxBytes int64 `yaml:"max_bytes"`
}

// InterviewConfig steers the live interview persona.
type InterviewConfig struct {
	// Instructions is the system prompt for the coach. When empty a built-in
	// pitch-coach prompt is used.
	Instructions string `yaml:"instructions"`

	// Voice selects a provider voice by ID (e.g., "Kore").
	Voice string `yaml:"voice"`
}
