package config_test

import (
	"strings"
	"testing"

	"github.com/pitchcoach/pitchcoach/internal/config"
)

func TestLoadFromReader(t *testing.T) {
	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  live:
    name: gemini-live
    api_key: test-key
    model: test-model
  llm:
    name: gemini
    api_key: test-key
  tts:
    name: gemini
    api_key: test-key
audio:
  capture_rate: 44100
cache:
  dir: /tmp/pitchcoach
  retention_days: 7
  max_bytes: 10485760
interview:
  voice: Kore
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Providers.Live.Name != "gemini-live" || cfg.Providers.Live.APIKey != "test-key" {
		t.Errorf("live provider = %+v", cfg.Providers.Live)
	}
	if cfg.Audio.CaptureRate != 44100 {
		t.Errorf("capture_rate = %d, want 44100", cfg.Audio.CaptureRate)
	}
	// Unset rates pick up defaults.
	if cfg.Audio.TransmitRate != config.DefaultTransmitRate {
		t.Errorf("transmit_rate = %d, want default %d", cfg.Audio.TransmitRate, config.DefaultTransmitRate)
	}
	if cfg.Audio.PlaybackRate != config.DefaultPlaybackRate {
		t.Errorf("playback_rate = %d, want default %d", cfg.Audio.PlaybackRate, config.DefaultPlaybackRate)
	}
	if cfg.Cache.RetentionDays != 7 {
		t.Errorf("retention_days = %d, want 7", cfg.Cache.RetentionDays)
	}
	if cfg.Cache.MaxBytes != 10485760 {
		t.Errorf("max_bytes = %d, want 10485760", cfg.Cache.MaxBytes)
	}
	if cfg.Interview.Voice != "Kore" {
		t.Errorf("voice = %q, want Kore", cfg.Interview.Voice)
	}
}

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Cache.Dir != config.DefaultCacheDir {
		t.Errorf("cache dir = %q, want %q", cfg.Cache.Dir, config.DefaultCacheDir)
	}
	if cfg.Cache.RetentionDays != config.DefaultRetentionDays {
		t.Errorf("retention_days = %d, want %d", cfg.Cache.RetentionDays, config.DefaultRetentionDays)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	yaml := `
server:
  listen_addr: ":8080"
  unknown_setting: true
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Error("expected error for unknown field, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "verbose" },
			wantErr: "server.log_level",
		},
		{
			name:    "negative retention",
			mutate:  func(c *config.Config) { c.Cache.RetentionDays = -1 },
			wantErr: "cache.retention_days",
		},
		{
			name:    "negative max bytes",
			mutate:  func(c *config.Config) { c.Cache.MaxBytes = -5 },
			wantErr: "cache.max_bytes",
		},
		{
			name:    "negative capture rate",
			mutate:  func(c *config.Config) { c.Audio.CaptureRate = -1 },
			wantErr: "audio.capture_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateJoinsMultipleErrors(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.LogLevel = "loud"
	cfg.Cache.RetentionDays = -3
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "server.log_level") || !strings.Contains(msg, "cache.retention_days") {
		t.Errorf("joined error %q is missing a failure", msg)
	}
}

func TestLogLevelIsValid(t *testing.T) {
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should not be valid")
	}
}
