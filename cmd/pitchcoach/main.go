// Command pitchcoach is the main entry point for the PitchCoach audio server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pitchcoach/pitchcoach/internal/config"
	"github.com/pitchcoach/pitchcoach/internal/crm"
	"github.com/pitchcoach/pitchcoach/internal/observe"
	"github.com/pitchcoach/pitchcoach/internal/podcast"
	"github.com/pitchcoach/pitchcoach/internal/resilience"
	"github.com/pitchcoach/pitchcoach/internal/server"
	"github.com/pitchcoach/pitchcoach/pkg/provider/live"
	geminilive "github.com/pitchcoach/pitchcoach/pkg/provider/live/gemini"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pitchcoach: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pitchcoach: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("pitchcoach starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "pitchcoach",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Storage ───────────────────────────────────────────────────────────────
	if err := os.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
		slog.Error("failed to create data directory", "dir", cfg.Cache.Dir, "err", err)
		return 1
	}

	podcasts, err := podcast.Open(filepath.Join(cfg.Cache.Dir, "podcasts.db"),
		podcast.WithRetention(time.Duration(cfg.Cache.RetentionDays)*24*time.Hour),
		podcast.WithMaxBytes(cfg.Cache.MaxBytes),
	)
	if err != nil {
		slog.Error("failed to open podcast cache", "err", err)
		return 1
	}
	defer podcasts.Close()

	crmStore, err := crm.Open(filepath.Join(cfg.Cache.Dir, "crm.db"))
	if err != nil {
		slog.Error("failed to open crm store", "err", err)
		return 1
	}
	defer crmStore.Close()

	// ── Providers ─────────────────────────────────────────────────────────────
	liveProvider, err := buildLiveProvider(cfg.Providers.Live)
	if err != nil {
		slog.Error("failed to build live provider", "err", err)
		return 1
	}

	generator, err := buildGenerator(cfg, podcasts)
	if err != nil {
		slog.Error("failed to build podcast generator", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	srv := server.New(cfg, server.Deps{
		Live:      liveProvider,
		Generator: generator,
		Podcasts:  podcasts,
		CRM:       crmStore,
	})

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildLiveProvider constructs the duplex speech provider for the interview
// endpoint from its config entry.
func buildLiveProvider(entry config.ProviderEntry) (live.Provider, error) {
	switch entry.Name {
	case "", "gemini-live":
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown live provider %q", entry.Name)
	}
}

// buildGenerator wires the script writer, TTS synthesiser, and a shared
// circuit breaker into the podcast generator.
func buildGenerator(cfg *config.Config, store *podcast.Store) (*podcast.Generator, error) {
	scripts, err := podcast.NewGeminiScriptWriter(
		cfg.Providers.LLM.APIKey,
		cfg.Providers.LLM.Model,
		cfg.Providers.LLM.BaseURL,
	)
	if err != nil {
		return nil, fmt.Errorf("create script writer: %w", err)
	}

	var ttsOpts []podcast.TTSOption
	if cfg.Providers.TTS.Model != "" {
		ttsOpts = append(ttsOpts, podcast.WithTTSModel(cfg.Providers.TTS.Model))
	}
	if cfg.Providers.TTS.BaseURL != "" {
		ttsOpts = append(ttsOpts, podcast.WithTTSBaseURL(cfg.Providers.TTS.BaseURL))
	}
	if voice := optString(cfg.Providers.TTS.Options, "voice"); voice != "" {
		ttsOpts = append(ttsOpts, podcast.WithTTSVoice(voice))
	}
	tts := podcast.NewGeminiTTS(cfg.Providers.TTS.APIKey, ttsOpts...)

	breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: "podcast-generation"})
	return podcast.NewGenerator(store, scripts, tts, breaker), nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        PitchCoach — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Live", cfg.Providers.Live.Name, cfg.Providers.Live.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Data dir        : %-19s ║\n", clip(cfg.Cache.Dir))
	fmt.Printf("║  Retention days  : %-19d ║\n", cfg.Cache.RetentionDays)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", clip(cfg.Server.ListenAddr))
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, clip(value))
}

func clip(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
