package podcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pitchcoach/pitchcoach/internal/resilience"
	"github.com/pitchcoach/pitchcoach/pkg/audio"
)

// Generator produces module podcasts, serving from the cache when a fresh
// entry exists and generating script + audio otherwise. Outbound provider
// calls run behind a shared circuit breaker.
type Generator struct {
	store   *Store
	scripts ScriptWriter
	tts     Synthesizer
	breaker *resilience.Breaker
}

// NewGenerator wires a Generator. The breaker may be nil, in which case a
// default one is created.
func NewGenerator(store *Store, scripts ScriptWriter, tts Synthesizer, breaker *resilience.Breaker) *Generator {
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "podcast-generation"})
	}
	return &Generator{store: store, scripts: scripts, tts: tts, breaker: breaker}
}

// Result is the outcome of a Podcast call.
type Result struct {
	Meta   Metadata
	Audio  *audio.Buffer
	Cached bool
}

// Podcast returns the podcast for moduleTitle, generating and caching it on
// a miss. A cache write failure degrades to a warning: the generated
// podcast is still returned, it just will not be served from cache next
// time.
func (g *Generator) Podcast(ctx context.Context, moduleTitle, moduleContent string) (Result, error) {
	meta, buf, err := g.store.Load(ctx, moduleTitle)
	switch {
	case err == nil:
		slog.Debug("podcast cache hit", "module", moduleTitle)
		return Result{Meta: meta, Audio: buf, Cached: true}, nil
	case errors.Is(err, ErrNotFound):
		// Fall through to generation.
	default:
		return Result{}, fmt.Errorf("podcast: cache lookup for %q: %w", moduleTitle, err)
	}

	var script string
	err = g.breaker.Do(func() error {
		var werr error
		script, werr = g.scripts.WriteScript(ctx, moduleTitle, moduleContent)
		return werr
	})
	if err != nil {
		return Result{}, fmt.Errorf("podcast: generate script for %q: %w", moduleTitle, err)
	}

	err = g.breaker.Do(func() error {
		var serr error
		buf, serr = g.tts.Synthesize(ctx, script)
		return serr
	})
	if err != nil {
		return Result{}, fmt.Errorf("podcast: synthesize audio for %q: %w", moduleTitle, err)
	}

	if err := g.store.Save(ctx, moduleTitle, script, buf); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			slog.Warn("podcast cache full, serving uncached", "module", moduleTitle, "err", err)
		} else {
			slog.Warn("podcast cache write failed", "module", moduleTitle, "err", err)
		}
	}

	meta = Metadata{
		ModuleTitle: moduleTitle,
		Script:      script,
		Timestamp:   g.store.now().UnixMilli(),
		Duration:    buf.Duration().Seconds(),
		SampleRate:  buf.SampleRate,
	}
	return Result{Meta: meta, Audio: buf, Cached: false}, nil
}
