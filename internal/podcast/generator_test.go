package podcast_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pitchcoach/pitchcoach/internal/podcast"
	"github.com/pitchcoach/pitchcoach/pkg/audio"
)

type fakeWriter struct {
	script string
	err    error
	calls  atomic.Int64
}

func (f *fakeWriter) WriteScript(_ context.Context, _, _ string) (string, error) {
	f.calls.Add(1)
	return f.script, f.err
}

type fakeSynth struct {
	buf   *audio.Buffer
	err   error
	calls atomic.Int64
}

func (f *fakeSynth) Synthesize(_ context.Context, _ string) (*audio.Buffer, error) {
	f.calls.Add(1)
	return f.buf, f.err
}

func newGenerator(t *testing.T, w podcast.ScriptWriter, s podcast.Synthesizer) (*podcast.Generator, *podcast.Store) {
	t.Helper()
	store, err := podcast.Open(filepath.Join(t.TempDir(), "podcasts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return podcast.NewGenerator(store, w, s, nil), store
}

func TestPodcastGeneratesAndCaches(t *testing.T) {
	ctx := context.Background()
	writer := &fakeWriter{script: "two hosts talk term sheets"}
	synth := &fakeSynth{buf: testBuffer()}
	gen, _ := newGenerator(t, writer, synth)

	res, err := gen.Podcast(ctx, "Term Sheets", "module content")
	if err != nil {
		t.Fatalf("Podcast: %v", err)
	}
	if res.Cached {
		t.Error("first call reported cached")
	}
	if res.Meta.Script != writer.script {
		t.Errorf("script = %q", res.Meta.Script)
	}
	if res.Audio.Len() != 48000 {
		t.Errorf("audio length = %d, want 48000", res.Audio.Len())
	}

	// Second call is served from the cache without touching providers.
	res2, err := gen.Podcast(ctx, "Term Sheets", "module content")
	if err != nil {
		t.Fatalf("second Podcast: %v", err)
	}
	if !res2.Cached {
		t.Error("second call not served from cache")
	}
	if got := writer.calls.Load(); got != 1 {
		t.Errorf("writer called %d times, want 1", got)
	}
	if got := synth.calls.Load(); got != 1 {
		t.Errorf("synth called %d times, want 1", got)
	}
}

func TestPodcastScriptFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("quota")}
	synth := &fakeSynth{buf: testBuffer()}
	gen, _ := newGenerator(t, writer, synth)

	if _, err := gen.Podcast(context.Background(), "M", "c"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := synth.calls.Load(); got != 0 {
		t.Errorf("synth called %d times after script failure, want 0", got)
	}
}

func TestPodcastSurvivesFullCache(t *testing.T) {
	ctx := context.Background()
	writer := &fakeWriter{script: "s"}
	synth := &fakeSynth{buf: testBuffer()}

	store, err := podcast.Open(filepath.Join(t.TempDir(), "podcasts.db"), podcast.WithMaxBytes(16))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	gen := podcast.NewGenerator(store, writer, synth, nil)

	// Generation succeeds even though the cache write hits the quota.
	res, err := gen.Podcast(ctx, "M", "c")
	if err != nil {
		t.Fatalf("Podcast with full cache: %v", err)
	}
	if res.Cached {
		t.Error("result reported cached")
	}
	if res.Audio == nil || res.Audio.Len() == 0 {
		t.Error("no audio returned")
	}
}
