package session_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pitchcoach/pitchcoach/internal/session"
	"github.com/pitchcoach/pitchcoach/pkg/audio"
	"github.com/pitchcoach/pitchcoach/pkg/audio/player"
	"github.com/pitchcoach/pitchcoach/pkg/provider/live"
	"github.com/pitchcoach/pitchcoach/pkg/provider/live/mock"
)

// fakeSource feeds raw s16le chunks in 16 kHz mono, the controller's
// transmit format, so conversion is a passthrough.
type fakeSource struct {
	ch chan []byte
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan []byte, 8)}
}

func (f *fakeSource) PCM() <-chan []byte { return f.ch }
func (f *fakeSource) Format() audio.Format { return audio.Format{SampleRate: 16000, Channels: 1} }

type fakeHandle struct {
	once sync.Once
	done chan struct{}
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

func (h *fakeHandle) Stop()                 { h.once.Do(func() { close(h.done) }) }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

// fakeSink records scheduled buffers and hands out controllable handles.
type fakeSink struct {
	mu      sync.Mutex
	buffers []*audio.Buffer
	handles []*fakeHandle
}

func (s *fakeSink) Start(buf *audio.Buffer, _ time.Duration) player.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := newFakeHandle()
	s.buffers = append(s.buffers, buf)
	s.handles = append(s.handles, h)
	return h
}

func (s *fakeSink) scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// finish completes the i-th scheduled handle, as a real sink would at the
// end of playback.
func (s *fakeSink) finish(i int) {
	s.mu.Lock()
	h := s.handles[i]
	s.mu.Unlock()
	h.Stop()
}

func (s *fakeSink) stoppedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.handles {
		select {
		case <-h.done:
			n++
		default:
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newController(t *testing.T, sess *mock.Session, opts ...session.Option) (*session.Controller, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	sched := player.New(sink)
	t.Cleanup(func() { sched.Close() })

	p := &mock.Provider{Session: sess}
	cfg := live.SessionConfig{Instructions: "interview the founder", Voice: "Puck"}
	c := session.NewController(p, cfg, sched, opts...)
	t.Cleanup(func() { c.Stop() })
	return c, sink
}

func TestControllerForwardsCaptureFrames(t *testing.T) {
	sess := mock.NewSession()
	c, _ := newController(t, sess)
	src := newFakeSource()

	if err := c.Start(context.Background(), src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := c.State(); got != session.StateListening {
		t.Errorf("state = %v, want listening", got)
	}

	pcm := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80}
	src.ch <- pcm

	waitFor(t, "frame to reach session", func() bool { return len(sess.Frames()) == 1 })
	frame := sess.Frames()[0]
	if frame.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("mimeType = %q", frame.MIMEType)
	}
	if frame.Data != base64.StdEncoding.EncodeToString(pcm) {
		t.Errorf("frame data does not round-trip the capture bytes")
	}
}

func TestControllerSingleFlight(t *testing.T) {
	sess := mock.NewSession()
	c, _ := newController(t, sess)

	if err := c.Start(context.Background(), newFakeSource()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background(), newFakeSource()); !errors.Is(err, session.ErrSessionActive) {
		t.Errorf("second Start err = %v, want ErrSessionActive", err)
	}

	// After Stop the slot frees up.
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	sess2 := mock.NewSession()
	c2, _ := newController(t, sess2)
	if err := c2.Start(context.Background(), newFakeSource()); err != nil {
		t.Errorf("Start after Stop: %v", err)
	}
}

func TestControllerSchedulesModelAudio(t *testing.T) {
	sess := mock.NewSession()
	c, sink := newController(t, sess)

	if err := c.Start(context.Background(), newFakeSource()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pcm := make([]byte, 480) // 10ms of 24kHz mono s16le
	sess.Emit(live.Event{Type: live.EventAudio, PCM: pcm})

	waitFor(t, "audio to be scheduled", func() bool { return sink.scheduled() == 1 })
	buf := sink.buffers[0]
	if buf.SampleRate != 24000 || buf.NumChannels() != 1 || buf.Len() != 240 {
		t.Errorf("buffer shape = %d × %d @ %d, want 1 × 240 @ 24000",
			buf.NumChannels(), buf.Len(), buf.SampleRate)
	}
	waitFor(t, "speaking state", func() bool { return c.State() == session.StateSpeaking })
}

func TestControllerListensAgainWhenPlaybackDrains(t *testing.T) {
	sess := mock.NewSession()
	c, sink := newController(t, sess)

	if err := c.Start(context.Background(), newFakeSource()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.Emit(live.Event{Type: live.EventAudio, PCM: make([]byte, 480)})
	sess.Emit(live.Event{Type: live.EventAudio, PCM: make([]byte, 480)})
	waitFor(t, "audio scheduled", func() bool { return sink.scheduled() == 2 })
	waitFor(t, "speaking state", func() bool { return c.State() == session.StateSpeaking })

	// One buffer still queued: the model is still talking.
	sink.finish(0)
	if got := c.State(); got != session.StateSpeaking {
		t.Errorf("state after partial drain = %v, want speaking", got)
	}

	// The turn tail: the last buffer plays out without any turn-complete
	// or interruption event, and the indicator must flip on its own.
	sink.finish(1)
	waitFor(t, "listening state", func() bool { return c.State() == session.StateListening })
}

func TestControllerDropsUndecodableAudio(t *testing.T) {
	sess := mock.NewSession()
	c, sink := newController(t, sess)

	if err := c.Start(context.Background(), newFakeSource()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.Emit(live.Event{Type: live.EventAudio, PCM: []byte{0x01}}) // odd byte count
	sess.Emit(live.Event{Type: live.EventAudio, PCM: make([]byte, 480)})

	waitFor(t, "good audio to be scheduled", func() bool { return sink.scheduled() == 1 })
	if c.Err() != nil {
		t.Errorf("decode failure must not end the session: %v", c.Err())
	}
}

func TestControllerInterruptionClearsPlayback(t *testing.T) {
	sess := mock.NewSession()
	c, sink := newController(t, sess)

	if err := c.Start(context.Background(), newFakeSource()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.Emit(live.Event{Type: live.EventAudio, PCM: make([]byte, 480)})
	sess.Emit(live.Event{Type: live.EventAudio, PCM: make([]byte, 480)})
	waitFor(t, "audio scheduled", func() bool { return sink.scheduled() == 2 })

	sess.Emit(live.Event{Type: live.EventInterrupted})
	waitFor(t, "playback stopped", func() bool { return sink.stoppedCount() == 2 })
	waitFor(t, "listening state", func() bool { return c.State() == session.StateListening })
}

func TestControllerTranscripts(t *testing.T) {
	sess := mock.NewSession()

	var mu sync.Mutex
	var seen []live.Transcript
	c, _ := newController(t, sess, session.WithTranscriptFunc(func(tr live.Transcript) {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	}))

	if err := c.Start(context.Background(), newFakeSource()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.Emit(live.Event{Type: live.EventTranscript, Transcript: live.Transcript{Speaker: live.SpeakerUser, Text: "we grew 20%"}})
	sess.Emit(live.Event{Type: live.EventTranscript, Transcript: live.Transcript{Speaker: live.SpeakerCoach, Text: "what drove that?"}})

	waitFor(t, "transcripts", func() bool { return len(c.Transcripts()) == 2 })
	got := c.Transcripts()
	if got[0].Speaker != live.SpeakerUser || got[1].Speaker != live.SpeakerCoach {
		t.Errorf("transcript order = %+v", got)
	}
	mu.Lock()
	callbacks := len(seen)
	mu.Unlock()
	if callbacks != 2 {
		t.Errorf("callback invoked %d times, want 2", callbacks)
	}
}

func TestControllerRemoteError(t *testing.T) {
	sess := mock.NewSession()
	c, _ := newController(t, sess)

	if err := c.Start(context.Background(), newFakeSource()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	wantErr := errors.New("websocket: close 1011")
	sess.Finish(wantErr)

	waitFor(t, "error state", func() bool { return c.State() == session.StateError })
	if !errors.Is(c.Err(), wantErr) {
		t.Errorf("Err = %v, want %v", c.Err(), wantErr)
	}

	// An errored controller accepts a fresh Start.
	p2 := mock.NewSession()
	c2, _ := newController(t, p2)
	if err := c2.Start(context.Background(), newFakeSource()); err != nil {
		t.Errorf("Start after error: %v", err)
	}
}

func TestControllerRemoteCleanClose(t *testing.T) {
	sess := mock.NewSession()
	c, _ := newController(t, sess)

	if err := c.Start(context.Background(), newFakeSource()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.Finish(nil)

	waitFor(t, "idle state", func() bool { return c.State() == session.StateIdle })
	if c.Err() != nil {
		t.Errorf("Err = %v after clean close, want nil", c.Err())
	}
}

func TestControllerStop(t *testing.T) {
	sess := mock.NewSession()
	c, _ := newController(t, sess)

	if err := c.Start(context.Background(), newFakeSource()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := c.State(); got != session.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if sess.CloseCallCount == 0 {
		t.Error("session was not closed")
	}

	// Stopping again is a no-op.
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestControllerConnectFailure(t *testing.T) {
	sink := &fakeSink{}
	sched := player.New(sink)
	t.Cleanup(func() { sched.Close() })

	p := &mock.Provider{ConnectErr: errors.New("dial refused")}
	c := session.NewController(p, live.SessionConfig{}, sched)

	if err := c.Start(context.Background(), newFakeSource()); err == nil {
		t.Fatal("expected connect error, got nil")
	}
	if c.State() != session.StateError {
		t.Errorf("state = %v, want error", c.State())
	}
}
