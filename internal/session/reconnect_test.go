package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pitchcoach/pitchcoach/internal/session"
	"github.com/pitchcoach/pitchcoach/pkg/audio/player"
	"github.com/pitchcoach/pitchcoach/pkg/provider/live"
	"github.com/pitchcoach/pitchcoach/pkg/provider/live/mock"
)

// stubProvider returns a fresh mock session per Connect and can be told to
// fail the first N attempts.
type stubProvider struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	sessions  []*mock.Session
}

func (p *stubProvider) Connect(_ context.Context, _ live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failFirst {
		return nil, errors.New("dial refused")
	}
	s := mock.NewSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *stubProvider) Capabilities() live.Capabilities { return live.Capabilities{} }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *stubProvider) session(i int) *mock.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.sessions) {
		return nil
	}
	return p.sessions[i]
}

func TestReconnectorConnect(t *testing.T) {
	p := &stubProvider{}
	r := session.NewReconnector(session.ReconnectorConfig{Provider: p})
	t.Cleanup(func() { r.Stop() })

	sess, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sess == nil || r.Session() != sess {
		t.Error("Session() does not expose the connected session")
	}
}

func TestReconnectorConnectFailure(t *testing.T) {
	p := &stubProvider{failFirst: 1}
	r := session.NewReconnector(session.ReconnectorConfig{Provider: p})
	t.Cleanup(func() { r.Stop() })

	if _, err := r.Connect(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestReconnectorReconnects(t *testing.T) {
	p := &stubProvider{}

	var mu sync.Mutex
	var reconnected []live.Session
	r := session.NewReconnector(session.ReconnectorConfig{
		Provider: p,
		Backoff:  time.Millisecond,
		OnReconnect: func(s live.Session) {
			mu.Lock()
			reconnected = append(reconnected, s)
			mu.Unlock()
		},
	})
	t.Cleanup(func() { r.Stop() })

	if _, err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r.Monitor(context.Background())
	r.NotifyDisconnect()

	waitFor(t, "reconnect callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reconnected) == 1
	})

	// The dropped session is closed (before the callback fires) and the
	// new one takes its place.
	if old := p.session(0); old.CloseCallCount == 0 {
		t.Error("old session was not closed")
	}
	if r.Session() != p.session(1) {
		t.Error("Session() does not expose the reconnected session")
	}
}

func TestReconnectorBacksOffThroughFailures(t *testing.T) {
	p := &stubProvider{failFirst: 3} // initial connect consumes one failure

	r := session.NewReconnector(session.ReconnectorConfig{
		Provider:   p,
		Backoff:    time.Millisecond,
		MaxBackoff: 4 * time.Millisecond,
	})
	t.Cleanup(func() { r.Stop() })

	// Initial connect fails; the monitor retries until the provider heals.
	if _, err := r.Connect(context.Background()); err == nil {
		t.Fatal("expected initial connect failure")
	}
	r.Monitor(context.Background())
	r.NotifyDisconnect()

	waitFor(t, "eventual reconnect", func() bool { return r.Session() != nil })
	if got := p.callCount(); got != 4 {
		t.Errorf("connect attempts = %d, want 4 (1 initial + 3 retries)", got)
	}
}

func TestReconnectorGivesUp(t *testing.T) {
	p := &stubProvider{failFirst: 100}

	var mu sync.Mutex
	gaveUp := false
	r := session.NewReconnector(session.ReconnectorConfig{
		Provider:   p,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		OnGiveUp: func() {
			mu.Lock()
			gaveUp = true
			mu.Unlock()
		},
	})
	t.Cleanup(func() { r.Stop() })

	r.Monitor(context.Background())
	r.NotifyDisconnect()

	waitFor(t, "give-up callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gaveUp
	})
	if got := p.callCount(); got != 2 {
		t.Errorf("connect attempts = %d, want 2", got)
	}
}

func TestReconnectorStop(t *testing.T) {
	p := &stubProvider{}
	r := session.NewReconnector(session.ReconnectorConfig{Provider: p})

	if _, err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.session(0).CloseCallCount != 1 {
		t.Errorf("close calls = %d, want 1", p.session(0).CloseCallCount)
	}
	if r.Session() != nil {
		t.Error("Session() not nil after Stop")
	}
	// Stop is idempotent.
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func newReconnectingController(t *testing.T, p *stubProvider, retries int) *session.Controller {
	t.Helper()
	sched := player.New(&fakeSink{})
	t.Cleanup(func() { sched.Close() })

	c := session.NewController(p, live.SessionConfig{Voice: "Puck"}, sched,
		session.WithReconnect(retries, time.Millisecond))
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestControllerReconnectsAfterDrop(t *testing.T) {
	p := &stubProvider{}
	c := newReconnectingController(t, p, 2)

	src := newFakeSource()
	if err := c.Start(context.Background(), src); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.session(0).Finish(errors.New("websocket: close 1006 (abnormal closure)"))

	waitFor(t, "replacement connect", func() bool { return p.callCount() == 2 })
	waitFor(t, "listening after resume", func() bool { return c.State() == session.StateListening })

	// Microphone frames flow into the replacement session. Keep feeding:
	// the capture loop of the dropped session may still drain one frame
	// while it winds down.
	waitFor(t, "frame on new session", func() bool {
		select {
		case src.ch <- []byte{0x01, 0x00}:
		default:
		}
		s := p.session(1)
		return s != nil && len(s.Frames()) > 0
	})
	if c.Err() != nil {
		t.Errorf("Err = %v, want nil after successful reconnect", c.Err())
	}
}

func TestControllerNoReconnectOnCleanClose(t *testing.T) {
	p := &stubProvider{}
	c := newReconnectingController(t, p, 2)

	if err := c.Start(context.Background(), newFakeSource()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.session(0).Finish(nil)

	waitFor(t, "idle state", func() bool { return c.State() == session.StateIdle })
	time.Sleep(20 * time.Millisecond)
	if got := p.callCount(); got != 1 {
		t.Errorf("connect attempts = %d, want 1 after clean close", got)
	}
}

func TestControllerReconnectGivesUp(t *testing.T) {
	p := &stubProvider{}
	c := newReconnectingController(t, p, 2)

	if err := c.Start(context.Background(), newFakeSource()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.mu.Lock()
	p.failFirst = 100 // every further dial fails
	p.mu.Unlock()
	p.session(0).Finish(errors.New("websocket: close 1006 (abnormal closure)"))

	waitFor(t, "error state", func() bool { return c.State() == session.StateError })
	if !errors.Is(c.Err(), session.ErrReconnectFailed) {
		t.Errorf("Err = %v, want ErrReconnectFailed", c.Err())
	}
	if got := p.callCount(); got != 3 {
		t.Errorf("connect attempts = %d, want 3 (1 initial + 2 retries)", got)
	}
}
