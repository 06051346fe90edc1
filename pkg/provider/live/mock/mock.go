// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to drive the downstream event queue and inspect the frames the
// controller sent upstream.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	sess.Emit(live.Event{Type: live.EventAudio, PCM: pcm})
//	sess.Finish(nil)
package mock

import (
	"context"
	"sync"

	"github.com/pitchcoach/pitchcoach/pkg/audio"
	"github.com/pitchcoach/pitchcoach/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh
	// default Session.
	Session live.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.Session. Tests push events with
// Emit and end the session with Finish.
type Session struct {
	mu sync.Mutex

	events chan live.Event
	errVal error
	closed bool
	once   sync.Once

	// SendFrameErr, if non-nil, is returned by every SendFrame call.
	SendFrameErr error

	// CloseErr, if non-nil, is returned by the first Close.
	CloseErr error

	// SentFrames records every frame passed to SendFrame in order.
	SentFrames []audio.Frame

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession creates a Session with a buffered event queue.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 64)}
}

// Emit pushes ev onto the event queue. Panics if called after Finish, which
// mirrors a provider writing to a closed stream.
func (s *Session) Emit(ev live.Event) {
	s.events <- ev
}

// Finish sets the terminal error (nil means clean remote close) and closes
// the event queue. Safe to call once.
func (s *Session) Finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.errVal = err
		s.mu.Unlock()
		close(s.events)
	})
}

// SendFrame records the frame and returns SendFrameErr.
func (s *Session) SendFrame(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	s.SentFrames = append(s.SentFrames, frame)
	return s.SendFrameErr
}

// Events returns the event queue.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err returns the terminal error set by Finish.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close marks the session closed and increments CloseCallCount. Idempotent:
// only the first call returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	first := !s.closed
	s.closed = true
	err := s.CloseErr
	s.mu.Unlock()

	s.Finish(nil)
	if first {
		return err
	}
	return nil
}

// Frames returns a copy of the recorded frames. Thread-safe.
func (s *Session) Frames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.SentFrames))
	copy(out, s.SentFrames)
	return out
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)
