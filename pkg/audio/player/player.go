// Package player schedules decoded audio buffers for gapless sequential
// playback. A monotonic cursor tracks where the next buffer must start so
// that chunks arriving in bursts queue up back to back, and a barge-in stop
// clears everything at once.
//
// The clock and the sink are injected, so scheduling decisions are testable
// without a real audio device or wall-clock sleeps.
package player

import (
	"errors"
	"sync"
	"time"

	"github.com/pitchcoach/pitchcoach/pkg/audio"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("player: scheduler closed")

// Clock provides the playback timeline as a duration since an arbitrary
// epoch. Implementations must be monotonic.
type Clock interface {
	Now() time.Duration
}

// systemClock measures time since its creation using the runtime's
// monotonic clock.
type systemClock struct {
	start time.Time
}

// SystemClock returns a Clock anchored at the moment of the call.
func SystemClock() Clock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) Now() time.Duration { return time.Since(c.start) }

// Handle represents one in-flight buffer at the sink.
type Handle interface {
	// Stop aborts playback. Idempotent.
	Stop()

	// Done is closed when playback finishes or is stopped.
	Done() <-chan struct{}
}

// Sink accepts buffers for playback. Start must not block: it begins (or
// arranges) playback of buf at startAt on the shared clock and returns
// immediately.
type Sink interface {
	Start(buf *audio.Buffer, startAt time.Duration) Handle
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the default system clock. Primarily used in tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithIdleFunc registers a callback fired whenever the active set becomes
// empty, either through natural completion of the last buffer or through
// StopAll. The session controller uses it to flip from speaking back to
// listening.
func WithIdleFunc(fn func()) Option {
	return func(s *Scheduler) { s.onIdle = fn }
}

// Scheduler sequences buffers onto a Sink. Each buffer starts at
// max(cursor, now); the cursor then advances by the buffer's duration, so
// the cursor never moves backwards while audio is queued. Safe for
// concurrent use.
type Scheduler struct {
	sink   Sink
	clock  Clock
	onIdle func()

	mu     sync.Mutex
	cursor time.Duration
	active map[Handle]struct{}
	closed bool
}

// New creates a Scheduler playing into sink.
func New(sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:   sink,
		clock:  SystemClock(),
		active: make(map[Handle]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetIdleFunc installs or replaces the idle callback after construction,
// for callers that receive an already-built scheduler.
func (s *Scheduler) SetIdleFunc(fn func()) {
	s.mu.Lock()
	s.onIdle = fn
	s.mu.Unlock()
}

// Schedule queues buf for playback and returns its start time on the
// scheduler's clock. Consecutive calls yield non-decreasing start times.
func (s *Scheduler) Schedule(buf *audio.Buffer) (time.Duration, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}

	start := s.cursor
	if now := s.clock.Now(); now > start {
		start = now
	}
	s.cursor = start + buf.Duration()

	h := s.sink.Start(buf, start)
	s.active[h] = struct{}{}
	s.mu.Unlock()

	go s.reap(h)
	return start, nil
}

// reap waits for a handle to finish and removes it from the active set.
// The handle may already be gone if StopAll cleared the set; in that case
// the idle callback was fired by StopAll and must not fire again here.
func (s *Scheduler) reap(h Handle) {
	<-h.Done()

	s.mu.Lock()
	_, tracked := s.active[h]
	if tracked {
		delete(s.active, h)
	}
	idle := tracked && len(s.active) == 0 && !s.closed
	fn := s.onIdle
	s.mu.Unlock()

	if idle && fn != nil {
		fn()
	}
}

// StopAll hard-stops every active buffer, clears the set, and resets the
// cursor to the current clock reading so the next Schedule starts
// immediately. Used for barge-in: when the user starts talking over the
// model, everything queued is discarded. Fires the idle callback if
// anything was playing.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	stopped := make([]Handle, 0, len(s.active))
	for h := range s.active {
		stopped = append(stopped, h)
	}
	clear(s.active)
	s.cursor = s.clock.Now()
	idle := len(stopped) > 0 && !s.closed
	fn := s.onIdle
	s.mu.Unlock()

	for _, h := range stopped {
		h.Stop()
	}
	if idle && fn != nil {
		fn()
	}
}

// Active returns the number of buffers currently queued or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the time at which the next scheduled buffer would start,
// assuming it is scheduled right now.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now := s.clock.Now(); now > s.cursor {
		return now
	}
	return s.cursor
}

// Close stops all playback and rejects further scheduling. Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stopped := make([]Handle, 0, len(s.active))
	for h := range s.active {
		stopped = append(stopped, h)
	}
	clear(s.active)
	s.mu.Unlock()

	for _, h := range stopped {
		h.Stop()
	}
	return nil
}
