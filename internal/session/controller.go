// Package session drives a live interview: it pumps microphone audio from a
// capture source into the speech provider, consumes the provider's ordered
// event stream, and hands synthesised audio to the playback scheduler. One
// interview runs at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitchcoach/pitchcoach/internal/observe"
	"github.com/pitchcoach/pitchcoach/pkg/audio"
	"github.com/pitchcoach/pitchcoach/pkg/audio/player"
	"github.com/pitchcoach/pitchcoach/pkg/provider/live"
)

// ErrSessionActive is returned by Start when an interview is already
// running.
var ErrSessionActive = errors.New("session: interview already active")

// ErrReconnectFailed is the terminal error after a dropped session could not
// be re-established within the configured retry budget.
var ErrReconnectFailed = errors.New("session: could not reconnect to interview session")

// State is the controller's lifecycle position.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateSpeaking   State = "speaking"
	StateClosing    State = "closing"
	StateError      State = "error"
)

// CaptureSource supplies microphone audio. PCM delivers raw interleaved
// s16le chunks in the source's native format; the channel closing ends the
// capture side of the interview.
type CaptureSource interface {
	PCM() <-chan []byte
	Format() audio.Format
}

// Option configures a Controller.
type Option func(*Controller)

// WithTransmitRate overrides the sample rate frames are upsent at.
func WithTransmitRate(hz int) Option {
	return func(c *Controller) { c.transmitRate = hz }
}

// WithPlaybackRate overrides the sample rate provider audio is decoded at.
func WithPlaybackRate(hz int) Option {
	return func(c *Controller) { c.playbackRate = hz }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTranscriptFunc registers a callback invoked for every transcript
// fragment, in arrival order, from the receive goroutine.
func WithTranscriptFunc(fn func(live.Transcript)) Option {
	return func(c *Controller) { c.onTranscript = fn }
}

// WithReconnect enables automatic reconnection when the provider drops the
// session mid-interview: up to retries attempts with exponential backoff
// starting at backoff. The interview keeps its capture source and collected
// transcript across the swap. Zero retries disables reconnection.
func WithReconnect(retries int, backoff time.Duration) Option {
	return func(c *Controller) {
		c.reconnectRetries = retries
		c.reconnectBackoff = backoff
	}
}

// Controller owns one interview at a time. Methods are safe for concurrent
// use.
type Controller struct {
	provider         live.Provider
	cfg              live.SessionConfig
	sched            *player.Scheduler
	transmitRate     int
	playbackRate     int
	reconnectRetries int
	reconnectBackoff time.Duration
	metrics          *observe.Metrics
	onTranscript     func(live.Transcript)

	mu          sync.Mutex
	state       State
	sess        live.Session
	src         CaptureSource
	rec         *Reconnector
	cancel      context.CancelFunc
	err         error
	transcripts []live.Transcript

	wg sync.WaitGroup
}

// NewController wires a Controller. The scheduler's sink decides where
// synthesised audio ultimately goes.
func NewController(provider live.Provider, cfg live.SessionConfig, sched *player.Scheduler, opts ...Option) *Controller {
	c := &Controller{
		provider:     provider,
		cfg:          cfg,
		sched:        sched,
		transmitRate: 16000,
		playbackRate: 24000,
		state:        StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	sched.SetIdleFunc(c.playbackDrained)
	return c
}

// playbackDrained flips the indicator back to listening once the scheduler
// runs out of queued audio, covering the tail of a model turn that ends
// without an interruption or turn-complete event.
func (c *Controller) playbackDrained() {
	c.setStateIfRunning(StateListening)
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the last interview, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Transcripts returns a copy of the transcript collected so far, in arrival
// order.
func (c *Controller) Transcripts() []live.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]live.Transcript, len(c.transcripts))
	copy(out, c.transcripts)
	return out
}

// Start connects a new interview session and begins pumping audio both
// ways. Only one interview may run at a time; a second Start returns
// ErrSessionActive. A session that ended (cleanly or not) frees the slot
// for the next Start.
func (c *Controller) Start(ctx context.Context, src CaptureSource) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateError {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.state = StateConnecting
	c.err = nil
	c.transcripts = nil
	c.src = src
	c.mu.Unlock()

	var rec *Reconnector
	if c.reconnectRetries > 0 {
		rec = NewReconnector(ReconnectorConfig{
			Provider:    c.provider,
			Session:     c.cfg,
			MaxRetries:  c.reconnectRetries,
			Backoff:     c.reconnectBackoff,
			OnReconnect: c.resumeSession,
			OnGiveUp:    c.reconnectFailed,
		})
	}

	start := time.Now()
	var sess live.Session
	var err error
	if rec != nil {
		sess, err = rec.Connect(ctx)
	} else {
		sess, err = c.provider.Connect(ctx, c.cfg)
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateError
		c.err = err
		c.mu.Unlock()
		c.metrics.RecordProviderError(ctx, "live", "connect")
		return fmt.Errorf("session: connect: %w", err)
	}
	c.metrics.SessionConnectDuration.Record(ctx, time.Since(start).Seconds())
	c.metrics.ActiveSessions.Add(ctx, 1)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.sess = sess
	c.cancel = cancel
	c.rec = rec
	c.state = StateListening
	c.mu.Unlock()

	if rec != nil {
		// The monitor outlives runCtx: runCtx dies with the session it
		// belongs to, while the monitor spans reconnection cycles.
		rec.Monitor(context.Background())
	}
	slog.Info("interview started", "voice", c.cfg.Voice)
	c.wg.Add(2)
	go c.captureLoop(runCtx, src, sess)
	go c.receiveLoop(runCtx, sess)
	return nil
}

// resumeSession swaps a freshly reconnected session in and restarts the pump
// loops. Runs on the reconnector's goroutine; aborts if the interview was
// stopped while reconnecting.
func (c *Controller) resumeSession(sess live.Session) {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		_ = sess.Close()
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.sess = sess
	c.cancel = cancel
	c.state = StateListening
	src := c.src
	c.wg.Add(2)
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("interview session resumed", "voice", c.cfg.Voice)
	go c.captureLoop(runCtx, src, sess)
	go c.receiveLoop(runCtx, sess)
}

// reconnectFailed settles the controller in the error state after the retry
// budget is spent.
func (c *Controller) reconnectFailed() {
	c.mu.Lock()
	rec := c.rec
	c.rec = nil
	if c.state == StateConnecting {
		c.state = StateError
		c.err = ErrReconnectFailed
		c.sess = nil
	}
	c.mu.Unlock()

	if rec != nil {
		_ = rec.Stop()
	}
	c.metrics.RecordProviderError(context.Background(), "live", "reconnect")
}

// Stop tears down the running interview, discarding queued playback.
// Idempotent; stopping an idle controller is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateError || c.state == StateClosing {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	sess := c.sess
	cancel := c.cancel
	rec := c.rec
	c.rec = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	switch {
	case rec != nil:
		err = rec.Stop() // closes the current session and halts the monitor
	case sess != nil:
		err = sess.Close()
	}
	c.sched.StopAll()
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateIdle
	c.sess = nil
	c.mu.Unlock()
	slog.Info("interview stopped")
	return err
}

// captureLoop converts and forwards microphone chunks until the source or
// the session ends. Per-frame failures are logged and skipped: a dropped
// frame is a glitch, not a reason to end the interview.
func (c *Controller) captureLoop(ctx context.Context, src CaptureSource, sess live.Session) {
	defer c.wg.Done()

	target := audio.Format{SampleRate: c.transmitRate, Channels: 1}
	conv := &audio.Converter{Target: target}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-src.PCM():
			if !ok {
				return
			}
			pcm := conv.Convert(chunk, src.Format())
			if pcm == nil {
				c.metrics.RecordDecodeError(ctx, "capture")
				continue
			}
			frame := audio.EncodeFrameBytes(pcm, c.transmitRate)
			if frame.Empty() {
				continue
			}
			if err := sess.SendFrame(frame); err != nil {
				if errors.Is(err, live.ErrSessionClosed) {
					return
				}
				slog.Warn("dropping microphone frame", "err", err)
				continue
			}
			c.metrics.FramesSent.Add(ctx, 1)
		}
	}
}

// receiveLoop consumes the session's event queue until it closes, then
// settles the controller state according to the session's terminal error.
func (c *Controller) receiveLoop(ctx context.Context, sess live.Session) {
	defer c.wg.Done()
	defer c.metrics.ActiveSessions.Add(context.Background(), -1)

	for ev := range sess.Events() {
		switch ev.Type {
		case live.EventAudio:
			c.metrics.FramesReceived.Add(ctx, 1)
			buf, err := audio.DecodePCMBytes(ev.PCM, c.playbackRate, 1)
			if err != nil {
				c.metrics.RecordDecodeError(ctx, "live")
				slog.Warn("discarding undecodable audio event", "err", err)
				continue
			}
			// Mark speaking before handing the buffer over: a short chunk
			// can drain, and fire the idle flip, before Schedule returns.
			c.setStateIfRunning(StateSpeaking)
			if _, err := c.sched.Schedule(buf); err != nil {
				slog.Warn("discarding audio event, scheduler closed", "err", err)
				c.setStateIfRunning(StateListening)
				continue
			}

		case live.EventTranscript:
			c.mu.Lock()
			c.transcripts = append(c.transcripts, ev.Transcript)
			c.mu.Unlock()
			if c.onTranscript != nil {
				c.onTranscript(ev.Transcript)
			}

		case live.EventInterrupted:
			c.metrics.Interruptions.Add(ctx, 1)
			c.sched.StopAll()
			c.setStateIfRunning(StateListening)

		case live.EventTurnComplete:
			c.setStateIfRunning(StateListening)
		}
	}

	// The provider closed the stream. Stop the capture side and settle
	// state unless Stop is already doing so. A mid-interview drop hands
	// over to the reconnector instead of erroring out.
	c.mu.Lock()
	cancel := c.cancel
	rec := c.rec
	var reconnecting, stopRec bool
	if c.state != StateClosing {
		c.sess = nil
		switch err := sess.Err(); {
		case err != nil && rec != nil:
			c.state = StateConnecting
			reconnecting = true
			slog.Warn("interview session dropped, reconnecting", "err", err)
		case err != nil:
			c.err = err
			c.state = StateError
			slog.Error("interview ended with error", "err", err)
		default:
			c.state = StateIdle
			c.rec = nil
			stopRec = rec != nil
			slog.Info("interview ended")
		}
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if reconnecting {
		rec.NotifyDisconnect()
	} else if stopRec {
		_ = rec.Stop()
	}
}

// setStateIfRunning transitions between the in-session states without
// clobbering a concurrent teardown.
func (c *Controller) setStateIfRunning(st State) {
	c.mu.Lock()
	if c.state == StateListening || c.state == StateSpeaking {
		c.state = st
	}
	c.mu.Unlock()
}
