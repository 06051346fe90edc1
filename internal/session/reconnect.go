package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitchcoach/pitchcoach/pkg/provider/live"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reconnector monitors a live speech session and automatically reopens it
// on disconnection, preserving the interview configuration.
//
// Callers obtain the initial session via [Reconnector.Connect], then call
// [Reconnector.Monitor] to start a background goroutine that watches for
// drops. When a drop is signalled (via [Reconnector.NotifyDisconnect]), the
// monitor attempts reconnection with exponential backoff and invokes the
// configured OnReconnect callback on success.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	provider    live.Provider
	cfg         live.SessionConfig
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(live.Session)
	onGiveUp    func()

	mu           sync.Mutex
	sess         live.Session
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a disconnect is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Provider opens the live sessions.
	Provider live.Provider

	// Session is the configuration reused for every (re)connection.
	Session live.SessionConfig

	// MaxRetries is the maximum number of reconnection attempts before giving up.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial backoff duration between retries. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called after a successful reconnection with the new
	// session. May be nil.
	OnReconnect func(live.Session)

	// OnGiveUp is called after MaxRetries consecutive reconnection attempts
	// have failed. May be nil.
	OnGiveUp func()
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		provider:     cfg.Provider,
		cfg:          cfg.Session,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		onGiveUp:     cfg.OnGiveUp,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Connect opens the initial live session.
func (r *Reconnector) Connect(ctx context.Context) (live.Session, error) {
	sess, err := r.provider.Connect(ctx, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("reconnector initial connect: %w", err)
	}

	r.mu.Lock()
	r.sess = sess
	r.mu.Unlock()

	return sess, nil
}

// Monitor starts monitoring the session in a background goroutine.
// If a disconnection is signalled via [Reconnector.NotifyDisconnect], it
// attempts reconnection with exponential backoff.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals the monitor that the session has been lost and
// reconnection should be attempted. Safe to call multiple times; only the
// first call per reconnection cycle has effect.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
		// Already signalled; avoid blocking.
	}
}

// Stop halts monitoring and closes the current session.
// Safe to call multiple times.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()

	if sess != nil {
		return sess.Close()
	}
	return nil
}

// Session returns the current active session. May return nil during
// reconnection.
func (r *Reconnector) Session() live.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

// monitorLoop waits for disconnect notifications and attempts reconnection.
func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect tries to reconnect with exponential backoff.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		slog.Info("attempting session reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		sess, err := r.provider.Connect(ctx, r.cfg)
		if err == nil {
			r.mu.Lock()
			oldSess := r.sess
			r.sess = sess
			r.mu.Unlock()

			// Close the old (failed) session to release its resources.
			if oldSess != nil {
				_ = oldSess.Close()
			}

			slog.Info("session reconnection successful", "attempt", attempt)

			if r.onReconnect != nil {
				r.onReconnect(sess)
			}
			return
		}

		slog.Warn("session reconnection attempt failed",
			"attempt", attempt,
			"error", err,
		)

		// Wait before retrying.
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		// Exponential backoff.
		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("session reconnection failed after max retries",
		"max_retries", r.maxRetries,
	)
	if r.onGiveUp != nil {
		r.onGiveUp()
	}
}
