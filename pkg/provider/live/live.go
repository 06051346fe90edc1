// Package live defines the duplex speech-session provider interface used by
// the interview controller. A provider opens a bidirectional streaming
// session: the client pushes microphone PCM frames up, the model pushes
// synthesised audio, transcripts, and control signals back down as a single
// ordered event stream.
package live

import (
	"context"
	"errors"
	"time"

	"github.com/pitchcoach/pitchcoach/pkg/audio"
)

// ErrSessionClosed is returned by SendFrame after Close.
var ErrSessionClosed = errors.New("live: session closed")

// Speaker identifies who produced a transcript fragment.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerCoach Speaker = "coach"
)

// EventType discriminates the variants of Event.
type EventType int

const (
	// EventAudio carries raw s16le PCM synthesised by the model.
	EventAudio EventType = iota

	// EventTranscript carries a partial transcript fragment.
	EventTranscript

	// EventInterrupted signals that the user spoke over the model and all
	// queued playback must be discarded.
	EventInterrupted

	// EventTurnComplete signals the model finished its current turn.
	EventTurnComplete
)

// Event is one item on the session's ordered downstream queue.
type Event struct {
	Type EventType

	// PCM holds the raw audio bytes for EventAudio.
	PCM []byte

	// Transcript holds the fragment for EventTranscript.
	Transcript Transcript
}

// Transcript is a fragment of recognised or synthesised speech.
type Transcript struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

// SessionConfig carries per-session parameters.
type SessionConfig struct {
	// Instructions is the system prompt steering the coach persona.
	Instructions string

	// Voice selects a provider voice by ID. Empty means provider default.
	Voice string
}

// Session is a single open speech session. Events delivers all downstream
// traffic in arrival order on one channel; it is closed when the session
// ends, after which Err reports the terminating error, if any.
type Session interface {
	// SendFrame transmits one microphone frame to the model. Callers must
	// not send empty frames.
	SendFrame(frame audio.Frame) error

	// Events returns the downstream event queue.
	Events() <-chan Event

	// Err returns the first error that terminated the session, or nil for
	// a clean close.
	Err() error

	// Close tears the session down. Idempotent.
	Close() error
}

// Capabilities describes static provider limits.
type Capabilities struct {
	Voices             []string
	MaxSessionDuration time.Duration
}

// Provider opens live speech sessions.
type Provider interface {
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
	Capabilities() Capabilities
}
