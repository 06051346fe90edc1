package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pitchcoach/pitchcoach/internal/session"
	"github.com/pitchcoach/pitchcoach/pkg/audio"
	"github.com/pitchcoach/pitchcoach/pkg/audio/player"
	"github.com/pitchcoach/pitchcoach/pkg/provider/live"
)

// captureBuffer sizes the inbound microphone queue. When the controller
// falls behind, frames are dropped rather than stalling the read loop.
const captureBuffer = 64

// Retry policy when the provider drops the session mid-interview. The
// browser connection stays up while the controller re-establishes the
// provider side.
const (
	reconnectAttempts = 3
	reconnectBackoff  = time.Second
)

// defaultCoachPrompt steers the interview persona when the deployment does
// not configure its own instructions.
const defaultCoachPrompt = "You are a seasoned venture capital partner running a mock pitch " +
	"interview with a startup founder. Ask one pointed question at a time about their " +
	"traction, market, team, and fundraising ask. Push back on vague answers and give " +
	"short, direct feedback."

// interviewMessage is the JSON text frame exchanged with the client. Binary
// frames carry raw s16le PCM in both directions: microphone audio up, model
// audio down.
type interviewMessage struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
}

// wsWriter serialises writes to one connection. Model audio and transcripts
// arrive from different goroutines.
type wsWriter struct {
	mu   sync.Mutex
	ctx  context.Context
	conn *websocket.Conn
}

func (w *wsWriter) writeBinary(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(w.ctx, websocket.MessageBinary, data)
}

func (w *wsWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(w.ctx, websocket.MessageText, data)
}

// wsSource adapts the connection's inbound binary frames to the capture
// source the controller consumes.
type wsSource struct {
	ch   chan []byte
	rate int
}

func (s *wsSource) PCM() <-chan []byte { return s.ch }
func (s *wsSource) Format() audio.Format {
	return audio.Format{SampleRate: s.rate, Channels: 1}
}

// handleInterview upgrades the request to a WebSocket and bridges it to a
// live interview session. One interview runs at a time; concurrent attempts
// get 409.
func (s *Server) handleInterview(w http.ResponseWriter, r *http.Request) {
	if !s.interviewBusy.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "an interview is already in progress"})
		return
	}
	defer s.interviewBusy.Store(false)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("interview websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "interview aborted")

	ctx := r.Context()
	wr := &wsWriter{ctx: ctx, conn: conn}

	clock := player.SystemClock()
	sink := player.NewStreamSink(clock, func(buf *audio.Buffer) {
		if err := wr.writeBinary(audio.EncodePCMBytes(buf)); err != nil {
			slog.Debug("dropping playback chunk", "err", err)
		}
	})
	sched := player.New(sink, player.WithClock(clock))
	defer sched.Close()

	cfg := live.SessionConfig{
		Instructions: s.cfg.Interview.Instructions,
		Voice:        s.cfg.Interview.Voice,
	}
	if cfg.Instructions == "" {
		cfg.Instructions = defaultCoachPrompt
	}

	opts := []session.Option{
		session.WithMetrics(s.metrics),
		session.WithReconnect(reconnectAttempts, reconnectBackoff),
		session.WithTranscriptFunc(func(tr live.Transcript) {
			msg := interviewMessage{Type: "transcript", Speaker: string(tr.Speaker), Text: tr.Text}
			if err := wr.writeJSON(msg); err != nil {
				slog.Debug("dropping transcript", "err", err)
			}
		}),
	}
	if s.cfg.Audio.TransmitRate > 0 {
		opts = append(opts, session.WithTransmitRate(s.cfg.Audio.TransmitRate))
	}
	if s.cfg.Audio.PlaybackRate > 0 {
		opts = append(opts, session.WithPlaybackRate(s.cfg.Audio.PlaybackRate))
	}
	ctrl := session.NewController(s.live, cfg, sched, opts...)

	captureRate := s.cfg.Audio.CaptureRate
	if captureRate <= 0 {
		captureRate = 48000
	}
	src := &wsSource{ch: make(chan []byte, captureBuffer), rate: captureRate}

	if err := ctrl.Start(ctx, src); err != nil {
		slog.Error("interview start failed", "err", err)
		_ = wr.writeJSON(interviewMessage{Type: "error", Text: err.Error()})
		conn.Close(websocket.StatusInternalError, "connect failed")
		return
	}

	readInterview(ctx, conn, src)

	if err := ctrl.Stop(); err != nil {
		slog.Warn("interview teardown", "err", err)
	}
	_ = wr.writeJSON(interviewMessage{Type: "ended"})
	conn.Close(websocket.StatusNormalClosure, "interview ended")
}

// readInterview pumps client frames into src until the client disconnects or
// sends a stop message. Binary frames are microphone audio; text frames are
// control messages.
func readInterview(ctx context.Context, conn *websocket.Conn, src *wsSource) {
	defer close(src.ch)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			select {
			case src.ch <- data:
			default:
				slog.Warn("capture backlog full, dropping frame")
			}
		case websocket.MessageText:
			var msg interviewMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "stop" {
				return
			}
		}
	}
}
