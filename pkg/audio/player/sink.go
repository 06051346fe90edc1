package player

import (
	"sync"
	"time"

	"github.com/pitchcoach/pitchcoach/pkg/audio"
)

// StreamSink is the production Sink: it delivers each buffer to an emit
// callback at its scheduled start time, then considers the buffer playing
// for its duration. The WebSocket bridge uses it to pace model audio back
// to the client in playback order.
type StreamSink struct {
	clock Clock
	emit  func(*audio.Buffer)
}

// NewStreamSink creates a StreamSink that shares clock with the Scheduler
// and calls emit from a per-buffer goroutine when each buffer is due.
func NewStreamSink(clock Clock, emit func(*audio.Buffer)) *StreamSink {
	return &StreamSink{clock: clock, emit: emit}
}

// Start implements Sink.
func (k *StreamSink) Start(buf *audio.Buffer, startAt time.Duration) Handle {
	h := newStreamHandle()
	go func() {
		defer close(h.done)

		delay := startAt - k.clock.Now()
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-h.stop:
				timer.Stop()
				return
			}
		}

		select {
		case <-h.stop:
			return
		default:
		}
		k.emit(buf)

		// The buffer counts as playing until its duration elapses.
		timer := time.NewTimer(buf.Duration())
		select {
		case <-timer.C:
		case <-h.stop:
			timer.Stop()
		}
	}()
	return h
}

// streamHandle tracks one buffer scheduled on a StreamSink.
type streamHandle struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newStreamHandle() *streamHandle {
	return &streamHandle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (h *streamHandle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *streamHandle) Done() <-chan struct{} { return h.done }
