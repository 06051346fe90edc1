// Package audio provides the PCM primitives shared by the live interview
// pipeline and the podcast generator: float32 sample buffers, base64 PCM
// framing for the Live API wire format, WAV encoding for export, and
// byte-level int16 format conversion.
package audio

import (
	"fmt"
	"time"
)

// Buffer holds decoded audio as planar float32 samples in [-1, 1].
// All channels have the same length.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NewBuffer allocates a Buffer with the given number of channels, each of
// the given length in samples.
func NewBuffer(sampleRate, channels, length int) *Buffer {
	ch := make([][]float32, channels)
	for i := range ch {
		ch[i] = make([]float32, length)
	}
	return &Buffer{SampleRate: sampleRate, Channels: ch}
}

// Len returns the per-channel length in samples. Zero for an empty buffer.
func (b *Buffer) Len() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// Duration returns the playback duration of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Len()) / float64(b.SampleRate) * float64(time.Second))
}

// Validate reports whether the buffer is structurally sound: a positive
// sample rate, at least one channel, and equal channel lengths.
func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("audio: nil buffer")
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", b.SampleRate)
	}
	if len(b.Channels) == 0 {
		return fmt.Errorf("audio: buffer has no channels")
	}
	n := len(b.Channels[0])
	for i, ch := range b.Channels {
		if len(ch) != n {
			return fmt.Errorf("audio: channel %d has %d samples, want %d", i, len(ch), n)
		}
	}
	return nil
}
