package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMisalignedPCM is returned by DecodePCM when the decoded byte count is
// not divisible by 2 bytes × channel count.
var ErrMisalignedPCM = errors.New("audio: PCM byte count not aligned to int16 frames")

// Frame is a single outbound media chunk in Live API wire format: base64
// s16le PCM plus a MIME tag carrying the sample rate.
type Frame struct {
	MIMEType string
	Data     string
}

// Empty reports whether the frame carries no audio. Empty frames must not be
// sent to the model.
func (f Frame) Empty() bool { return f.Data == "" }

// EncodeFrame converts float32 samples in [-1, 1] into a wire frame.
// Scaling is asymmetric to use the full int16 range: negative samples are
// multiplied by 32768, non-negative by 32767, then clamped. Bytes are
// little-endian. An empty input yields an empty frame.
func EncodeFrame(samples []float32, sampleRate int) Frame {
	if len(samples) == 0 {
		return Frame{}
	}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		putLE16(pcm, i, floatToInt16(s))
	}
	return Frame{
		MIMEType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// EncodeFrameBytes wraps raw interleaved s16le bytes as a wire frame without
// rescaling. An empty input yields an empty frame.
func EncodeFrameBytes(pcm []byte, sampleRate int) Frame {
	if len(pcm) == 0 {
		return Frame{}
	}
	return Frame{
		MIMEType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// DecodePCM reinterprets a base64 s16le payload as a Buffer at the given
// sample rate and channel count. No container parsing is involved: the bytes
// are raw interleaved int16 samples. Returns an error on malformed base64
// and ErrMisalignedPCM when the byte count does not divide into whole
// frames.
func DecodePCM(b64 string, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64 PCM: %w", err)
	}
	return DecodePCMBytes(raw, sampleRate, channels)
}

// DecodePCMBytes is DecodePCM for payloads that are already raw bytes.
func DecodePCMBytes(raw []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	frameBytes := 2 * channels
	if len(raw)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes, %d channels", ErrMisalignedPCM, len(raw), channels)
	}
	frames := len(raw) / frameBytes
	buf := NewBuffer(sampleRate, channels, frames)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			buf.Channels[c][i] = int16ToFloat(le16(raw, i*channels+c))
		}
	}
	return buf, nil
}

// EncodePCMBytes is the inverse of DecodePCMBytes: it interleaves the
// buffer's channels into raw s16le bytes.
func EncodePCMBytes(buf *Buffer) []byte {
	channels := buf.NumChannels()
	frames := buf.Len()
	out := make([]byte, 2*channels*frames)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			putLE16(out, i*channels+c, floatToInt16(buf.Channels[c][i]))
		}
	}
	return out
}

// floatToInt16 applies the asymmetric scaling used throughout this package:
// negative values map onto [-32768, 0), non-negative onto [0, 32767].
func floatToInt16(s float32) int16 {
	var v float32
	if s < 0 {
		v = s * 32768
	} else {
		v = s * 32767
	}
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// int16ToFloat is the inverse of floatToInt16.
func int16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}

// le16 reads the i-th little-endian int16 sample from b.
func le16(b []byte, i int) int16 {
	return int16(b[2*i]) | int16(b[2*i+1])<<8
}

// putLE16 writes v as the i-th little-endian int16 sample of b.
func putLE16(b []byte, i int, v int16) {
	b[2*i] = byte(v)
	b[2*i+1] = byte(v >> 8)
}
