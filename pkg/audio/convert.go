package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a raw PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Converter normalises raw s16le PCM chunks to a target format. It is used
// on the capture path when the device rate differs from the 16 kHz transmit
// rate. It warns once per stream on the first mismatch and once on corrupt
// input, then stays quiet. Create one per stream; not safe for concurrent
// use.
type Converter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns pcm converted from src to the target format. When the
// source already matches, the input slice is returned as-is. An odd byte
// count marks the chunk as corrupt and yields nil; callers drop such
// chunks. Resampling happens before channel conversion so stereo input is
// never resampled when the target is mono.
func (c *Converter) Convert(pcm []byte, src Format) []byte {
	if len(pcm)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM chunk, dropping",
				"bytes", len(pcm), "format", src.String())
		})
		return nil
	}
	if src == c.Target {
		return pcm
	}
	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", src.String(), "to", c.Target.String())
	})

	if src.SampleRate != c.Target.SampleRate {
		if src.Channels == 1 {
			pcm = ResampleMono16(pcm, src.SampleRate, c.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, src.SampleRate, c.Target.SampleRate)
		}
	}
	switch {
	case src.Channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case src.Channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
	}
	return pcm
}

// MonoToStereo duplicates each s16le mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples*4)
	for i := 0; i < samples; i++ {
		s := le16(pcm, i)
		putLE16(out, i*2, s)
		putLE16(out, i*2+1, s)
	}
	return out
}

// StereoToMono averages the L and R samples of each stereo frame. The sum
// uses int32 arithmetic so it cannot overflow before the division.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		avg := (int32(le16(pcm, i*2)) + int32(le16(pcm, i*2+1))) / 2
		putLE16(out, i, int16(avg))
	}
	return out
}

// ResampleMono16 resamples s16le mono PCM from srcRate to dstRate with
// linear interpolation. Input is returned unchanged when no work is needed.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := 0; i < dstSamples; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := le16(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = le16(pcm, idx+1)
		}
		putLE16(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

// ResampleStereo16 resamples s16le interleaved stereo PCM from srcRate to
// dstRate with linear interpolation, keeping the channels independent.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)
	for i := 0; i < dstFrames; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		l0, r0 := le16(pcm, idx*2), le16(pcm, idx*2+1)
		l1, r1 := l0, r0
		if idx+1 < srcFrames {
			l1, r1 = le16(pcm, (idx+1)*2), le16(pcm, (idx+1)*2+1)
		}
		putLE16(out, i*2, int16(float64(l0)*(1-frac)+float64(l1)*frac))
		putLE16(out, i*2+1, int16(float64(r0)*(1-frac)+float64(r1)*frac))
	}
	return out
}
