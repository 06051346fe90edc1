package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for 16-bit PCM.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 = PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * 2
	BlockAlign    uint16 // NumChannels * 2
	BitsPerSample uint16 // 16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // sample data size in bytes
}

// EncodeWAV serialises a Buffer into a complete 16-bit PCM WAV file:
// 44-byte header followed by interleaved little-endian samples. Float
// samples are clamped and scaled with the same asymmetric mapping as
// EncodeFrame, so the output is deterministic for a given buffer.
func EncodeWAV(b *Buffer) []byte {
	channels := b.NumChannels()
	length := b.Len()
	dataSize := length * channels * 2

	hdr := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(b.SampleRate),
		ByteRate:      uint32(b.SampleRate * channels * 2),
		BlockAlign:    uint16(channels * 2),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}

	out := bytes.NewBuffer(make([]byte, 0, 44+dataSize))
	// Writing a fixed-size struct of integer fields cannot fail.
	_ = binary.Write(out, binary.LittleEndian, hdr)

	pcm := make([]byte, dataSize)
	for i := 0; i < length; i++ {
		for c := 0; c < channels; c++ {
			putLE16(pcm, i*channels+c, floatToInt16(b.Channels[c][i]))
		}
	}
	out.Write(pcm)
	return out.Bytes()
}

// DecodeWAV parses a 16-bit PCM WAV file produced by EncodeWAV back into a
// Buffer. Only the canonical header layout is supported.
func DecodeWAV(data []byte) (*Buffer, error) {
	var hdr wavHeader
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("audio: read WAV header: %w", err)
	}
	if string(hdr.ChunkID[:]) != "RIFF" || string(hdr.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("audio: not a RIFF/WAVE file")
	}
	if string(hdr.Subchunk1ID[:]) != "fmt " || string(hdr.Subchunk2ID[:]) != "data" {
		return nil, fmt.Errorf("audio: unsupported WAV chunk layout")
	}
	if hdr.AudioFormat != 1 || hdr.BitsPerSample != 16 {
		return nil, fmt.Errorf("audio: unsupported WAV format (format=%d, bits=%d)", hdr.AudioFormat, hdr.BitsPerSample)
	}
	channels := int(hdr.NumChannels)
	if channels <= 0 {
		return nil, fmt.Errorf("audio: WAV declares %d channels", channels)
	}

	pcm := data[44:]
	if uint32(len(pcm)) < hdr.Subchunk2Size {
		return nil, fmt.Errorf("audio: WAV data truncated: header declares %d bytes, have %d", hdr.Subchunk2Size, len(pcm))
	}
	pcm = pcm[:hdr.Subchunk2Size]

	return DecodePCMBytes(pcm, int(hdr.SampleRate), channels)
}

// WAVFileName returns the download file name for an exported module podcast:
// the app prefix plus the title with whitespace runs replaced by
// underscores.
func WAVFileName(moduleTitle string) string {
	return "PitchCoach_" + strings.Join(strings.Fields(moduleTitle), "_") + ".wav"
}
