// Package audio loads interview recordings and converts them into the
// 16-bit PCM layouts expected by speech providers.
//
// Recordings enter the system as RIFF/WAV files. [ReadWAVFile] decodes them
// into a [Clip]; [Normalize] downmixes and resamples a clip to the target
// [Format] (16 kHz mono for whisper.cpp and pyannote); [EncodeWAV] wraps PCM
// back into a container for HTTP upload.
package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the 16 kHz mono layout consumed by speech models.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Clip is a fully decoded recording: interleaved 16-bit signed little-endian
// PCM plus its format.
type Clip struct {
	PCM    []byte
	Format Format
}

// Frames returns the number of sample frames (one sample per channel).
func (c *Clip) Frames() int {
	if c.Format.Channels <= 0 {
		return 0
	}
	return len(c.PCM) / (2 * c.Format.Channels)
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	if c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Format.SampleRate)
}

// Float32 returns the clip as mono float32 samples normalised to [-1.0, 1.0],
// averaging channels per frame.
func (c *Clip) Float32() []float32 {
	channels := max(c.Format.Channels, 1)
	frames := len(c.PCM) / (2 * channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(c.PCM[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
