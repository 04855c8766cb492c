package whisper

import (
	"encoding/binary"
	"math"
)

const (
	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which audio is considered silent. The maximum possible value
	// for 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	// windowMs is the analysis window for silence detection.
	windowMs = 20
)

type splitParams struct {
	silenceMs int
	minMs     int
	maxMs     int
}

// chunk is a slice of 16-bit mono PCM and its start in the full recording.
type chunk struct {
	offset float64 // seconds
	pcm    []byte
}

// splitAtSilence cuts mono PCM into chunks. A chunk closes at a pause of at
// least silenceMs once it is minMs long, or unconditionally at maxMs. Silence
// before the first speech window of each chunk is dropped and chunks without
// any speech are never emitted.
func splitAtSilence(pcm []byte, sampleRate int, p splitParams) []chunk {
	bytesPerMs := sampleRate * 2 / 1000
	windowBytes := bytesPerMs * windowMs
	if bytesPerMs <= 0 || windowBytes <= 0 {
		return nil
	}

	var (
		out       []chunk
		start     = -1  // byte offset of the open chunk
		hadSpeech bool  // open chunk contains a speech window
		silenceMs int   // consecutive silence at the end of the open chunk
	)

	flush := func(end int) {
		if start >= 0 && hadSpeech {
			out = append(out, chunk{
				offset: float64(start/2) / float64(sampleRate),
				pcm:    pcm[start:end],
			})
		}
		start, hadSpeech, silenceMs = -1, false, 0
	}

	for pos := 0; pos < len(pcm); pos += windowBytes {
		end := min(pos+windowBytes, len(pcm))
		silent := computeRMS(pcm[pos:end]) < defaultRMSThreshold

		if silent && !hadSpeech {
			continue
		}
		if start < 0 {
			start = pos
		}
		if silent {
			silenceMs += windowMs
		} else {
			hadSpeech = true
			silenceMs = 0
		}

		lengthMs := (end - start) / bytesPerMs
		if (silent && silenceMs >= p.silenceMs && lengthMs >= p.minMs) ||
			(p.maxMs > 0 && lengthMs >= p.maxMs) {
			flush(end)
		}
	}
	flush(len(pcm) - len(pcm)%2)
	return out
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
// The result is expressed in the same units as PCM sample values (0–32 767).
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2 // number of 16-bit samples
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
