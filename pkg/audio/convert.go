package audio

import (
	"fmt"
	"log/slog"
)

// Normalize converts a clip to the target format. Multi-channel audio is
// downmixed before resampling so that only one channel is interpolated.
// The clip is returned unchanged when it already matches. Only mono targets
// or same-channel targets are supported.
func Normalize(c *Clip, target Format) (*Clip, error) {
	if c == nil {
		return nil, fmt.Errorf("audio: normalize: nil clip")
	}
	if len(c.PCM)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d in 16-bit PCM", ErrCorrupt, len(c.PCM))
	}
	if c.Format == target {
		return c, nil
	}
	if target.Channels != 1 && target.Channels != c.Format.Channels {
		return nil, fmt.Errorf("audio: normalize: cannot convert %s to %s", c.Format, target)
	}

	slog.Debug("audio: converting clip", "from", c.Format.String(), "to", target.String())

	pcm := c.PCM
	channels := c.Format.Channels
	if channels != target.Channels {
		pcm = Downmix(pcm, channels)
		channels = 1
	}
	if c.Format.SampleRate != target.SampleRate {
		if channels != 1 {
			return nil, fmt.Errorf("audio: normalize: resampling %d channels is not supported", channels)
		}
		pcm = ResampleMono16(pcm, c.Format.SampleRate, target.SampleRate)
	}
	return &Clip{PCM: pcm, Format: target}, nil
}

// Downmix averages interleaved multi-channel int16 PCM into mono. Stereo
// input takes the [StereoToMono] fast path.
func Downmix(pcm []byte, channels int) []byte {
	switch {
	case channels <= 1:
		return pcm
	case channels == 2:
		return StereoToMono(pcm)
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := i*frameBytes + ch*2
			sum += int32(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
		}
		avg := sum / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	// Each stereo frame is 4 bytes (2 bytes L + 2 bytes R).
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		// Clamp to int16 range.
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
