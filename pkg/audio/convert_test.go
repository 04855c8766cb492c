package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/vocahire/vocahire/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	got := bytesToSamples(audio.StereoToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	stereo := samplesToBytes([]int16{32767, 32767})
	got := bytesToSamples(audio.StereoToMono(stereo))
	if len(got) != 1 || got[0] != 32767 {
		t.Errorf("got %v, want [32767]", got)
	}
}

func TestDownmix_FourChannels(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300, 400, -4, -4, -4, -4})
	got := bytesToSamples(audio.Downmix(pcm, 4))
	want := []int16{250, -4}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix_MonoPassthrough(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3})
	if got := audio.Downmix(pcm, 1); len(got) != len(pcm) {
		t.Fatalf("mono input should pass through unchanged")
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 48000, 48000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3x)
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	got := bytesToSamples(audio.ResampleMono16(pcm, 48000, 16000))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 100 {
		t.Errorf("first sample: got %d, want 100", got[0])
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	if out := audio.ResampleMono16(pcm, 0, 16000); len(out) != len(pcm) {
		t.Errorf("zero source rate should return input unchanged")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		in         audio.Clip
		wantFrames int
	}{
		{
			name:       "already speech format",
			in:         audio.Clip{PCM: samplesToBytes([]int16{1, 2, 3, 4}), Format: audio.SpeechFormat},
			wantFrames: 4,
		},
		{
			name:       "48k stereo",
			in:         audio.Clip{PCM: samplesToBytes(make([]int16, 48000*2)), Format: audio.Format{SampleRate: 48000, Channels: 2}},
			wantFrames: 16000,
		},
		{
			name:       "44.1k mono",
			in:         audio.Clip{PCM: samplesToBytes(make([]int16, 44100)), Format: audio.Format{SampleRate: 44100, Channels: 1}},
			wantFrames: 16000,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, err := audio.Normalize(&tc.in, audio.SpeechFormat)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if out.Format != audio.SpeechFormat {
				t.Errorf("format = %v, want %v", out.Format, audio.SpeechFormat)
			}
			if out.Frames() != tc.wantFrames {
				t.Errorf("frames = %d, want %d", out.Frames(), tc.wantFrames)
			}
		})
	}
}

func TestNormalize_OddByteCount(t *testing.T) {
	clip := &audio.Clip{PCM: []byte{1, 2, 3}, Format: audio.Format{SampleRate: 48000, Channels: 1}}
	_, err := audio.Normalize(clip, audio.SpeechFormat)
	if !errors.Is(err, audio.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestNormalize_UnsupportedTarget(t *testing.T) {
	clip := &audio.Clip{PCM: samplesToBytes([]int16{1, 2}), Format: audio.SpeechFormat}
	if _, err := audio.Normalize(clip, audio.Format{SampleRate: 16000, Channels: 2}); err == nil {
		t.Fatal("expected error for mono to stereo conversion")
	}
}

func TestClip_DurationAndFloat32(t *testing.T) {
	clip := &audio.Clip{
		PCM:    samplesToBytes([]int16{16384, -16384, 0, 0}),
		Format: audio.Format{SampleRate: 2, Channels: 2},
	}
	if got := clip.Duration().Seconds(); got != 1 {
		t.Errorf("Duration = %vs, want 1s", got)
	}
	samples := clip.Float32()
	if len(samples) != 2 {
		t.Fatalf("expected 2 mono samples, got %d", len(samples))
	}
	if samples[0] != 0 || samples[1] != 0 {
		t.Errorf("opposite channels should cancel: %v", samples)
	}
}
