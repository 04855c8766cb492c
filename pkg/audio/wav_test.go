package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vocahire/vocahire/pkg/audio"
)

func TestEncodeReadWAV_RoundTrip(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{0, 1000, -1000, 32767, -32768, 7})
	f := audio.Format{SampleRate: 22050, Channels: 2}

	clip, err := audio.ReadWAV(bytes.NewReader(audio.EncodeWAV(pcm, f)))
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if clip.Format != f {
		t.Errorf("format = %v, want %v", clip.Format, f)
	}
	if !bytes.Equal(clip.PCM, pcm) {
		t.Errorf("pcm mismatch: got %v, want %v", clip.PCM, pcm)
	}
}

func TestReadWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()
	wav := audio.EncodeWAV(samplesToBytes([]int16{5, 6}), audio.SpeechFormat)

	// Splice a 3-byte LIST chunk (padded to 4) between fmt and data.
	var buf bytes.Buffer
	buf.Write(wav[:36])
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{'a', 'b', 'c', 0})
	buf.Write(wav[36:])

	clip, err := audio.ReadWAV(&buf)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if got := bytesToSamples(clip.PCM); len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Errorf("samples = %v, want [5 6]", got)
	}
}

func TestReadWAV_Errors(t *testing.T) {
	t.Parallel()

	float32WAV := audio.EncodeWAV(nil, audio.SpeechFormat)
	binary.LittleEndian.PutUint16(float32WAV[20:22], 3) // IEEE float

	eightBit := audio.EncodeWAV(nil, audio.SpeechFormat)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)

	noData := audio.EncodeWAV(nil, audio.SpeechFormat)[:36]

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, audio.ErrNotWAV},
		{"mp3 bytes", []byte("ID3\x04\x00\x00\x00\x00\x00\x00\x00\x00"), audio.ErrNotWAV},
		{"float encoding", float32WAV, audio.ErrUnsupportedEncoding},
		{"8-bit", eightBit, audio.ErrUnsupportedEncoding},
		{"missing data chunk", noData, audio.ErrCorrupt},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.ReadWAV(bytes.NewReader(tc.data))
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestReadWAV_TruncatedDataKeepsCapturedFrames(t *testing.T) {
	t.Parallel()
	wav := audio.EncodeWAV(samplesToBytes([]int16{1, 2, 3, 4}), audio.SpeechFormat)
	clip, err := audio.ReadWAV(bytes.NewReader(wav[:len(wav)-3]))
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if clip.Frames() != 2 {
		t.Errorf("frames = %d, want 2 whole frames", clip.Frames())
	}
}

func TestReadWAVFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "interview.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(samplesToBytes([]int16{9}), audio.SpeechFormat), 0o600); err != nil {
		t.Fatal(err)
	}
	clip, err := audio.ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if clip.Frames() != 1 {
		t.Errorf("frames = %d, want 1", clip.Frames())
	}

	if _, err := audio.ReadWAVFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
