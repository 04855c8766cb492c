package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	bitsPerSample = 16

	// maxChannels bounds the fmt chunk so a corrupt header cannot request an
	// absurd frame size.
	maxChannels = 8
)

var (
	// ErrNotWAV is returned when the input does not start with a RIFF/WAVE header.
	ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

	// ErrUnsupportedEncoding is returned for WAV files that are not 16-bit PCM.
	ErrUnsupportedEncoding = errors.New("audio: unsupported WAV encoding")

	// ErrCorrupt is returned when chunk sizes or required chunks are missing.
	ErrCorrupt = errors.New("audio: corrupt WAV data")
)

// ReadWAVFile opens path and decodes it with [ReadWAV].
func ReadWAVFile(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	clip, err := ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("audio: read %q: %w", path, err)
	}
	return clip, nil
}

// ReadWAV decodes a 16-bit PCM RIFF/WAV stream. Chunks other than "fmt " and
// "data" are skipped. WAVE_FORMAT_EXTENSIBLE headers are accepted when their
// sub-format is PCM.
func ReadWAV(r io.Reader) (*Clip, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		format  Format
		haveFmt bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: missing data chunk", ErrCorrupt)
			}
			return nil, err
		}
		id := string(ch[0:4])
		size := binary.LittleEndian.Uint32(ch[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrCorrupt, size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("%w: fmt chunk: %v", ErrCorrupt, err)
			}
			f, err := parseFmt(body)
			if err != nil {
				return nil, err
			}
			format, haveFmt = f, true
			if size%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
				}
			}

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrCorrupt)
			}
			pcm, err := readData(r, size)
			if err != nil {
				return nil, err
			}
			blockAlign := 2 * format.Channels
			pcm = pcm[:len(pcm)-len(pcm)%blockAlign]
			return &Clip{PCM: pcm, Format: format}, nil

		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("%w: skip %q chunk: %v", ErrCorrupt, id, err)
			}
		}
	}
}

func parseFmt(body []byte) (Format, error) {
	tag := binary.LittleEndian.Uint16(body[0:2])
	channels := int(binary.LittleEndian.Uint16(body[2:4]))
	rate := int(binary.LittleEndian.Uint32(body[4:8]))
	bits := int(binary.LittleEndian.Uint16(body[14:16]))

	const (
		formatPCM        = 0x0001
		formatExtensible = 0xFFFE
	)
	if tag == formatExtensible && len(body) >= 26 {
		// The first two bytes of the sub-format GUID carry the real tag.
		tag = binary.LittleEndian.Uint16(body[24:26])
	}
	if tag != formatPCM {
		return Format{}, fmt.Errorf("%w: format tag 0x%04x", ErrUnsupportedEncoding, tag)
	}
	if bits != bitsPerSample {
		return Format{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedEncoding, bits)
	}
	if channels < 1 || channels > maxChannels {
		return Format{}, fmt.Errorf("%w: %d channels", ErrCorrupt, channels)
	}
	if rate <= 0 {
		return Format{}, fmt.Errorf("%w: sample rate %d", ErrCorrupt, rate)
	}
	return Format{SampleRate: rate, Channels: channels}, nil
}

// readData reads the data chunk. Streaming encoders sometimes write 0 or
// 0xFFFFFFFF as the size; in that case everything up to EOF is PCM.
func readData(r io.Reader, size uint32) ([]byte, error) {
	if size == 0 || size == 0xFFFFFFFF {
		pcm, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: data chunk: %v", ErrCorrupt, err)
		}
		return pcm, nil
	}
	pcm := make([]byte, size)
	n, err := io.ReadFull(r, pcm)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) && n > 0 {
			// Truncated recording: keep what was captured.
			return pcm[:n], nil
		}
		return nil, fmt.Errorf("%w: data chunk: %v", ErrCorrupt, err)
	}
	return pcm, nil
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The returned byte slice is suitable for direct inclusion
// in a multipart form upload.
func EncodeWAV(pcm []byte, f Format) []byte {
	bps := bitsPerSample
	byteRate := f.SampleRate * f.Channels * bps / 8
	blockAlign := f.Channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
