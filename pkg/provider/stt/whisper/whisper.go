// Package whisper provides whisper.cpp-backed transcribers.
//
// [Provider] talks to a running whisper-server binary (POST /inference) and
// [NativeProvider] runs the model in-process through the CGO bindings. Both
// decode the interview WAV, normalise it to 16 kHz mono and return timed
// segments.
//
// whisper-server holds the whole request in memory, so the HTTP provider
// splits long recordings at pauses in speech and submits each piece as its
// own inference request. Segment times are shifted back onto the timeline of
// the full recording. Leading and inter-utterance silence is never sent,
// which also keeps whisper from hallucinating text over dead air.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithSilenceThresholdMs(700),
//	)
//	segments, err := p.Transcribe(ctx, "interview.wav")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/vocahire/vocahire/pkg/audio"
	"github.com/vocahire/vocahire/pkg/provider/stt"
	"github.com/vocahire/vocahire/pkg/types"
)

const (
	defaultLanguage           = "en"
	defaultSilenceThresholdMs = 500
	defaultMinChunkDurationMs = 30_000
	defaultMaxChunkDurationMs = 300_000
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty, the default, the server uses
// whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). "auto" enables detection. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSilenceThresholdMs sets the pause length (in milliseconds) at which a
// chunk may be cut once it is at least the minimum chunk duration long.
// Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) {
		p.split.silenceMs = ms
	}
}

// WithMinChunkDurationMs sets the shortest chunk that a pause may close.
// Defaults to 30 000 ms.
func WithMinChunkDurationMs(ms int) Option {
	return func(p *Provider) {
		p.split.minMs = ms
	}
}

// WithMaxChunkDurationMs sets the longest chunk sent in a single request. A
// chunk reaching this length is cut regardless of speech. Defaults to
// 300 000 ms (5 min).
func WithMaxChunkDurationMs(ms int) Option {
	return func(p *Provider) {
		p.split.maxMs = ms
	}
}

// WithHTTPClient replaces the HTTP client. The default has a 5 minute timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Transcriber backed by a whisper.cpp HTTP server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	language   string
	split      splitParams
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		split: splitParams{
			silenceMs: defaultSilenceThresholdMs,
			minMs:     defaultMinChunkDurationMs,
			maxMs:     defaultMaxChunkDurationMs,
		},
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Transcriber.
func (p *Provider) Transcribe(ctx context.Context, path string) ([]types.TextSegment, error) {
	clip, err := loadSpeechClip(path)
	if err != nil {
		return nil, err
	}

	var out []types.TextSegment
	for _, c := range splitAtSilence(clip.PCM, clip.Format.SampleRate, p.split) {
		segs, err := p.infer(ctx, c.pcm)
		if err != nil {
			return nil, fmt.Errorf("whisper: chunk at %.2fs: %w", c.offset, err)
		}
		for _, s := range segs {
			s.Start += c.offset
			s.End += c.offset
			out = append(out, s)
		}
	}
	stt.SortSegments(out)
	return out, nil
}

// inferenceResponse is the verbose_json body returned by whisper-server.
type inferenceResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data.
func (p *Provider) infer(ctx context.Context, pcm []byte) ([]types.TextSegment, error) {
	wav := audio.EncodeWAV(pcm, audio.SpeechFormat)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0.0",
		"language":        p.language,
		"model":           p.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write %s field: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse JSON response: %w", err)
	}

	if len(result.Segments) == 0 {
		// Plain json format or an old server build: one segment for the chunk.
		text := strings.TrimSpace(result.Text)
		if text == "" {
			return nil, nil
		}
		end := result.Duration
		if end <= 0 {
			end = float64(len(pcm)/2) / float64(audio.SpeechFormat.SampleRate)
		}
		return []types.TextSegment{{Start: 0, End: end, Text: text}}, nil
	}

	segs := make([]types.TextSegment, 0, len(result.Segments))
	for _, s := range result.Segments {
		if s.End <= s.Start {
			continue
		}
		segs = append(segs, types.TextSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return segs, nil
}

// loadSpeechClip reads a WAV file and converts it to 16 kHz mono.
func loadSpeechClip(path string) (*audio.Clip, error) {
	clip, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	clip, err = audio.Normalize(clip, audio.SpeechFormat)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	return clip, nil
}
