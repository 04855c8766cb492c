// Package pyannote provides a diarizer backed by a pyannote.audio sidecar.
//
// pyannote's speaker-diarization pipeline runs in Python, so it is deployed
// as a small HTTP service next to VocaHire. The sidecar accepts a 16 kHz mono
// WAV upload on POST /diarize and answers with
//
//	{"turns": [{"start": 0.5, "end": 4.2, "speaker": "SPEAKER_00"}, ...]}
//
// The recording is decoded and normalised locally first, so corrupt input is
// rejected before any upload.
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vocahire/vocahire/pkg/audio"
	"github.com/vocahire/vocahire/pkg/provider/diarize"
	"github.com/vocahire/vocahire/pkg/types"
)

// DefaultPipeline is the pretrained pipeline requested from the sidecar.
const DefaultPipeline = "pyannote/speaker-diarization-3.1"

var _ diarize.Diarizer = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithToken sets a bearer token sent with every request. Sidecars that proxy
// the Hugging Face hub usually expect the HF access token here.
func WithToken(token string) Option {
	return func(p *Provider) {
		p.token = token
	}
}

// WithPipeline selects the pretrained pipeline name.
func WithPipeline(name string) Option {
	return func(p *Provider) {
		p.pipeline = name
	}
}

// WithNumSpeakers pins the expected number of speakers. Zero lets the
// pipeline decide. Interviews are usually two-speaker recordings.
func WithNumSpeakers(n int) Option {
	return func(p *Provider) {
		p.numSpeakers = n
	}
}

// WithHTTPClient replaces the HTTP client. The default has a 10 minute timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements diarize.Diarizer over HTTP. It is safe for concurrent use.
type Provider struct {
	baseURL     string
	token       string
	pipeline    string
	numSpeakers int
	httpClient  *http.Client
}

// New creates a Provider for the sidecar at baseURL (e.g. "http://localhost:8090").
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("pyannote: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pipeline:   DefaultPipeline,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	if p.numSpeakers < 0 {
		return nil, fmt.Errorf("pyannote: numSpeakers must be >= 0, got %d", p.numSpeakers)
	}
	return p, nil
}

type diarizeResponse struct {
	Turns []types.SpeakerTurn `json:"turns"`
}

// Diarize implements diarize.Diarizer.
func (p *Provider) Diarize(ctx context.Context, path string) ([]types.SpeakerTurn, error) {
	clip, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, fmt.Errorf("pyannote: %w", err)
	}
	clip, err = audio.Normalize(clip, audio.SpeechFormat)
	if err != nil {
		return nil, fmt.Errorf("pyannote: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("pyannote: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(clip.PCM, clip.Format)); err != nil {
		return nil, fmt.Errorf("pyannote: write wav data: %w", err)
	}
	if err := mw.WriteField("pipeline", p.pipeline); err != nil {
		return nil, fmt.Errorf("pyannote: write pipeline field: %w", err)
	}
	if p.numSpeakers > 0 {
		if err := mw.WriteField("num_speakers", strconv.Itoa(p.numSpeakers)); err != nil {
			return nil, fmt.Errorf("pyannote: write num_speakers field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("pyannote: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/diarize", &body)
	if err != nil {
		return nil, fmt.Errorf("pyannote: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pyannote: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pyannote: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pyannote: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out diarizeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("pyannote: parse JSON response: %w", err)
	}

	turns := out.Turns[:0]
	for _, t := range out.Turns {
		if err := t.Validate(); err != nil {
			slog.Debug("pyannote: dropping invalid turn", "turn", t, "error", err)
			continue
		}
		turns = append(turns, t)
	}
	diarize.SortTurns(turns)
	return turns, nil
}
