// Package deepgram provides a Deepgram-backed transcriber and diarizer using
// the Deepgram streaming WebSocket API.
//
// The recording is decoded, normalised to 16 kHz mono linear16 and streamed
// to /v1/listen with diarize=true. Final results carry per-word speaker
// indexes, so a single pass yields both text segments ([Provider.Transcribe])
// and speaker turns ([Provider.Diarize]). Each method streams the file once;
// a pipeline using Deepgram for both roles pays for two passes.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vocahire/vocahire/pkg/audio"
	"github.com/vocahire/vocahire/pkg/provider/diarize"
	"github.com/vocahire/vocahire/pkg/provider/stt"
	"github.com/vocahire/vocahire/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkBytes is 100 ms of 16 kHz mono 16-bit audio.
	chunkBytes = 3200
)

var (
	_ stt.Transcriber  = (*Provider)(nil)
	_ diarize.Diarizer = (*Provider)(nil)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithKeywords adds vocabulary hints in Deepgram's word:boost form, for
// example job-specific terms that the recognizer tends to miss.
func WithKeywords(keywords map[string]float64) Option {
	return func(p *Provider) {
		p.keywords = keywords
	}
}

// Provider implements stt.Transcriber and diarize.Diarizer backed by the
// Deepgram streaming API. It is safe for concurrent use.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	keywords map[string]float64
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Transcriber. Every final result becomes one
// segment spanning its first to last word.
func (p *Provider) Transcribe(ctx context.Context, path string) ([]types.TextSegment, error) {
	results, err := p.recognize(ctx, path)
	if err != nil {
		return nil, err
	}
	segs := make([]types.TextSegment, 0, len(results))
	for _, r := range results {
		if r.End <= r.Start || strings.TrimSpace(r.Text) == "" {
			continue
		}
		segs = append(segs, types.TextSegment{Start: r.Start, End: r.End, Text: r.Text})
	}
	stt.SortSegments(segs)
	return segs, nil
}

// Diarize implements diarize.Diarizer. Consecutive words from the same
// speaker are merged into one turn.
func (p *Provider) Diarize(ctx context.Context, path string) ([]types.SpeakerTurn, error) {
	results, err := p.recognize(ctx, path)
	if err != nil {
		return nil, err
	}
	var words []word
	for _, r := range results {
		words = append(words, r.Words...)
	}
	return wordsToTurns(words), nil
}

// recognize streams the file at path and collects all final results.
func (p *Provider) recognize(ctx context.Context, path string) ([]result, error) {
	clip, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	clip, err = audio.Normalize(clip, audio.SpeechFormat)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}

	wsURL, err := p.buildURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	var results []result
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for off := 0; off < len(clip.PCM); off += chunkBytes {
			end := min(off+chunkBytes, len(clip.PCM))
			if err := conn.Write(gctx, websocket.MessageBinary, clip.PCM[off:end]); err != nil {
				return fmt.Errorf("deepgram: send audio: %w", err)
			}
		}
		// CloseStream asks Deepgram to flush pending results and close.
		if err := conn.Write(gctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
			return fmt.Errorf("deepgram: close stream: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		for {
			_, msg, err := conn.Read(gctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return nil
				}
				return fmt.Errorf("deepgram: read: %w", err)
			}
			r, ok := parseDeepgramResponse(msg)
			if !ok || !r.IsFinal {
				continue
			}
			results = append(results, r)
		}
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	return results, nil
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (p *Provider) buildURL() (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("diarize", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(audio.SpeechFormat.SampleRate))
	q.Set("channels", strconv.Itoa(audio.SpeechFormat.Channels))

	for kw, boost := range p.keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw, boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- response handling ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string  `json:"type"`
	IsFinal bool    `json:"is_final"`
	Start   float64 `json:"start"`
	Dur     float64 `json:"duration"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Confidence     float64 `json:"confidence"`
				Speaker        *int    `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// word is a recognised word with its speaker label.
type word struct {
	Text    string
	Start   float64
	End     float64
	Speaker string
}

// result is one parsed Results message.
type result struct {
	Text    string
	IsFinal bool
	Start   float64
	End     float64
	Words   []word
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message.
// Returns (result, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" {
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	r := result{
		Text:    alt.Transcript,
		IsFinal: resp.IsFinal,
		Start:   resp.Start,
		End:     resp.Start + resp.Dur,
		Words:   make([]word, 0, len(alt.Words)),
	}
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		speaker := ""
		if w.Speaker != nil {
			speaker = speakerLabel(*w.Speaker)
		}
		r.Words = append(r.Words, word{Text: text, Start: w.Start, End: w.End, Speaker: speaker})
	}
	if n := len(r.Words); n > 0 {
		r.Start, r.End = r.Words[0].Start, r.Words[n-1].End
	}
	return r, true
}

// speakerLabel renders a Deepgram speaker index in the SPEAKER_NN form used
// by pyannote, so label policies work across diarizers.
func speakerLabel(i int) string {
	return fmt.Sprintf("SPEAKER_%02d", i)
}

// wordsToTurns merges runs of same-speaker words into turns. Words without a
// speaker label or with non-positive duration are skipped.
func wordsToTurns(words []word) []types.SpeakerTurn {
	var turns []types.SpeakerTurn
	for _, w := range words {
		if w.Speaker == "" || w.End <= w.Start {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Speaker == w.Speaker {
			turns[n-1].End = max(turns[n-1].End, w.End)
			continue
		}
		turns = append(turns, types.SpeakerTurn{Start: w.Start, End: w.End, Speaker: w.Speaker})
	}
	return turns
}
