package notify_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vocahire/vocahire/internal/notify"
	"github.com/vocahire/vocahire/internal/pipeline"
	"github.com/vocahire/vocahire/internal/score"
	"github.com/vocahire/vocahire/internal/store"
)

type fakeSender struct {
	channel string
	embeds  []*discordgo.MessageEmbed
	opts    int
	err     error
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel = channelID
	f.embeds = append(f.embeds, embed)
	f.opts = len(options)
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Message{ID: "m1"}, nil
}

func sampleEvaluation(res pipeline.Result) store.Evaluation {
	e := store.NewEvaluation(store.SourceHTTP, "Data Engineer", []string{"Python", "SQL"}, res)
	e.CreatedAt = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	e.CandidateName = "Grace"
	e.AudioName = "grace.wav"
	return e
}

func field(t *testing.T, embed *discordgo.MessageEmbed, name string) string {
	t.Helper()
	for _, f := range embed.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	t.Fatalf("embed has no field %q", name)
	return ""
}

func TestDiscord_Notify(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := notify.NewDiscordWithSender(sender, "chan-1")

	e := sampleEvaluation(pipeline.Result{
		ContentRelevance: 0.8, VocalConfidence: 0.7, ClarityOfSpeech: 0.9, Fluency: 0.6,
		FinalScore: 0.77, Scale: score.ScaleUnit, Feedback: "Solid answers.",
	})
	if err := d.Notify(context.Background(), e); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if sender.channel != "chan-1" {
		t.Errorf("channel = %q, want chan-1", sender.channel)
	}
	if sender.opts != 1 {
		t.Errorf("request options = %d, want 1 (context)", sender.opts)
	}
	embed := sender.embeds[0]
	if embed.Title != "Interview evaluated: Grace" {
		t.Errorf("title = %q", embed.Title)
	}
	if got := field(t, embed, "Final score"); got != "0.77" {
		t.Errorf("final score field = %q, want 0.77", got)
	}
	if got := field(t, embed, "Required qualities"); got != "Python, SQL" {
		t.Errorf("qualities field = %q", got)
	}
	if embed.Color != 0x2ECC71 {
		t.Errorf("color = %#x, want green", embed.Color)
	}
	if !strings.Contains(embed.Footer.Text, e.ID) {
		t.Errorf("footer %q does not name evaluation id", embed.Footer.Text)
	}
	if embed.Timestamp != "2026-05-04T12:00:00Z" {
		t.Errorf("timestamp = %q", embed.Timestamp)
	}
}

func TestDiscord_NotifyError(t *testing.T) {
	t.Parallel()
	boom := errors.New("rate limited")
	d := notify.NewDiscordWithSender(&fakeSender{err: boom}, "chan-1")
	err := d.Notify(context.Background(), sampleEvaluation(pipeline.Result{}))
	if !errors.Is(err, boom) {
		t.Fatalf("Notify error = %v, want wrapped %v", err, boom)
	}
}

func TestBuildEmbed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		res       pipeline.Result
		wantColor int
		wantFinal string
	}{
		{"percent mid band", pipeline.Result{FinalScore: 55, Scale: score.ScalePercent}, 0xF1C40F, "55.00 / 100"},
		{"unit low band", pipeline.Result{FinalScore: 0.2, Scale: score.ScaleUnit}, 0xE74C3C, "0.20"},
		{"degraded", pipeline.Result{Scale: score.ScaleUnit, Degraded: true, DegradedReason: "timeout"}, 0x95A5A6, "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			embed := notify.BuildEmbed(sampleEvaluation(tt.res))
			if embed.Color != tt.wantColor {
				t.Errorf("color = %#x, want %#x", embed.Color, tt.wantColor)
			}
			if got := field(t, embed, "Final score"); got != tt.wantFinal {
				t.Errorf("final score = %q, want %q", got, tt.wantFinal)
			}
			if tt.res.Degraded {
				if got := field(t, embed, "Degraded"); !strings.Contains(got, "timeout") {
					t.Errorf("degraded field = %q", got)
				}
			}
		})
	}
}

func TestBuildEmbed_TruncatesLongFeedback(t *testing.T) {
	t.Parallel()
	embed := notify.BuildEmbed(sampleEvaluation(pipeline.Result{Feedback: strings.Repeat("a", 5000)}))
	if got := field(t, embed, "Feedback"); len([]rune(got)) != 1024 {
		t.Errorf("feedback length = %d runes, want 1024", len([]rune(got)))
	}
}

func TestBuildEmbed_NoQualities(t *testing.T) {
	t.Parallel()
	e := sampleEvaluation(pipeline.Result{})
	e.Qualities = nil
	e.CandidateName = ""
	embed := notify.BuildEmbed(e)
	if embed.Title != "Interview evaluated" {
		t.Errorf("title = %q", embed.Title)
	}
	if got := field(t, embed, "Required qualities"); got != "none specified" {
		t.Errorf("qualities = %q", got)
	}
}
