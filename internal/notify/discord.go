package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vocahire/vocahire/internal/score"
	"github.com/vocahire/vocahire/internal/store"
)

// Embed sidebar colours by final score band.
const (
	embedColorGreen  = 0x2ECC71
	embedColorYellow = 0xF1C40F
	embedColorRed    = 0xE74C3C
	embedColorGrey   = 0x95A5A6
)

// maxFieldLen is Discord's limit for an embed field value.
const maxFieldLen = 1024

// EmbedSender is the subset of *discordgo.Session used by [Discord].
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ EmbedSender = (*discordgo.Session)(nil)

// Discord posts one embed per evaluation to a fixed channel.
type Discord struct {
	sender    EmbedSender
	channelID string
}

var _ Notifier = (*Discord)(nil)

// NewDiscord creates a bot session from token. The session only uses the
// REST API; no gateway connection is opened.
func NewDiscord(token, channelID string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return NewDiscordWithSender(session, channelID), nil
}

// NewDiscordWithSender wires an existing sender, typically a test double.
func NewDiscordWithSender(sender EmbedSender, channelID string) *Discord {
	return &Discord{sender: sender, channelID: channelID}
}

// Notify sends the evaluation embed.
func (d *Discord) Notify(ctx context.Context, e store.Evaluation) error {
	if _, err := d.sender.ChannelMessageSendEmbed(d.channelID, BuildEmbed(e), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("notify: discord send to %s: %w", d.channelID, err)
	}
	return nil
}

// BuildEmbed renders an evaluation as a Discord embed.
func BuildEmbed(e store.Evaluation) *discordgo.MessageEmbed {
	r := e.Result
	title := "Interview evaluated"
	if e.CandidateName != "" {
		title = "Interview evaluated: " + e.CandidateName
	}

	qualities := "none specified"
	if len(e.Qualities) > 0 {
		qualities = strings.Join(e.Qualities, ", ")
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Position", Value: orDash(e.JobTitle), Inline: true},
		{Name: "Final score", Value: formatScore(r.FinalScore, r.Scale), Inline: true},
		{Name: "Required qualities", Value: truncate(qualities), Inline: false},
		{Name: "Content relevance", Value: formatScore(r.ContentRelevance, r.Scale), Inline: true},
		{Name: "Vocal confidence", Value: formatScore(r.VocalConfidence, r.Scale), Inline: true},
		{Name: "Clarity of speech", Value: formatScore(r.ClarityOfSpeech, r.Scale), Inline: true},
		{Name: "Fluency", Value: formatScore(r.Fluency, r.Scale), Inline: true},
		{Name: "Feedback", Value: truncate(orDash(r.Feedback)), Inline: false},
	}
	if r.Degraded {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Degraded",
			Value: truncate("Default score used: " + orDash(r.DegradedReason)),
		})
	}

	footer := "Evaluation " + e.ID
	if e.AudioName != "" {
		footer += " · " + e.AudioName
	}
	return &discordgo.MessageEmbed{
		Title:     title,
		Color:     embedColor(r.FinalScore, r.Scale, r.Degraded),
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: footer},
		Timestamp: e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func embedColor(final float64, scale score.Scale, degraded bool) int {
	if degraded {
		return embedColorGrey
	}
	switch unit := final / scale.Max(); {
	case unit >= 0.7:
		return embedColorGreen
	case unit >= 0.4:
		return embedColorYellow
	default:
		return embedColorRed
	}
}

func formatScore(v float64, scale score.Scale) string {
	if scale == score.ScalePercent {
		return fmt.Sprintf("%.2f / 100", v)
	}
	return fmt.Sprintf("%.2f", v)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxFieldLen {
		return s
	}
	return string(r[:maxFieldLen-1]) + "…"
}
