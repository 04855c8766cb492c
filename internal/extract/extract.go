// Package extract selects the candidate's speech from an aligned transcript.
//
// Which diarization label belongs to the candidate is a policy decision made
// by the caller. A [Policy] either names the label directly or derives it
// from the records (first speaker, second speaker, or the speaker with the
// most talking time).
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vocahire/vocahire/internal/align"
	"github.com/vocahire/vocahire/pkg/types"
)

// ErrEmptyTranscript is returned when no aligned record is attributable to
// the candidate. There is nothing to score, so callers must not retry.
var ErrEmptyTranscript = errors.New("extract: empty candidate transcript")

// Rule enumerates the ways a candidate label can be chosen.
type Rule string

const (
	// RuleLabel uses a fixed diarization label.
	RuleLabel Rule = "label"

	// RuleFirst treats the first speaker heard as the candidate.
	RuleFirst Rule = "first"

	// RuleSecond treats the second distinct speaker as the candidate, for
	// recordings where the interviewer opens the conversation.
	RuleSecond Rule = "second"

	// RuleDominant picks the speaker with the most aligned speaking time.
	RuleDominant Rule = "dominant"
)

// Policy maps a diarization label to the candidate role.
type Policy struct {
	Rule  Rule
	Label string // only for RuleLabel
}

// Label returns a policy that always selects label.
func Label(label string) Policy { return Policy{Rule: RuleLabel, Label: label} }

// First returns the first-speaker policy.
func First() Policy { return Policy{Rule: RuleFirst} }

// Second returns the second-speaker policy.
func Second() Policy { return Policy{Rule: RuleSecond} }

// Dominant returns the most-speaking-time policy. It is the default.
func Dominant() Policy { return Policy{Rule: RuleDominant} }

// ParsePolicy parses "label:X", "first", "second" or "dominant". The empty
// string yields [Dominant].
func ParsePolicy(s string) (Policy, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == string(RuleDominant):
		return Dominant(), nil
	case s == string(RuleFirst):
		return First(), nil
	case s == string(RuleSecond):
		return Second(), nil
	case strings.HasPrefix(s, string(RuleLabel)+":"):
		label := strings.TrimSpace(strings.TrimPrefix(s, string(RuleLabel)+":"))
		if label == "" {
			return Policy{}, fmt.Errorf("extract: policy %q: label must not be empty", s)
		}
		return Label(label), nil
	default:
		return Policy{}, fmt.Errorf("extract: unknown candidate policy %q", s)
	}
}

// String returns the textual form accepted by [ParsePolicy].
func (p Policy) String() string {
	if p.Rule == RuleLabel {
		return string(RuleLabel) + ":" + p.Label
	}
	if p.Rule == "" {
		return string(RuleDominant)
	}
	return string(p.Rule)
}

// Resolve returns the candidate label for records under p. The second return
// value is false when the policy cannot name a speaker, for example
// [RuleSecond] on a single-speaker recording.
func (p Policy) Resolve(records []types.AlignedRecord) (string, bool) {
	switch p.Rule {
	case RuleLabel:
		return p.Label, p.Label != ""
	case RuleFirst, RuleSecond:
		want := 1
		if p.Rule == RuleSecond {
			want = 2
		}
		seen := make(map[string]struct{})
		for _, r := range records {
			if _, ok := seen[r.Speaker]; ok {
				continue
			}
			seen[r.Speaker] = struct{}{}
			if len(seen) == want {
				return r.Speaker, true
			}
		}
		return "", false
	case RuleDominant, "":
		totals := align.SpeakingTime(records)
		best, bestTime := "", -1.0
		// Iterate records rather than the map so ties go to the speaker
		// heard first.
		for _, r := range records {
			if t := totals[r.Speaker]; t > bestTime {
				best, bestTime = r.Speaker, t
			}
		}
		return best, best != ""
	default:
		return "", false
	}
}

// Extract returns the candidate's text: the trimmed text of every record
// whose speaker the policy selects, joined with single spaces in record
// order. Records must already be sorted by start time, as [align.Align]
// returns them. [ErrEmptyTranscript] is returned when nothing remains.
func Extract(records []types.AlignedRecord, policy Policy) (string, error) {
	label, ok := policy.Resolve(records)
	if !ok {
		return "", fmt.Errorf("%w: policy %s selects no speaker", ErrEmptyTranscript, policy)
	}

	parts := make([]string, 0, len(records))
	for _, r := range records {
		if r.Speaker != label {
			continue
		}
		if text := strings.TrimSpace(r.Text); text != "" {
			parts = append(parts, text)
		}
	}
	out := strings.TrimSpace(strings.Join(parts, " "))
	if out == "" {
		return "", fmt.Errorf("%w: no speech attributed to %q", ErrEmptyTranscript, label)
	}
	return out, nil
}
