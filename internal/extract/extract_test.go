package extract_test

import (
	"errors"
	"testing"

	"github.com/vocahire/vocahire/internal/extract"
	"github.com/vocahire/vocahire/pkg/types"
)

func interview() []types.AlignedRecord {
	return []types.AlignedRecord{
		{Start: 0, End: 2, Speaker: "SPEAKER_00", Text: "Tell me about yourself."},
		{Start: 2, End: 12, Speaker: "SPEAKER_01", Text: "I have built backend systems"},
		{Start: 12, End: 13, Speaker: "SPEAKER_00", Text: "Go on."},
		{Start: 13, End: 20, Speaker: "SPEAKER_01", Text: "for five years."},
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		records []types.AlignedRecord
		policy  extract.Policy
		want    string
		wantErr error
	}{
		{
			name: "fixed label joins in order",
			records: []types.AlignedRecord{
				{Start: 0, End: 5, Speaker: "A", Text: "Hi"},
				{Start: 5, End: 8, Speaker: "B", Text: "there"},
				{Start: 5, End: 8, Speaker: "A", Text: "there"},
			},
			policy: extract.Label("A"),
			want:   "Hi there",
		},
		{
			name:    "first speaker",
			records: interview(),
			policy:  extract.First(),
			want:    "Tell me about yourself. Go on.",
		},
		{
			name:    "second speaker",
			records: interview(),
			policy:  extract.Second(),
			want:    "I have built backend systems for five years.",
		},
		{
			name:    "dominant speaker",
			records: interview(),
			policy:  extract.Dominant(),
			want:    "I have built backend systems for five years.",
		},
		{
			name: "empty texts skipped",
			records: []types.AlignedRecord{
				{Start: 0, End: 1, Speaker: "A", Text: ""},
				{Start: 1, End: 2, Speaker: "A", Text: "word"},
			},
			policy: extract.Label("A"),
			want:   "word",
		},
		{
			name:    "label absent",
			records: interview(),
			policy:  extract.Label("SPEAKER_07"),
			wantErr: extract.ErrEmptyTranscript,
		},
		{
			name:    "no records",
			records: nil,
			policy:  extract.Dominant(),
			wantErr: extract.ErrEmptyTranscript,
		},
		{
			name: "second on monologue",
			records: []types.AlignedRecord{
				{Start: 0, End: 1, Speaker: "A", Text: "alone"},
			},
			policy:  extract.Second(),
			wantErr: extract.ErrEmptyTranscript,
		},
		{
			name: "only blank text",
			records: []types.AlignedRecord{
				{Start: 0, End: 1, Speaker: "A", Text: "   "},
			},
			policy:  extract.Label("A"),
			wantErr: extract.ErrEmptyTranscript,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := extract.Extract(tc.records, tc.policy)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Extract() error = %v, want %v", err, tc.wantErr)
				}
				if got != "" {
					t.Errorf("Extract() = %q on error, want empty", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract() unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Extract() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDominant_TieGoesToFirstHeard(t *testing.T) {
	t.Parallel()
	records := []types.AlignedRecord{
		{Start: 0, End: 3, Speaker: "B", Text: "b"},
		{Start: 3, End: 6, Speaker: "A", Text: "a"},
	}
	label, ok := extract.Dominant().Resolve(records)
	if !ok || label != "B" {
		t.Fatalf("Resolve() = %q, %v; want B, true", label, ok)
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    extract.Policy
		wantErr bool
	}{
		{in: "", want: extract.Dominant()},
		{in: "dominant", want: extract.Dominant()},
		{in: "first", want: extract.First()},
		{in: " second ", want: extract.Second()},
		{in: "label:SPEAKER_01", want: extract.Label("SPEAKER_01")},
		{in: "label:", wantErr: true},
		{in: "loudest", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := extract.ParsePolicy(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParsePolicy(%q) expected error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePolicy(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParsePolicy(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
			if back, _ := extract.ParsePolicy(got.String()); back != got {
				t.Errorf("String() round trip: %q -> %+v", got.String(), back)
			}
		})
	}
}
