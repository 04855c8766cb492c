// Package storetest provides a behavioural test suite shared by every
// store.Store backend.
package storetest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/vocahire/vocahire/internal/pipeline"
	"github.com/vocahire/vocahire/internal/score"
	"github.com/vocahire/vocahire/internal/store"
	"github.com/vocahire/vocahire/pkg/types"
)

// Sample returns a fully populated evaluation created at the given time.
func Sample(createdAt time.Time) store.Evaluation {
	e := store.NewEvaluation(store.SourceHTTP, "Backend Engineer", []string{"Go", "SQL"}, pipeline.Result{
		ContentRelevance:    0.8,
		VocalConfidence:     0.7,
		ClarityOfSpeech:     0.9,
		Fluency:             0.6,
		FinalScore:          0.77,
		Scale:               score.ScaleUnit,
		Feedback:            "Clear and relevant.",
		CandidateTranscript: "I have built payment services in Go.",
		CandidateLabel:      "SPEAKER_01",
		Turns: []types.SpeakerTurn{
			{Start: 0, End: 2.5, Speaker: "SPEAKER_00"},
			{Start: 2.5, End: 9.75, Speaker: "SPEAKER_01"},
		},
		Segments: []types.TextSegment{
			{Start: 0, End: 2.4, Text: " Tell me about yourself."},
			{Start: 2.6, End: 9.7, Text: " I have built payment services in Go."},
		},
		Records: []types.AlignedRecord{
			{Start: 0, End: 2.4, Speaker: "SPEAKER_00", Text: "Tell me about yourself."},
			{Start: 2.6, End: 9.7, Speaker: "SPEAKER_01", Text: "I have built payment services in Go."},
		},
		Elapsed: 1500 * time.Millisecond,
	})
	e.CreatedAt = createdAt.UTC()
	e.AudioName = "interview.wav"
	e.CandidateName = "Ada"
	return e
}

// Run exercises open's store against the [store.Store] contract. open must
// return an empty store; Run closes it.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("SaveAndGet", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()

		want := Sample(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
		if err := s.SaveEvaluation(ctx, want); err != nil {
			t.Fatalf("SaveEvaluation: %v", err)
		}
		got, err := s.GetEvaluation(ctx, want.ID)
		if err != nil {
			t.Fatalf("GetEvaluation: %v", err)
		}
		Equal(t, got, want)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		_, err := s.GetEvaluation(context.Background(), "00000000-0000-0000-0000-000000000000")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetEvaluation(unknown) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		e := Sample(time.Now())
		if err := s.SaveEvaluation(ctx, e); err != nil {
			t.Fatalf("first SaveEvaluation: %v", err)
		}
		if err := s.SaveEvaluation(ctx, e); err == nil {
			t.Fatal("second SaveEvaluation with the same id succeeded")
		}
	})

	t.Run("TextOnlyResult", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		e := store.NewEvaluation(store.SourceMCP, "Analyst", nil, pipeline.Result{
			Scale:    score.ScalePercent,
			Feedback: "Insufficient information.",
			Degraded: true, DegradedReason: "evaluate: request: timeout",
		})
		if err := s.SaveEvaluation(ctx, e); err != nil {
			t.Fatalf("SaveEvaluation: %v", err)
		}
		got, err := s.GetEvaluation(ctx, e.ID)
		if err != nil {
			t.Fatalf("GetEvaluation: %v", err)
		}
		if !got.Result.Degraded || got.Result.DegradedReason != e.Result.DegradedReason {
			t.Errorf("degraded = (%v, %q), want (true, %q)", got.Result.Degraded, got.Result.DegradedReason, e.Result.DegradedReason)
		}
		if len(got.Qualities) != 0 || len(got.Result.Turns) != 0 {
			t.Errorf("expected empty qualities and turns, got %v and %v", got.Qualities, got.Result.Turns)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		var ids []string
		for i := range 3 {
			e := Sample(base.Add(time.Duration(i) * time.Hour))
			ids = append(ids, e.ID)
			if err := s.SaveEvaluation(ctx, e); err != nil {
				t.Fatalf("SaveEvaluation %d: %v", i, err)
			}
		}

		all, err := s.ListEvaluations(ctx, 0)
		if err != nil {
			t.Fatalf("ListEvaluations: %v", err)
		}
		var got []string
		for _, e := range all {
			got = append(got, e.ID)
			if len(e.Result.Turns) != 0 || len(e.Result.Segments) != 0 || len(e.Result.Records) != 0 {
				t.Errorf("list entry %s carries artefacts", e.ID)
			}
		}
		slices.Reverse(ids)
		if !slices.Equal(got, ids) {
			t.Errorf("list order = %v, want %v", got, ids)
		}

		two, err := s.ListEvaluations(ctx, 2)
		if err != nil {
			t.Fatalf("ListEvaluations(2): %v", err)
		}
		if len(two) != 2 || two[0].ID != ids[0] {
			t.Errorf("ListEvaluations(2) = %d entries, first %v", len(two), two)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}

// Equal fails t when got and want differ in any persisted field.
func Equal(t *testing.T, got, want store.Evaluation) {
	t.Helper()
	if got.ID != want.ID || got.Source != want.Source || got.AudioName != want.AudioName ||
		got.CandidateName != want.CandidateName || got.JobTitle != want.JobTitle {
		t.Errorf("header mismatch:\n got  %+v\n want %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if !slices.Equal(got.Qualities, want.Qualities) {
		t.Errorf("Qualities = %v, want %v", got.Qualities, want.Qualities)
	}
	g, w := got.Result, want.Result
	if g.ContentRelevance != w.ContentRelevance || g.VocalConfidence != w.VocalConfidence ||
		g.ClarityOfSpeech != w.ClarityOfSpeech || g.Fluency != w.Fluency || g.FinalScore != w.FinalScore {
		t.Errorf("scores = %+v, want %+v", g, w)
	}
	if g.Scale != w.Scale || g.Feedback != w.Feedback || g.CandidateTranscript != w.CandidateTranscript ||
		g.CandidateLabel != w.CandidateLabel || g.Degraded != w.Degraded || g.DegradedReason != w.DegradedReason ||
		g.Elapsed != w.Elapsed {
		t.Errorf("result metadata mismatch:\n got  %+v\n want %+v", g, w)
	}
	if !slices.Equal(g.Turns, w.Turns) {
		t.Errorf("Turns = %v, want %v", g.Turns, w.Turns)
	}
	if !slices.Equal(g.Segments, w.Segments) {
		t.Errorf("Segments = %v, want %v", g.Segments, w.Segments)
	}
	if !slices.Equal(g.Records, w.Records) {
		t.Errorf("Records = %v, want %v", g.Records, w.Records)
	}
}
