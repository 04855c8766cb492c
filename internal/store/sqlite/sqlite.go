// Package sqlite provides a single-file store.Store on top of the pure-Go
// modernc.org/sqlite driver. The schema mirrors the postgres backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vocahire/vocahire/internal/score"
	"github.com/vocahire/vocahire/internal/store"
	"github.com/vocahire/vocahire/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store wraps a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %q: %w", path, err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS interviews (
			id             TEXT PRIMARY KEY,
			source         TEXT NOT NULL,
			audio_name     TEXT NOT NULL DEFAULT '',
			candidate_name TEXT NOT NULL DEFAULT '',
			job_title      TEXT NOT NULL,
			qualities_json TEXT NOT NULL DEFAULT '[]',
			created_at     INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interviews_created_at ON interviews(created_at);`,
		`CREATE TABLE IF NOT EXISTS diarization_turns (
			interview_id  TEXT NOT NULL REFERENCES interviews(id) ON DELETE CASCADE,
			seq           INTEGER NOT NULL,
			speaker_label TEXT NOT NULL,
			start_seconds REAL NOT NULL CHECK (start_seconds >= 0),
			end_seconds   REAL NOT NULL,
			PRIMARY KEY (interview_id, seq),
			CHECK (end_seconds > start_seconds)
		);`,
		`CREATE TABLE IF NOT EXISTS transcription_segments (
			interview_id  TEXT NOT NULL REFERENCES interviews(id) ON DELETE CASCADE,
			seq           INTEGER NOT NULL,
			start_seconds REAL NOT NULL CHECK (start_seconds >= 0),
			end_seconds   REAL NOT NULL,
			transcript    TEXT NOT NULL,
			PRIMARY KEY (interview_id, seq),
			CHECK (end_seconds > start_seconds)
		);`,
		`CREATE TABLE IF NOT EXISTS speaker_segments (
			interview_id  TEXT NOT NULL REFERENCES interviews(id) ON DELETE CASCADE,
			seq           INTEGER NOT NULL,
			speaker_label TEXT NOT NULL,
			start_seconds REAL NOT NULL CHECK (start_seconds >= 0),
			end_seconds   REAL NOT NULL,
			text          TEXT NOT NULL,
			PRIMARY KEY (interview_id, seq),
			CHECK (end_seconds > start_seconds)
		);`,
		`CREATE TABLE IF NOT EXISTS analysis_results (
			interview_id         TEXT PRIMARY KEY REFERENCES interviews(id) ON DELETE CASCADE,
			content_relevance    REAL NOT NULL CHECK (content_relevance BETWEEN 0 AND 100),
			vocal_confidence     REAL NOT NULL CHECK (vocal_confidence BETWEEN 0 AND 100),
			clarity_of_speech    REAL NOT NULL CHECK (clarity_of_speech BETWEEN 0 AND 100),
			fluency              REAL NOT NULL CHECK (fluency BETWEEN 0 AND 100),
			final_score          REAL NOT NULL CHECK (final_score BETWEEN 0 AND 100),
			scale                TEXT NOT NULL,
			feedback             TEXT NOT NULL,
			candidate_label      TEXT NOT NULL DEFAULT '',
			candidate_transcript TEXT NOT NULL DEFAULT '',
			degraded             INTEGER NOT NULL DEFAULT 0,
			degraded_reason      TEXT NOT NULL DEFAULT '',
			elapsed_ns           INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvaluation writes the evaluation and its child rows in one transaction.
func (s *Store) SaveEvaluation(ctx context.Context, e store.Evaluation) error {
	qualities := e.Qualities
	if qualities == nil {
		qualities = []string{}
	}
	qualitiesJSON, err := json.Marshal(qualities)
	if err != nil {
		return fmt.Errorf("sqlite store: save evaluation: encode qualities: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: save evaluation: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `INSERT INTO interviews(id, source, audio_name, candidate_name, job_title, qualities_json, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Source), e.AudioName, e.CandidateName, e.JobTitle, string(qualitiesJSON), e.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("sqlite store: save evaluation: insert interview: %w", err)
	}

	r := e.Result
	if _, err := tx.ExecContext(ctx, `INSERT INTO analysis_results(interview_id, content_relevance, vocal_confidence,
		clarity_of_speech, fluency, final_score, scale, feedback, candidate_label, candidate_transcript,
		degraded, degraded_reason, elapsed_ns) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, r.ContentRelevance, r.VocalConfidence, r.ClarityOfSpeech, r.Fluency, r.FinalScore,
		string(r.Scale), r.Feedback, r.CandidateLabel, r.CandidateTranscript,
		r.Degraded, r.DegradedReason, r.Elapsed.Nanoseconds()); err != nil {
		return fmt.Errorf("sqlite store: save evaluation: insert analysis: %w", err)
	}

	for i, t := range r.Turns {
		if _, err := tx.ExecContext(ctx, `INSERT INTO diarization_turns(interview_id, seq, speaker_label, start_seconds, end_seconds)
			VALUES(?, ?, ?, ?, ?)`, e.ID, i, t.Speaker, t.Start, t.End); err != nil {
			return fmt.Errorf("sqlite store: save evaluation: insert turn %d: %w", i, err)
		}
	}
	for i, sg := range r.Segments {
		if _, err := tx.ExecContext(ctx, `INSERT INTO transcription_segments(interview_id, seq, start_seconds, end_seconds, transcript)
			VALUES(?, ?, ?, ?, ?)`, e.ID, i, sg.Start, sg.End, sg.Text); err != nil {
			return fmt.Errorf("sqlite store: save evaluation: insert segment %d: %w", i, err)
		}
	}
	for i, rec := range r.Records {
		if _, err := tx.ExecContext(ctx, `INSERT INTO speaker_segments(interview_id, seq, speaker_label, start_seconds, end_seconds, text)
			VALUES(?, ?, ?, ?, ?, ?)`, e.ID, i, rec.Speaker, rec.Start, rec.End, rec.Text); err != nil {
			return fmt.Errorf("sqlite store: save evaluation: insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: save evaluation: commit: %w", err)
	}
	return nil
}

const selectEvaluation = `SELECT i.id, i.source, i.audio_name, i.candidate_name, i.job_title, i.qualities_json, i.created_at,
	a.content_relevance, a.vocal_confidence, a.clarity_of_speech, a.fluency, a.final_score, a.scale, a.feedback,
	a.candidate_label, a.candidate_transcript, a.degraded, a.degraded_reason, a.elapsed_ns
	FROM interviews i JOIN analysis_results a ON a.interview_id = i.id`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row scanner) (store.Evaluation, error) {
	var (
		e             store.Evaluation
		source, scale string
		qualitiesJSON string
		createdNS     int64
		elapsedNS     int64
	)
	r := &e.Result
	if err := row.Scan(&e.ID, &source, &e.AudioName, &e.CandidateName, &e.JobTitle, &qualitiesJSON, &createdNS,
		&r.ContentRelevance, &r.VocalConfidence, &r.ClarityOfSpeech, &r.Fluency, &r.FinalScore, &scale, &r.Feedback,
		&r.CandidateLabel, &r.CandidateTranscript, &r.Degraded, &r.DegradedReason, &elapsedNS); err != nil {
		return store.Evaluation{}, err
	}
	if err := json.Unmarshal([]byte(qualitiesJSON), &e.Qualities); err != nil {
		return store.Evaluation{}, fmt.Errorf("decode qualities: %w", err)
	}
	e.Source = store.Source(source)
	e.CreatedAt = time.Unix(0, createdNS).UTC()
	r.Scale = score.Scale(scale)
	r.Elapsed = time.Duration(elapsedNS)
	return e, nil
}

// GetEvaluation loads one evaluation with all child rows.
func (s *Store) GetEvaluation(ctx context.Context, id string) (store.Evaluation, error) {
	e, err := scanEvaluation(s.db.QueryRowContext(ctx, selectEvaluation+` WHERE i.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Evaluation{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}
	if err != nil {
		return store.Evaluation{}, fmt.Errorf("sqlite store: get evaluation: %w", err)
	}

	e.Result.Turns, err = queryRows(ctx, s.db,
		`SELECT start_seconds, end_seconds, speaker_label FROM diarization_turns WHERE interview_id = ? ORDER BY seq`, id,
		func(rows *sql.Rows) (types.SpeakerTurn, error) {
			var t types.SpeakerTurn
			err := rows.Scan(&t.Start, &t.End, &t.Speaker)
			return t, err
		})
	if err != nil {
		return store.Evaluation{}, fmt.Errorf("sqlite store: get evaluation: turns: %w", err)
	}
	e.Result.Segments, err = queryRows(ctx, s.db,
		`SELECT start_seconds, end_seconds, transcript FROM transcription_segments WHERE interview_id = ? ORDER BY seq`, id,
		func(rows *sql.Rows) (types.TextSegment, error) {
			var sg types.TextSegment
			err := rows.Scan(&sg.Start, &sg.End, &sg.Text)
			return sg, err
		})
	if err != nil {
		return store.Evaluation{}, fmt.Errorf("sqlite store: get evaluation: segments: %w", err)
	}
	e.Result.Records, err = queryRows(ctx, s.db,
		`SELECT start_seconds, end_seconds, speaker_label, text FROM speaker_segments WHERE interview_id = ? ORDER BY seq`, id,
		func(rows *sql.Rows) (types.AlignedRecord, error) {
			var rec types.AlignedRecord
			err := rows.Scan(&rec.Start, &rec.End, &rec.Speaker, &rec.Text)
			return rec, err
		})
	if err != nil {
		return store.Evaluation{}, fmt.Errorf("sqlite store: get evaluation: records: %w", err)
	}
	return e, nil
}

func queryRows[T any](ctx context.Context, db *sql.DB, query, id string, scan func(*sql.Rows) (T, error)) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListEvaluations returns evaluation summaries, newest first.
func (s *Store) ListEvaluations(ctx context.Context, limit int) ([]store.Evaluation, error) {
	query := selectEvaluation + ` ORDER BY i.created_at DESC, i.rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list evaluations: %w", err)
	}
	defer rows.Close()
	var out []store.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: list evaluations: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list evaluations: %w", err)
	}
	return out, nil
}

// Ping checks that the database file is still usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
