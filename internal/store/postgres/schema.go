// Package postgres provides a PostgreSQL-backed store.Store.
//
// One interview maps to a row in interviews plus its diarization turns,
// transcript segments, aligned speaker segments and a single analysis
// result. Child rows cascade on delete. [Migrate] creates the schema
// idempotently and runs on every [New].
//
// Usage:
//
//	s, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
//	_ = s.SaveEvaluation(ctx, eval)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlInterviews = `
CREATE TABLE IF NOT EXISTS interviews (
    id              TEXT         PRIMARY KEY,
    source          TEXT         NOT NULL,
    audio_name      TEXT         NOT NULL DEFAULT '',
    candidate_name  TEXT         NOT NULL DEFAULT '',
    job_title       TEXT         NOT NULL,
    qualities       TEXT[]       NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interviews_created_at ON interviews (created_at DESC);
`

const ddlSegments = `
CREATE TABLE IF NOT EXISTS diarization_turns (
    interview_id   TEXT              NOT NULL REFERENCES interviews (id) ON DELETE CASCADE,
    seq            INTEGER           NOT NULL,
    speaker_label  TEXT              NOT NULL,
    start_seconds  DOUBLE PRECISION  NOT NULL,
    end_seconds    DOUBLE PRECISION  NOT NULL,
    PRIMARY KEY (interview_id, seq),
    CONSTRAINT chk_turn_start_positive CHECK (start_seconds >= 0),
    CONSTRAINT chk_turn_end_gt_start   CHECK (end_seconds > start_seconds)
);

CREATE TABLE IF NOT EXISTS transcription_segments (
    interview_id   TEXT              NOT NULL REFERENCES interviews (id) ON DELETE CASCADE,
    seq            INTEGER           NOT NULL,
    start_seconds  DOUBLE PRECISION  NOT NULL,
    end_seconds    DOUBLE PRECISION  NOT NULL,
    transcript     TEXT              NOT NULL,
    PRIMARY KEY (interview_id, seq),
    CONSTRAINT chk_start_seconds_positive CHECK (start_seconds >= 0),
    CONSTRAINT chk_end_seconds_gt_start   CHECK (end_seconds > start_seconds)
);

CREATE TABLE IF NOT EXISTS speaker_segments (
    interview_id   TEXT              NOT NULL REFERENCES interviews (id) ON DELETE CASCADE,
    seq            INTEGER           NOT NULL,
    speaker_label  TEXT              NOT NULL,
    start_seconds  DOUBLE PRECISION  NOT NULL,
    end_seconds    DOUBLE PRECISION  NOT NULL,
    text           TEXT              NOT NULL,
    PRIMARY KEY (interview_id, seq),
    CONSTRAINT chk_speaker_start_positive CHECK (start_seconds >= 0),
    CONSTRAINT chk_speaker_end_gt_start   CHECK (end_seconds > start_seconds)
);
`

const ddlAnalysis = `
CREATE TABLE IF NOT EXISTS analysis_results (
    interview_id          TEXT              PRIMARY KEY REFERENCES interviews (id) ON DELETE CASCADE,
    content_relevance     DOUBLE PRECISION  NOT NULL,
    vocal_confidence      DOUBLE PRECISION  NOT NULL,
    clarity_of_speech     DOUBLE PRECISION  NOT NULL,
    fluency               DOUBLE PRECISION  NOT NULL,
    final_score           DOUBLE PRECISION  NOT NULL,
    scale                 TEXT              NOT NULL,
    feedback              TEXT              NOT NULL,
    candidate_label       TEXT              NOT NULL DEFAULT '',
    candidate_transcript  TEXT              NOT NULL DEFAULT '',
    degraded              BOOLEAN           NOT NULL DEFAULT false,
    degraded_reason       TEXT              NOT NULL DEFAULT '',
    elapsed_ns            BIGINT            NOT NULL DEFAULT 0,
    CONSTRAINT chk_content_relevance_range CHECK (content_relevance BETWEEN 0 AND 100),
    CONSTRAINT chk_vocal_confidence_range  CHECK (vocal_confidence BETWEEN 0 AND 100),
    CONSTRAINT chk_clarity_range           CHECK (clarity_of_speech BETWEEN 0 AND 100),
    CONSTRAINT chk_fluency_range           CHECK (fluency BETWEEN 0 AND 100),
    CONSTRAINT chk_final_score_range       CHECK (final_score BETWEEN 0 AND 100)
);
`

// Migrate creates all tables, constraints and indexes if they do not already
// exist. It is safe to call repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlInterviews, ddlSegments, ddlAnalysis} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
