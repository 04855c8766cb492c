package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vocahire/vocahire/internal/score"
	"github.com/vocahire/vocahire/internal/store"
	"github.com/vocahire/vocahire/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [store.Store]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection and runs
// [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SaveEvaluation writes the interview row and all child rows in one
// transaction.
func (s *Store) SaveEvaluation(ctx context.Context, e store.Evaluation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: save evaluation: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	qualities := e.Qualities
	if qualities == nil {
		qualities = []string{}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO interviews (id, source, audio_name, candidate_name, job_title, qualities, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, string(e.Source), e.AudioName, e.CandidateName, e.JobTitle, qualities, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save evaluation: insert interview: %w", err)
	}

	r := e.Result
	_, err = tx.Exec(ctx, `
		INSERT INTO analysis_results (
		    interview_id, content_relevance, vocal_confidence, clarity_of_speech, fluency,
		    final_score, scale, feedback, candidate_label, candidate_transcript,
		    degraded, degraded_reason, elapsed_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, r.ContentRelevance, r.VocalConfidence, r.ClarityOfSpeech, r.Fluency,
		r.FinalScore, string(r.Scale), r.Feedback, r.CandidateLabel, r.CandidateTranscript,
		r.Degraded, r.DegradedReason, r.Elapsed.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: save evaluation: insert analysis: %w", err)
	}

	if err := copyRows(ctx, tx, "diarization_turns",
		[]string{"interview_id", "seq", "speaker_label", "start_seconds", "end_seconds"},
		len(r.Turns), func(i int) []any {
			t := r.Turns[i]
			return []any{e.ID, i, t.Speaker, t.Start, t.End}
		}); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "transcription_segments",
		[]string{"interview_id", "seq", "start_seconds", "end_seconds", "transcript"},
		len(r.Segments), func(i int) []any {
			sg := r.Segments[i]
			return []any{e.ID, i, sg.Start, sg.End, sg.Text}
		}); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "speaker_segments",
		[]string{"interview_id", "seq", "speaker_label", "start_seconds", "end_seconds", "text"},
		len(r.Records), func(i int) []any {
			rec := r.Records[i]
			return []any{e.ID, i, rec.Speaker, rec.Start, rec.End, rec.Text}
		}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: save evaluation: commit: %w", err)
	}
	return nil
}

func copyRows(ctx context.Context, tx pgx.Tx, table string, cols []string, n int, row func(int) []any) error {
	if n == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{table}, cols, pgx.CopyFromSlice(n, func(i int) ([]any, error) {
		return row(i), nil
	}))
	if err != nil {
		return fmt.Errorf("postgres store: save evaluation: copy %s: %w", table, err)
	}
	return nil
}

const selectEvaluation = `
	SELECT i.id, i.source, i.audio_name, i.candidate_name, i.job_title, i.qualities, i.created_at,
	       a.content_relevance, a.vocal_confidence, a.clarity_of_speech, a.fluency,
	       a.final_score, a.scale, a.feedback, a.candidate_label, a.candidate_transcript,
	       a.degraded, a.degraded_reason, a.elapsed_ns
	FROM interviews i
	JOIN analysis_results a ON a.interview_id = i.id`

func scanEvaluation(row pgx.Row) (store.Evaluation, error) {
	var (
		e         store.Evaluation
		source    string
		scale     string
		elapsedNS int64
	)
	r := &e.Result
	err := row.Scan(
		&e.ID, &source, &e.AudioName, &e.CandidateName, &e.JobTitle, &e.Qualities, &e.CreatedAt,
		&r.ContentRelevance, &r.VocalConfidence, &r.ClarityOfSpeech, &r.Fluency,
		&r.FinalScore, &scale, &r.Feedback, &r.CandidateLabel, &r.CandidateTranscript,
		&r.Degraded, &r.DegradedReason, &elapsedNS,
	)
	if err != nil {
		return store.Evaluation{}, err
	}
	e.Source = store.Source(source)
	e.CreatedAt = e.CreatedAt.UTC()
	r.Scale = score.Scale(scale)
	r.Elapsed = time.Duration(elapsedNS)
	return e, nil
}

// GetEvaluation loads one evaluation with all child rows.
func (s *Store) GetEvaluation(ctx context.Context, id string) (store.Evaluation, error) {
	e, err := scanEvaluation(s.pool.QueryRow(ctx, selectEvaluation+` WHERE i.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Evaluation{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}
	if err != nil {
		return store.Evaluation{}, fmt.Errorf("postgres store: get evaluation: %w", err)
	}

	e.Result.Turns, err = queryRows(ctx, s.pool,
		`SELECT start_seconds, end_seconds, speaker_label FROM diarization_turns WHERE interview_id = $1 ORDER BY seq`,
		id, func(row pgx.CollectableRow) (types.SpeakerTurn, error) {
			var t types.SpeakerTurn
			err := row.Scan(&t.Start, &t.End, &t.Speaker)
			return t, err
		})
	if err != nil {
		return store.Evaluation{}, fmt.Errorf("postgres store: get evaluation: turns: %w", err)
	}

	e.Result.Segments, err = queryRows(ctx, s.pool,
		`SELECT start_seconds, end_seconds, transcript FROM transcription_segments WHERE interview_id = $1 ORDER BY seq`,
		id, pgx.RowToStructByPos[types.TextSegment])
	if err != nil {
		return store.Evaluation{}, fmt.Errorf("postgres store: get evaluation: segments: %w", err)
	}

	e.Result.Records, err = queryRows(ctx, s.pool,
		`SELECT start_seconds, end_seconds, speaker_label, text FROM speaker_segments WHERE interview_id = $1 ORDER BY seq`,
		id, pgx.RowToStructByPos[types.AlignedRecord])
	if err != nil {
		return store.Evaluation{}, fmt.Errorf("postgres store: get evaluation: records: %w", err)
	}
	return e, nil
}

func queryRows[T any](ctx context.Context, pool *pgxpool.Pool, sql, id string, fn pgx.RowToFunc[T]) ([]T, error) {
	rows, err := pool.Query(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, fn)
}

// ListEvaluations returns evaluation summaries, newest first.
func (s *Store) ListEvaluations(ctx context.Context, limit int) ([]store.Evaluation, error) {
	sql := selectEvaluation + ` ORDER BY i.created_at DESC, i.id`
	args := []any{}
	if limit > 0 {
		sql += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list evaluations: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Evaluation, error) {
		return scanEvaluation(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list evaluations: %w", err)
	}
	return out, nil
}

// Ping verifies the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// IsConstraintViolation reports whether err is a PostgreSQL integrity
// constraint violation (class 23), such as a duplicate ID or a score outside
// its CHECK range.
func IsConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && len(pgErr.Code) == 5 && pgErr.Code[:2] == "23"
}
