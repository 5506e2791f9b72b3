package feedback

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/notaria-labs/registro-cli/internal/db"
)

// Store defines persistence for feedback records and the evolution queue.
type Store interface {
	Record(ctx context.Context, fb Feedback) (*QueueEntry, error)
	Queue(ctx context.Context, docType, model string) (*QueueEntry, error)
	RecentIncorrect(ctx context.Context, docType, model string, limit int) ([]IncorrectExample, error)
	BacktestSamples(ctx context.Context, docType, model string, limit int) ([]BacktestSample, error)
	ResetCounters(ctx context.Context, docType, model string) error
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Record validates and persists one verdict, then atomically bumps the
// evolution queue counters for the (doc_type, model) in the same transaction.
// Returns the updated queue entry so the caller can check ShouldEvolve.
func (s *PostgresStore) Record(ctx context.Context, fb Feedback) (*QueueEntry, error) {
	if err := fb.Validate(); err != nil {
		return nil, err
	}

	var category *Category
	if !fb.IsCorrect {
		c := Classify(fb.Reason)
		category = &c
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "feedback: begin record")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO feedback_records
			(id, doc_type, model, document_id, content_ref, field, value,
			 is_correct, reason, category, corrected_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.NewString(), fb.DocType, fb.Model, fb.DocumentID, fb.ContentRef,
		fb.Field, fb.Value, fb.IsCorrect, fb.Reason, category, fb.CorrectedValue,
	); err != nil {
		return nil, eris.Wrap(err, "feedback: insert record")
	}

	entry, err := bumpQueue(ctx, tx, fb.DocType, fb.Model, category)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "feedback: commit record")
	}
	return entry, nil
}

// bumpQueue upserts the evolution queue row, incrementing the total counter,
// the incorrect counter when a category is present, and folding the category
// into the stored histogram. The histogram increment happens in SQL so
// concurrent first-ever records for a new pair cannot overwrite each other.
func bumpQueue(ctx context.Context, tx pgx.Tx, docType, model string, category *Category) (*QueueEntry, error) {
	incorrect := 0
	var cat *string
	if category != nil {
		incorrect = 1
		c := string(*category)
		cat = &c
	}

	entry := &QueueEntry{DocType: docType, Model: model, Histogram: map[Category]int{}}
	var histJSON []byte
	err := tx.QueryRow(ctx,
		`INSERT INTO evolution_queue (doc_type, model, feedback_count, incorrect_count, histogram)
		VALUES ($1, $2, 1, $3,
			CASE WHEN $4::text IS NULL THEN '{}'::jsonb
				ELSE jsonb_build_object($4::text, 1) END)
		ON CONFLICT (doc_type, model) DO UPDATE SET
			feedback_count = evolution_queue.feedback_count + 1,
			incorrect_count = evolution_queue.incorrect_count + $3,
			histogram = CASE WHEN $4::text IS NULL THEN evolution_queue.histogram
				ELSE evolution_queue.histogram || jsonb_build_object($4::text,
					coalesce((evolution_queue.histogram ->> $4::text)::int, 0) + 1) END
		RETURNING feedback_count, incorrect_count, histogram, last_evolved_at`,
		docType, model, incorrect, cat,
	).Scan(&entry.FeedbackCount, &entry.IncorrectCount, &histJSON, &entry.LastEvolvedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "feedback: bump queue for %s/%s", docType, model)
	}
	if len(histJSON) > 0 {
		if err := json.Unmarshal(histJSON, &entry.Histogram); err != nil {
			return nil, eris.Wrap(err, "feedback: unmarshal histogram")
		}
	}
	return entry, nil
}

// Queue loads the evolution queue entry, or a zeroed entry when none exists.
func (s *PostgresStore) Queue(ctx context.Context, docType, model string) (*QueueEntry, error) {
	entry := &QueueEntry{DocType: docType, Model: model, Histogram: map[Category]int{}}
	var histJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT feedback_count, incorrect_count, histogram, last_evolved_at
		FROM evolution_queue WHERE doc_type = $1 AND model = $2`,
		docType, model,
	).Scan(&entry.FeedbackCount, &entry.IncorrectCount, &histJSON, &entry.LastEvolvedAt)
	if err == pgx.ErrNoRows {
		return entry, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "feedback: load queue for %s/%s", docType, model)
	}
	if len(histJSON) > 0 {
		if err := json.Unmarshal(histJSON, &entry.Histogram); err != nil {
			return nil, eris.Wrap(err, "feedback: unmarshal histogram")
		}
	}
	return entry, nil
}

// RecentIncorrect returns the newest incorrect verdicts for the evolver's
// few-shot examples.
func (s *PostgresStore) RecentIncorrect(ctx context.Context, docType, model string, limit int) ([]IncorrectExample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field, value, reason, category FROM feedback_records
		WHERE doc_type = $1 AND model = $2 AND is_correct = false
		ORDER BY created_at DESC LIMIT $3`,
		docType, model, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "feedback: recent incorrect for %s/%s", docType, model)
	}
	defer rows.Close()

	var out []IncorrectExample
	for rows.Next() {
		var ex IncorrectExample
		if err := rows.Scan(&ex.Field, &ex.WrongValue, &ex.Reason, &ex.Category); err != nil {
			return nil, eris.Wrap(err, "feedback: scan incorrect example")
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// BacktestSamples returns recent human-verified field expectations: the value
// itself when the verdict was correct, the corrected value when one was
// supplied. Incorrect verdicts without a correction carry no scoreable
// expectation and are excluded by the query.
func (s *PostgresStore) BacktestSamples(ctx context.Context, docType, model string, limit int) ([]BacktestSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document_id, content_ref, field,
			CASE WHEN is_correct THEN value ELSE corrected_value END AS expected
		FROM feedback_records
		WHERE doc_type = $1 AND model = $2
			AND (is_correct OR corrected_value IS NOT NULL)
		ORDER BY created_at DESC LIMIT $3`,
		docType, model, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "feedback: backtest samples for %s/%s", docType, model)
	}
	defer rows.Close()

	var out []BacktestSample
	for rows.Next() {
		var bs BacktestSample
		if err := rows.Scan(&bs.DocumentID, &bs.ContentRef, &bs.Field, &bs.Expected); err != nil {
			return nil, eris.Wrap(err, "feedback: scan backtest sample")
		}
		out = append(out, bs)
	}
	return out, rows.Err()
}

// ResetCounters zeroes the queue after a successful evolution, stamping
// last_evolved_at. The histogram is cleared so the next window accumulates
// fresh evidence.
func (s *PostgresStore) ResetCounters(ctx context.Context, docType, model string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE evolution_queue SET
			feedback_count = 0, incorrect_count = 0,
			histogram = '{}'::jsonb, last_evolved_at = $3
		WHERE doc_type = $1 AND model = $2`,
		docType, model, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "feedback: reset counters for %s/%s", docType, model)
	}
	return nil
}
