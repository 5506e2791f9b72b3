package extraction

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/notaria-labs/registro-cli/internal/consensus"
	"github.com/notaria-labs/registro-cli/internal/db"
	"github.com/notaria-labs/registro-cli/internal/verify"
)

// AuditStore persists extraction runs: every raw extractor output, the
// consensus result, and the verification findings, keyed by run id.
type AuditStore interface {
	CreateRun(ctx context.Context, docID, docType string) (string, error)
	CompleteRun(ctx context.Context, runID string, out *Outcome) error
	FailRun(ctx context.Context, runID string, cause error) error
}

// PostgresAuditStore implements AuditStore using pgx.
type PostgresAuditStore struct {
	pool db.Pool
}

// NewPostgresAuditStore creates a new PostgresAuditStore.
func NewPostgresAuditStore(pool db.Pool) *PostgresAuditStore {
	return &PostgresAuditStore{pool: pool}
}

// auditRecord is the JSON payload stored with a completed run.
type auditRecord struct {
	RawSets      []consensus.RawFieldSet `json:"raw_sets"`
	Consensus    *consensus.Result       `json:"consensus"`
	Verification []verify.Result         `json:"verification,omitempty"`
}

// CreateRun opens a run record in running state and returns its id.
func (s *PostgresAuditStore) CreateRun(ctx context.Context, docID, docType string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO extraction_runs (id, document_id, doc_type, status)
		VALUES ($1, $2, $3, 'running')`,
		id, docID, docType,
	)
	if err != nil {
		return "", eris.Wrapf(err, "extraction: create run for %s", docID)
	}
	return id, nil
}

// CompleteRun closes a run with its full audit payload, tier, and cost.
func (s *PostgresAuditStore) CompleteRun(ctx context.Context, runID string, out *Outcome) error {
	payload, err := json.Marshal(auditRecord{
		RawSets:      out.RawSets,
		Consensus:    out.Consensus,
		Verification: out.Verification,
	})
	if err != nil {
		return eris.Wrap(err, "extraction: marshal audit record")
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE extraction_runs SET
			status = 'completed', tier = $2, cost_usd = $3, record = $4,
			completed_at = now()
		WHERE id = $1`,
		runID, out.Consensus.Tier, out.CostUSD, payload,
	)
	if err != nil {
		return eris.Wrapf(err, "extraction: complete run %s", runID)
	}
	return nil
}

// FailRun closes a run with the failure cause.
func (s *PostgresAuditStore) FailRun(ctx context.Context, runID string, cause error) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE extraction_runs SET status = 'failed', error = $2, completed_at = now()
		WHERE id = $1`,
		runID, cause.Error(),
	)
	if err != nil {
		return eris.Wrapf(err, "extraction: fail run %s", runID)
	}
	return nil
}
