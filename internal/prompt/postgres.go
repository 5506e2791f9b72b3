package prompt

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/notaria-labs/registro-cli/internal/db"
)

// Store defines persistence operations for prompt versions.
type Store interface {
	Create(ctx context.Context, nv NewVersion) (*Version, error)
	Get(ctx context.Context, id string) (*Version, error)
	GetActive(ctx context.Context, docType, model string) (*Pair, error)
	Activate(ctx context.Context, systemID, userID string) error
	MarkRejected(ctx context.Context, id, reason string) error
	SetAccuracies(ctx context.Context, id string, backtest, golden *float64, regressions int) error
	List(ctx context.Context, docType, model string) ([]Version, error)
	Lineage(ctx context.Context, id string) ([]Version, error)
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const versionColumns = `id, doc_type, model, role, version_number, content,
	parent_version_id, status, backtest_accuracy, golden_set_accuracy,
	regression_count, trigger_histogram, change_summary, rejection_reason,
	created_at, created_by`

// Create inserts a new candidate version. The version number continues the
// parent's lineage, or starts at 1 for a root.
func (s *PostgresStore) Create(ctx context.Context, nv NewVersion) (*Version, error) {
	if nv.Role != RoleSystem && nv.Role != RoleUser {
		return nil, eris.Errorf("prompt: invalid role %q", nv.Role)
	}

	versionNumber := 1
	if nv.ParentID != nil {
		var parentNumber int
		var parentDocType, parentModel string
		var parentRole Role
		err := s.pool.QueryRow(ctx,
			`SELECT version_number, doc_type, model, role FROM prompt_versions WHERE id = $1`,
			*nv.ParentID,
		).Scan(&parentNumber, &parentDocType, &parentModel, &parentRole)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil, eris.Errorf("prompt: parent version %s not found", *nv.ParentID)
			}
			return nil, eris.Wrapf(err, "prompt: load parent %s", *nv.ParentID)
		}
		if parentDocType != nv.DocType || parentModel != nv.Model || parentRole != nv.Role {
			return nil, eris.Errorf("prompt: parent %s belongs to a different lineage", *nv.ParentID)
		}
		versionNumber = parentNumber + 1
	}

	var histJSON []byte
	if nv.TriggerHistogram != nil {
		var err error
		histJSON, err = json.Marshal(nv.TriggerHistogram)
		if err != nil {
			return nil, eris.Wrap(err, "prompt: marshal trigger histogram")
		}
	}

	id := uuid.NewString()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO prompt_versions
			(id, doc_type, model, role, version_number, content, parent_version_id,
			 status, trigger_histogram, change_summary, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'candidate', $8, $9, $10)
		RETURNING `+versionColumns,
		id, nv.DocType, nv.Model, nv.Role, versionNumber, nv.Content,
		nv.ParentID, histJSON, nv.ChangeSummary, nv.CreatedBy,
	)

	v, err := scanVersion(row)
	if err != nil {
		return nil, eris.Wrap(err, "prompt: create version")
	}
	return v, nil
}

// Get loads one version by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Version, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE id = $1`, id)
	v, err := scanVersion(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, eris.Errorf("prompt: version %s not found", id)
		}
		return nil, eris.Wrapf(err, "prompt: get version %s", id)
	}
	return v, nil
}

// GetActive returns the active system+user pair, or nil when no version has
// been activated yet (caller falls back to Defaults).
func (s *PostgresStore) GetActive(ctx context.Context, docType, model string) (*Pair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions
		WHERE doc_type = $1 AND model = $2 AND status = 'active'`,
		docType, model)
	if err != nil {
		return nil, eris.Wrapf(err, "prompt: get active for %s/%s", docType, model)
	}
	defer rows.Close()

	pair := &Pair{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "prompt: scan active version")
		}
		switch v.Role {
		case RoleSystem:
			pair.System = v
		case RoleUser:
			pair.User = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "prompt: iterate active versions")
	}

	if pair.System == nil && pair.User == nil {
		return nil, nil
	}
	// One role active without the other would mean a torn activation.
	if pair.System == nil || pair.User == nil {
		return nil, eris.Errorf("prompt: partial active pair for %s/%s", docType, model)
	}
	return pair, nil
}

// Activate swaps the active pair in a single transaction: every other version
// for the (doc_type, model) moves to deprecated, the two given versions to
// active. The per-pair advisory lock serializes concurrent activations.
func (s *PostgresStore) Activate(ctx context.Context, systemID, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "prompt: begin activation")
	}
	defer tx.Rollback(ctx)

	var docType, model string
	var sysRole Role
	err = tx.QueryRow(ctx,
		`SELECT doc_type, model, role FROM prompt_versions WHERE id = $1 FOR UPDATE`,
		systemID,
	).Scan(&docType, &model, &sysRole)
	if err != nil {
		return eris.Wrapf(err, "prompt: load system version %s", systemID)
	}
	if sysRole != RoleSystem {
		return eris.Errorf("prompt: version %s has role %q, want system", systemID, sysRole)
	}

	var userDocType, userModel string
	var userRole Role
	err = tx.QueryRow(ctx,
		`SELECT doc_type, model, role FROM prompt_versions WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&userDocType, &userModel, &userRole)
	if err != nil {
		return eris.Wrapf(err, "prompt: load user version %s", userID)
	}
	if userRole != RoleUser {
		return eris.Errorf("prompt: version %s has role %q, want user", userID, userRole)
	}
	if userDocType != docType || userModel != model {
		return eris.Errorf("prompt: versions %s and %s belong to different (doc_type, model) pairs", systemID, userID)
	}

	if err := db.AcquirePairLock(ctx, tx, docType, model); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE prompt_versions SET status = 'deprecated'
		WHERE doc_type = $1 AND model = $2 AND status = 'active'`,
		docType, model,
	); err != nil {
		return eris.Wrapf(err, "prompt: deprecate active pair for %s/%s", docType, model)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE prompt_versions SET status = 'active' WHERE id IN ($1, $2)`,
		systemID, userID,
	); err != nil {
		return eris.Wrap(err, "prompt: activate pair")
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "prompt: commit activation")
	}
	return nil
}

// MarkRejected transitions a candidate to rejected with the failure reason
// persisted on the record.
func (s *PostgresStore) MarkRejected(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prompt_versions SET status = 'rejected', rejection_reason = $2
		WHERE id = $1 AND status = 'candidate'`,
		id, reason,
	)
	if err != nil {
		return eris.Wrapf(err, "prompt: reject version %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("prompt: version %s is not a candidate", id)
	}
	return nil
}

// SetAccuracies records gate measurements on a version.
func (s *PostgresStore) SetAccuracies(ctx context.Context, id string, backtest, golden *float64, regressions int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE prompt_versions SET backtest_accuracy = $2, golden_set_accuracy = $3, regression_count = $4
		WHERE id = $1`,
		id, backtest, golden, regressions,
	)
	if err != nil {
		return eris.Wrapf(err, "prompt: set accuracies for %s", id)
	}
	return nil
}

// List returns all versions for a (doc_type, model), newest first.
func (s *PostgresStore) List(ctx context.Context, docType, model string) ([]Version, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions
		WHERE doc_type = $1 AND model = $2
		ORDER BY role, version_number DESC`,
		docType, model)
	if err != nil {
		return nil, eris.Wrapf(err, "prompt: list versions for %s/%s", docType, model)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "prompt: scan version")
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// Lineage walks parent pointers from a version back to its root.
func (s *PostgresStore) Lineage(ctx context.Context, id string) ([]Version, error) {
	var chain []Version
	next := &id
	for next != nil {
		v, err := s.Get(ctx, *next)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *v)
		next = v.ParentVersionID
		// Generation numbers are monotonic along the chain, so a cycle would
		// mean corrupted data; the length guard keeps the walk finite anyway.
		if len(chain) > 10000 {
			return nil, eris.Errorf("prompt: lineage of %s exceeds sane depth", id)
		}
	}
	return chain, nil
}

// scanVersion reads one version row.
func scanVersion(row pgx.Row) (*Version, error) {
	var v Version
	var histJSON []byte
	err := row.Scan(
		&v.ID, &v.DocType, &v.Model, &v.Role, &v.VersionNumber, &v.Content,
		&v.ParentVersionID, &v.Status, &v.BacktestAccuracy, &v.GoldenSetAccuracy,
		&v.RegressionCount, &histJSON, &v.ChangeSummary, &v.RejectionReason,
		&v.CreatedAt, &v.CreatedBy,
	)
	if err != nil {
		return nil, err
	}
	if len(histJSON) > 0 {
		if err := json.Unmarshal(histJSON, &v.TriggerHistogram); err != nil {
			return nil, eris.Wrap(err, "prompt: unmarshal trigger histogram")
		}
	}
	return &v, nil
}
