// Package goldenset holds the benchmark of human-verified extractions and the
// regression gate that decides whether an evolved prompt pair may go live.
package goldenset

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/notaria-labs/registro-cli/internal/db"
)

// Truth is one benchmark document: its content reference plus the
// human-verified value for every field. Truths are write-once; correcting one
// means promoting the document again under a new id.
type Truth struct {
	DocType    string            `json:"doc_type"`
	DocumentID string            `json:"document_id"`
	ContentRef string            `json:"content_ref"`
	Fields     map[string]string `json:"fields"`
	PromotedBy string            `json:"promoted_by"`
	PromotedAt time.Time         `json:"promoted_at"`
}

// TruthStore defines persistence for golden-set truths.
type TruthStore interface {
	Promote(ctx context.Context, t Truth) error
	List(ctx context.Context, docType string) ([]Truth, error)
}

// PostgresTruthStore implements TruthStore using pgx.
type PostgresTruthStore struct {
	pool db.Pool
}

// NewPostgresTruthStore creates a new PostgresTruthStore.
func NewPostgresTruthStore(pool db.Pool) *PostgresTruthStore {
	return &PostgresTruthStore{pool: pool}
}

// Promote inserts a truth. A document already in the set is never overwritten.
func (s *PostgresTruthStore) Promote(ctx context.Context, t Truth) error {
	if len(t.Fields) == 0 {
		return eris.New("goldenset: truth has no fields")
	}
	fieldsJSON, err := json.Marshal(t.Fields)
	if err != nil {
		return eris.Wrap(err, "goldenset: marshal truth fields")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO golden_set_truths (doc_type, document_id, content_ref, fields, promoted_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doc_type, document_id) DO NOTHING`,
		t.DocType, t.DocumentID, t.ContentRef, fieldsJSON, t.PromotedBy,
	)
	if err != nil {
		return eris.Wrapf(err, "goldenset: promote %s", t.DocumentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("goldenset: document %s already promoted", t.DocumentID)
	}
	return nil
}

// List returns all truths for a document type.
func (s *PostgresTruthStore) List(ctx context.Context, docType string) ([]Truth, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc_type, document_id, content_ref, fields, promoted_by, promoted_at
		FROM golden_set_truths WHERE doc_type = $1 ORDER BY promoted_at`,
		docType)
	if err != nil {
		return nil, eris.Wrapf(err, "goldenset: list truths for %s", docType)
	}
	defer rows.Close()

	var out []Truth
	for rows.Next() {
		t, err := scanTruth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTruth(row pgx.Row) (*Truth, error) {
	var t Truth
	var fieldsJSON []byte
	if err := row.Scan(&t.DocType, &t.DocumentID, &t.ContentRef, &fieldsJSON,
		&t.PromotedBy, &t.PromotedAt); err != nil {
		return nil, eris.Wrap(err, "goldenset: scan truth")
	}
	if err := json.Unmarshal(fieldsJSON, &t.Fields); err != nil {
		return nil, eris.Wrap(err, "goldenset: unmarshal truth fields")
	}
	return &t, nil
}
