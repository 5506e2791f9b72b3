package goldenset

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoteTruth(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO golden_set_truths").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := NewPostgresTruthStore(mock)
	err = s.Promote(context.Background(), Truth{
		DocType: "acta_constitutiva", DocumentID: "doc-1", ContentRef: "ref-1",
		Fields: map[string]string{"objeto": "compraventa"}, PromotedBy: "revisor",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteTruthIsWriteOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO golden_set_truths").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	s := NewPostgresTruthStore(mock)
	err = s.Promote(context.Background(), Truth{
		DocType: "acta_constitutiva", DocumentID: "doc-1",
		Fields: map[string]string{"objeto": "compraventa"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already promoted")
}

func TestPromoteTruthRejectsEmptyFields(t *testing.T) {
	s := NewPostgresTruthStore(nil)
	err := s.Promote(context.Background(), Truth{DocumentID: "doc-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fields")
}

func TestListTruths(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"doc_type", "document_id", "content_ref", "fields", "promoted_by", "promoted_at"}).
		AddRow("acta_constitutiva", "doc-1", "ref-1", []byte(`{"objeto":"compraventa"}`), "revisor", time.Now())
	mock.ExpectQuery("FROM golden_set_truths").
		WithArgs("acta_constitutiva").
		WillReturnRows(rows)

	s := NewPostgresTruthStore(mock)
	truths, err := s.List(context.Background(), "acta_constitutiva")
	require.NoError(t, err)
	require.Len(t, truths, 1)
	assert.Equal(t, "compraventa", truths[0].Fields["objeto"])
}
