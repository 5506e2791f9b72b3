package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notaria-labs/registro-cli/internal/consensus"
	"github.com/notaria-labs/registro-cli/internal/layout"
	"github.com/notaria-labs/registro-cli/internal/schema"
)

func layoutOf(lines ...layout.Line) *layout.Layout {
	return &layout.Layout{DocumentID: "doc-1", Lines: lines}
}

func topRight(text string) layout.Line {
	return layout.Line{Page: 1, Text: text, BBox: layout.BBox{X0: 0.6, Y0: 0.05, X1: 0.95, Y1: 0.1}}
}

func topLeft(text string) layout.Line {
	return layout.Line{Page: 1, Text: text, BBox: layout.BBox{X0: 0.05, Y0: 0.05, X1: 0.4, Y1: 0.1}}
}

func bottom(text string) layout.Line {
	return layout.Line{Page: 1, Text: text, BBox: layout.BBox{X0: 0.1, Y0: 0.85, X1: 0.9, Y1: 0.9}}
}

func TestNumericExactSubstring(t *testing.T) {
	lay := layoutOf(topRight("Registro No. 76869 Libro 4"))
	res := Verify(lay, []Check{{Field: "numero_registro", Value: "76869", Kind: schema.KindNumeric}})

	require.Len(t, res, 1)
	assert.Equal(t, StatusVerified, res[0].Status)
	assert.Equal(t, 1.0, res[0].Confidence)
	require.NotNil(t, res[0].Span)
	assert.Equal(t, schema.ZoneTopRight, res[0].Zone)
}

func TestNumericNearMissIsSuspicious(t *testing.T) {
	lay := layoutOf(topRight("76868"))
	res := Verify(lay, []Check{{Field: "numero_registro", Value: "76869", Kind: schema.KindNumeric}})

	require.Len(t, res, 1)
	assert.Equal(t, StatusSuspicious, res[0].Status)
	assert.Greater(t, res[0].Confidence, 0.85)
	assert.Less(t, res[0].Confidence, 1.0)
}

func TestNumericConfusionTable(t *testing.T) {
	lay := layoutOf(topLeft("Folio S0l23 del registro"))
	res := Verify(lay, []Check{{Field: "folio", Value: "50123", Kind: schema.KindNumeric}})

	require.Len(t, res, 1)
	assert.Equal(t, StatusVerified, res[0].Status)
	assert.GreaterOrEqual(t, res[0].Confidence, 0.95)
}

func TestNumericNotFound(t *testing.T) {
	lay := layoutOf(topLeft("sin numeros relevantes 11"))
	res := Verify(lay, []Check{{Field: "numero_registro", Value: "76869", Kind: schema.KindNumeric}})

	require.Len(t, res, 1)
	assert.Equal(t, StatusNotFound, res[0].Status)
}

func TestTextCaseWhitespaceNormalization(t *testing.T) {
	lay := layoutOf(topLeft("Compareció el señor Juan   Perez ante mí"))
	res := Verify(lay, []Check{{Field: "representante_legal", Value: "JUAN PEREZ", Kind: schema.KindText}})

	require.Len(t, res, 1)
	assert.Equal(t, StatusVerified, res[0].Status)
	assert.Equal(t, 1.0, res[0].Confidence)
}

func TestTextFuzzyMatch(t *testing.T) {
	lay := layoutOf(topLeft("comercializadora andina sa de xv"))
	res := Verify(lay, []Check{{Field: "denominacion_social", Value: "Comercializadora Andina SA de CV", Kind: schema.KindText}})

	require.Len(t, res, 1)
	assert.Equal(t, StatusFuzzyMatch, res[0].Status)
	assert.Greater(t, res[0].Confidence, 0.85)
}

func TestTextNotFound(t *testing.T) {
	lay := layoutOf(topLeft("texto completamente distinto"))
	res := Verify(lay, []Check{{Field: "objeto", Value: "compra venta de maquinaria pesada", Kind: schema.KindText}})

	require.Len(t, res, 1)
	assert.Equal(t, StatusNotFound, res[0].Status)
}

func TestZoneMismatchDowngradesVerified(t *testing.T) {
	// Value found at the bottom of the page but declared top-right.
	lay := layoutOf(bottom("Registro 76869"))
	res := Verify(lay, []Check{{
		Field: "numero_registro", Value: "76869",
		Kind: schema.KindNumeric, ExpectedZone: schema.ZoneTopRight,
	}})

	require.Len(t, res, 1)
	assert.Equal(t, StatusFuzzyMatch, res[0].Status)
	assert.InDelta(t, 0.7, res[0].Confidence, 1e-9)
}

func TestZoneMismatchDowngradesSuspicious(t *testing.T) {
	lay := layoutOf(bottom("76868"))
	res := Verify(lay, []Check{{
		Field: "numero_registro", Value: "76869",
		Kind: schema.KindNumeric, ExpectedZone: schema.ZoneTopRight,
	}})

	require.Len(t, res, 1)
	assert.Equal(t, StatusNotFound, res[0].Status)
	assert.Equal(t, 0.0, res[0].Confidence)
}

func TestZoneMatchKeepsStatus(t *testing.T) {
	lay := layoutOf(topRight("Registro 76869"))
	res := Verify(lay, []Check{{
		Field: "numero_registro", Value: "76869",
		Kind: schema.KindNumeric, ExpectedZone: schema.ZoneTopRight,
	}})

	require.Len(t, res, 1)
	assert.Equal(t, StatusVerified, res[0].Status)
	assert.Equal(t, 1.0, res[0].Confidence)
}

func TestApplyVetoCriticalNumeric(t *testing.T) {
	cr := &consensus.Result{Tier: consensus.TierFull, Discrepancies: []string{}}
	results := []Result{{
		Field: "numero_registro", Kind: schema.KindNumeric, Critical: true,
		Status: StatusSuspicious, Confidence: 0.9,
	}}

	ApplyVeto(cr, results)
	assert.Equal(t, consensus.TierReviewRequired, cr.Tier)
	assert.Equal(t, []string{"numero_registro"}, cr.Discrepancies)

	// Idempotent: a second application does not duplicate the discrepancy.
	ApplyVeto(cr, results)
	assert.Equal(t, []string{"numero_registro"}, cr.Discrepancies)
}

func TestApplyVetoIgnoresNonCritical(t *testing.T) {
	cr := &consensus.Result{Tier: consensus.TierFull, Discrepancies: []string{}}
	results := []Result{
		{Field: "capital_social", Kind: schema.KindNumeric, Status: StatusSuspicious},
		{Field: "denominacion_social", Kind: schema.KindText, Critical: true, Status: StatusSuspicious},
	}

	ApplyVeto(cr, results)
	assert.Equal(t, consensus.TierFull, cr.Tier)
	assert.Empty(t, cr.Discrepancies)
}

func TestChecksFromConsensus(t *testing.T) {
	sch := schema.ActaConstitutiva()
	v1 := "76869"
	cr := &consensus.Result{Fields: []consensus.Field{
		{Name: "numero_registro", FinalValue: &v1, Match: true},
		{Name: "comisario", FinalValue: nil, Match: true},
	}}

	checks := ChecksFromConsensus(cr, sch)
	require.Len(t, checks, 1)
	assert.Equal(t, schema.KindNumeric, checks[0].Kind)
	assert.True(t, checks[0].Critical)
	assert.Equal(t, schema.ZoneTopRight, checks[0].ExpectedZone)
}
