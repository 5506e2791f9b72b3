package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notaria-labs/registro-cli/internal/schema"
)

// actaFields returns a complete, self-consistent field map for the built-in
// 19-field acta schema.
func actaFields() map[string]string {
	return map[string]string{
		"numero_registro":     "76869",
		"folio_mercantil":     "N-2019088123",
		"denominacion_social": "Comercializadora Andina, S.A. de C.V.",
		"fecha_constitucion":  "12 de marzo de 2019",
		"rfc":                 "CAN190312AB4",
		"objeto":              "La compra, venta y distribución de productos alimenticios",
		"domicilio":           "Av. Insurgentes Sur 1425, Col. Insurgentes Mixcoac",
		"entidad_federativa":  "Ciudad de México",
		"municipio":           "Benito Juárez",
		"capital_social":      "50000",
		"regimen_capital":     "Capital variable",
		"duracion":            "99 años",
		"notario_nombre":      "Lic. Eduardo García Villegas",
		"notaria_numero":      "19",
		"representante_legal": "María Fernanda Ruiz Castillo",
		"administrador_unico": "José Luis Andrade Pimentel",
		"comisario":           "Carlos Humberto Vega Solís",
		"socios":              "María Fernanda Ruiz Castillo; José Luis Andrade Pimentel",
		"fecha_registro":      "28 de marzo de 2019",
	}
}

func twoSets(a, b map[string]string) []RawFieldSet {
	return []RawFieldSet{
		{Extractor: "gemini", Fields: a},
		{Extractor: "claude", Fields: b},
	}
}

func TestReconcileIdenticalSets(t *testing.T) {
	sch := schema.ActaConstitutiva()
	res, err := Reconcile(twoSets(actaFields(), actaFields()), sch)
	require.NoError(t, err)

	assert.Equal(t, TierFull, res.Tier)
	assert.Empty(t, res.Discrepancies)
	for _, f := range res.Fields {
		assert.True(t, f.Match, f.Name)
		assert.Equal(t, 1.0, f.Confidence, f.Name)
	}
}

func TestReconcileNeedsTwoSets(t *testing.T) {
	_, err := Reconcile([]RawFieldSet{{Extractor: "solo", Fields: actaFields()}}, schema.ActaConstitutiva())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2")
}

func TestReconcileNonCriticalDisagreement(t *testing.T) {
	sch := schema.ActaConstitutiva()
	b := actaFields()
	b["objeto"] = "Prestación de servicios de consultoría en tecnologías de la información"

	res, err := Reconcile(twoSets(actaFields(), b), sch)
	require.NoError(t, err)

	// 18/19 matched with all criticals agreeing.
	assert.Equal(t, TierPartial, res.Tier)
	assert.Equal(t, []string{"objeto"}, res.Discrepancies)

	f := res.Field("objeto")
	require.NotNil(t, f)
	assert.False(t, f.Match)
	assert.True(t, f.NeedsReview)
	// Primary extractor's value is stored; both raws stay for audit.
	require.NotNil(t, f.FinalValue)
	assert.Contains(t, *f.FinalValue, "productos alimenticios")
	assert.Len(t, f.Candidates, 2)
}

func TestReconcileCriticalDisagreementForcesReview(t *testing.T) {
	sch := schema.ActaConstitutiva()
	b := actaFields()
	b["numero_registro"] = "81204"

	res, err := Reconcile(twoSets(actaFields(), b), sch)
	require.NoError(t, err)

	// 18/19 would qualify for partial, but a critical field disagrees.
	assert.Equal(t, TierReviewRequired, res.Tier)
	assert.Contains(t, res.Discrepancies, "numero_registro")
}

func TestReconcileFuzzyMatchTieBreak(t *testing.T) {
	sch := schema.ActaConstitutiva()
	a := actaFields()
	b := actaFields()
	// Same name modulo punctuation the normalizer keeps; similarity > 0.95.
	a["denominacion_social"] = "Comercializadora Andina, S.A. de C.V."
	b["denominacion_social"] = "Comercializadora Andina, SA. de C.V."

	resAB, err := Reconcile(twoSets(a, b), sch)
	require.NoError(t, err)
	fAB := resAB.Field("denominacion_social")
	require.NotNil(t, fAB)
	assert.True(t, fAB.Match)
	assert.Equal(t, a["denominacion_social"], *fAB.FinalValue)

	// Swapped order: final value flips to the new primary, match and
	// confidence stay identical.
	resBA, err := Reconcile(twoSets(b, a), sch)
	require.NoError(t, err)
	fBA := resBA.Field("denominacion_social")
	require.NotNil(t, fBA)
	assert.Equal(t, b["denominacion_social"], *fBA.FinalValue)
	assert.Equal(t, fAB.Match, fBA.Match)
	assert.Equal(t, fAB.Confidence, fBA.Confidence)
}

func TestReconcileBothAbsentAgree(t *testing.T) {
	sch := schema.ActaConstitutiva()
	a := actaFields()
	b := actaFields()
	a["comisario"] = "N/A"
	b["comisario"] = ""

	res, err := Reconcile(twoSets(a, b), sch)
	require.NoError(t, err)

	f := res.Field("comisario")
	require.NotNil(t, f)
	assert.True(t, f.Match)
	assert.Nil(t, f.FinalValue)
	assert.Equal(t, TierFull, res.Tier)
}

func TestReconcileAbsentVsPresentDisagree(t *testing.T) {
	sch := schema.ActaConstitutiva()
	b := actaFields()
	b["duracion"] = "ilegible"

	res, err := Reconcile(twoSets(actaFields(), b), sch)
	require.NoError(t, err)

	f := res.Field("duracion")
	require.NotNil(t, f)
	assert.False(t, f.Match)
	assert.Equal(t, 0.0, f.Confidence)
}

func TestReconcileOpenSchemaUnionKeys(t *testing.T) {
	sch := schema.OpenSchema("unknown")
	a := map[string]string{"titulo": "Contrato de arrendamiento", "arrendador": "Inmobiliaria Sur"}
	b := map[string]string{"titulo": "Contrato de arrendamiento", "vigencia": "12 meses"}

	res, err := Reconcile(twoSets(a, b), sch)
	require.NoError(t, err)

	// Union of keys, sorted: arrendador, titulo, vigencia. Two of three are
	// one-sided, so only 1/3 match — review_required under the 95/80 floors.
	require.Len(t, res.Fields, 3)
	assert.Equal(t, "arrendador", res.Fields[0].Name)
	assert.Equal(t, TierReviewRequired, res.Tier)
	assert.ElementsMatch(t, []string{"arrendador", "vigencia"}, res.Discrepancies)
}

func TestReconcileOpenSchemaFullAgreement(t *testing.T) {
	sch := schema.OpenSchema("unknown")
	a := map[string]string{"titulo": "Pagaré", "monto": "120000"}

	res, err := Reconcile(twoSets(a, a), sch)
	require.NoError(t, err)
	assert.Equal(t, TierFull, res.Tier)
}

func TestFieldsEqual(t *testing.T) {
	eq, sim := FieldsEqual("JUAN PÉREZ", "juan perez")
	assert.True(t, eq)
	assert.Equal(t, 1.0, sim)

	eq, _ = FieldsEqual("compra venta de inmuebles", "arrendamiento de equipo industrial")
	assert.False(t, eq)
}
