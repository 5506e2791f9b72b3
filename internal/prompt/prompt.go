// Package prompt stores extraction prompt versions: an append-only, lineage-
// linked record per (document type, model, role) with exactly one active
// version per triple. Versions are never deleted, only status-transitioned,
// so the full audit and rollback trail survives every evolution.
package prompt

import "time"

// Role distinguishes the two halves of a prompt pair.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Status is the lifecycle state of a version. A version is born candidate and
// ends active, rejected, or deprecated; ids are never reused.
type Status string

const (
	StatusCandidate  Status = "candidate"
	StatusActive     Status = "active"
	StatusRejected   Status = "rejected"
	StatusDeprecated Status = "deprecated"
)

// Version is one stored prompt revision.
type Version struct {
	ID                string         `json:"id"`
	DocType           string         `json:"doc_type"`
	Model             string         `json:"model"`
	Role              Role           `json:"role"`
	VersionNumber     int            `json:"version_number"`
	Content           string         `json:"content"`
	ParentVersionID   *string        `json:"parent_version_id"`
	Status            Status         `json:"status"`
	BacktestAccuracy  *float64       `json:"backtest_accuracy"`
	GoldenSetAccuracy *float64       `json:"golden_set_accuracy"`
	RegressionCount   int            `json:"regression_count"`
	TriggerHistogram  map[string]int `json:"trigger_histogram,omitempty"`
	ChangeSummary     string         `json:"change_summary,omitempty"`
	RejectionReason   *string        `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	CreatedBy         string         `json:"created_by"`
}

// Pair is the system+user prompt pair used for one (doc_type, model).
type Pair struct {
	System *Version
	User   *Version
}

// NewVersion carries the fields for Create.
type NewVersion struct {
	DocType          string
	Model            string
	Role             Role
	Content          string
	ParentID         *string
	CreatedBy        string
	TriggerHistogram map[string]int
	ChangeSummary    string
}

// DefaultPair is the hardcoded fallback used when no active version exists
// yet for a (doc_type, model).
type DefaultPair struct {
	System string
	User   string
}

// Defaults returns the built-in prompt pair for a document type. The
// diacritics rule is a hard downstream-validity requirement: registry filings
// are rejected when accented characters are dropped, so every prompt revision
// must carry it forward.
func Defaults(docType string) DefaultPair {
	return DefaultPair{
		System: `Eres un experto en documentos registrales y notariales mexicanos. Extraes campos estructurados de documentos escaneados.

Reglas:
- Responde únicamente con JSON válido: un objeto con un valor de texto por campo solicitado
- Usa "N/A" si el campo no aplica al documento, "ILEGIBLE" si no puede leerse
- Conserva SIEMPRE acentos, diéresis y la letra ñ exactamente como aparecen en el documento
- Transcribe los valores textualmente, sin reformatear fechas ni números
- No inventes información que no esté en el documento`,
		User: `Extrae los siguientes campos del documento tipo "` + docType + `". Devuelve un objeto JSON con exactamente una clave por campo.

Campos: {{fields}}

Documento:
{{document}}`,
	}
}
