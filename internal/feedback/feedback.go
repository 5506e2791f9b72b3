// Package feedback aggregates human review verdicts into per-(document type,
// model) counters and decides when enough error evidence exists to trigger
// prompt evolution.
package feedback

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/notaria-labs/registro-cli/internal/textmatch"
)

const (
	// MaxReasonLength bounds the free-text reason on incorrect feedback.
	MaxReasonLength = 500
	// VolumeThreshold is the feedback count that triggers evolution even
	// without an incorrect report since the last evolution.
	VolumeThreshold = 50
)

// Category is an error classification derived from the free-text reason.
type Category string

const (
	CategoryAccent     Category = "accent_error"
	CategoryNumeric    Category = "numeric_error"
	CategoryOCR        Category = "ocr_error"
	CategoryFormatting Category = "formatting_error"
	CategoryMissing    Category = "missing_field"
	CategoryExtra      Category = "extra_content"
	CategoryOther      Category = "other_error"
)

// categoryKeywords maps normalized keywords to categories. First hit wins,
// in declaration order.
var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategoryAccent, []string{"acento", "tilde", "diacritic", "accent", "dieresis", "enye"}},
	{CategoryNumeric, []string{"numero", "digito", "digit", "number", "cifra", "monto"}},
	{CategoryOCR, []string{"ocr", "escaneo", "scan", "ilegible", "borroso", "confundio"}},
	{CategoryFormatting, []string{"formato", "format", "fecha", "date", "espacio", "mayuscula"}},
	{CategoryMissing, []string{"falta", "faltante", "missing", "vacio", "omitio", "empty"}},
	{CategoryExtra, []string{"extra", "adicional", "sobra", "duplicado", "agrego"}},
}

// Classify keyword-maps a free-text reason to an error category.
func Classify(reason string) Category {
	norm := textmatch.Normalize(reason)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(norm, w) {
				return ck.category
			}
		}
	}
	return CategoryOther
}

// Feedback is one human verdict on one extracted field.
type Feedback struct {
	DocType        string
	Model          string
	DocumentID     string
	ContentRef     string
	Field          string
	Value          string
	IsCorrect      bool
	Reason         string
	CorrectedValue *string
}

// Validate enforces the reason contract: required and length-bounded when the
// verdict is incorrect.
func (f Feedback) Validate() error {
	if !f.IsCorrect {
		if strings.TrimSpace(f.Reason) == "" {
			return eris.New("feedback: incorrect verdict requires a reason")
		}
		if len(f.Reason) > MaxReasonLength {
			return eris.Errorf("feedback: reason exceeds %d characters", MaxReasonLength)
		}
	}
	return nil
}

// QueueEntry is the per-(doc_type, model) evolution trigger state.
type QueueEntry struct {
	DocType        string           `json:"doc_type"`
	Model          string           `json:"model"`
	FeedbackCount  int              `json:"feedback_count"`
	IncorrectCount int              `json:"incorrect_count"`
	Histogram      map[Category]int `json:"histogram"`
	LastEvolvedAt  *time.Time       `json:"last_evolved_at"`
}

// ShouldEvolve reports whether the aggregated evidence warrants an evolution
// attempt: any incorrect-with-reason report is acted on eagerly, otherwise
// only raw volume since the last evolution.
func (e *QueueEntry) ShouldEvolve() bool {
	return e.IncorrectCount > 0 || e.FeedbackCount >= VolumeThreshold
}

// IncorrectExample is one incorrect verdict handed to the evolver.
type IncorrectExample struct {
	Field      string `json:"field"`
	WrongValue string `json:"wrong_value"`
	Reason     string `json:"reason"`
	Category   Category
}

// BacktestSample is one scoreable field expectation from recent feedback: the
// human-verified value a prompt pair should reproduce.
type BacktestSample struct {
	DocumentID string
	ContentRef string
	Field      string
	Expected   string
}
