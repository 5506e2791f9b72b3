// Package consensus reconciles the raw field sets produced by independent
// extractors into a single result with a confidence tier. Reconcile is a pure
// function: same inputs, same output, no side effects.
package consensus

import "strings"

// Tier is the overall confidence classification of a consensus result.
type Tier string

const (
	TierFull           Tier = "full"
	TierPartial        Tier = "partial"
	TierReviewRequired Tier = "review_required"
)

// RawFieldSet is one extractor's raw output for one document. Values may be
// empty or carry a not-applicable/illegible sentinel. Ephemeral: it survives
// only inside the audit row.
type RawFieldSet struct {
	Extractor string            `json:"extractor"`
	Fields    map[string]string `json:"fields"`
}

// absentSentinels are values an extractor returns when it cannot produce a
// field. Compared after trimming, case-insensitively.
var absentSentinels = map[string]bool{
	"":          true,
	"n/a":       true,
	"no aplica": true,
	"ilegible":  true,
	"null":      true,
}

// IsAbsent reports whether a raw value is an empty/not-applicable/illegible
// sentinel rather than real content.
func IsAbsent(v string) bool {
	return absentSentinels[strings.ToLower(strings.TrimSpace(v))]
}

// Candidate is one extractor's raw value for a field, retained for audit.
type Candidate struct {
	Extractor string `json:"extractor"`
	Raw       string `json:"raw"`
}

// Field is the reconciled state of a single field.
type Field struct {
	Name        string      `json:"name"`
	Candidates  []Candidate `json:"candidates"`
	FinalValue  *string     `json:"final_value"`
	Match       bool        `json:"match"`
	Confidence  float64     `json:"confidence"`
	NeedsReview bool        `json:"needs_review,omitempty"`
}

// Result is the reconciled output for one document.
type Result struct {
	DocType       string   `json:"doc_type"`
	Fields        []Field  `json:"fields"`
	Tier          Tier     `json:"tier"`
	Discrepancies []string `json:"discrepancies"`
}

// Field returns the reconciled field by name, or nil.
func (r *Result) Field(name string) *Field {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i]
		}
	}
	return nil
}
