// Package verify cross-checks reconciled field values against the OCR text
// layout. It classifies trust per field and can veto the consensus tier; it
// never invents or corrects a value.
package verify

import (
	"strings"

	"github.com/notaria-labs/registro-cli/internal/consensus"
	"github.com/notaria-labs/registro-cli/internal/layout"
	"github.com/notaria-labs/registro-cli/internal/schema"
	"github.com/notaria-labs/registro-cli/internal/textmatch"
)

// Status is the per-field trust classification.
type Status string

const (
	StatusVerified   Status = "VERIFIED"
	StatusFuzzyMatch Status = "FUZZY_MATCH"
	StatusSuspicious Status = "SUSPICIOUS"
	StatusNotFound   Status = "NOT_FOUND"
)

const (
	// suspicionFloor bounds the near-miss window for numeric targets: a
	// similarity in (suspicionFloor, 1.0) is a likely real digit error.
	suspicionFloor = 0.85
	// fuzzyFloor is the minimum similarity for a textual fuzzy match.
	fuzzyFloor = 0.85
	// confusionConfidence is assigned when a numeric target is found only
	// after folding the OCR confusion table.
	confusionConfidence = 0.95
	// zonePenalty scales confidence down when a verified value sits outside
	// its expected page zone.
	zonePenalty = 0.7
)

// Check is one (field, value) pair to locate in the layout.
type Check struct {
	Field        string
	Value        string
	Kind         schema.Kind
	ExpectedZone schema.Zone
	Critical     bool
}

// Span is the located text, when a match was found.
type Span struct {
	Page int    `json:"page"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Result is the trust classification for one field.
type Result struct {
	Field      string      `json:"field"`
	Value      string      `json:"value"`
	Kind       schema.Kind `json:"kind"`
	Critical   bool        `json:"critical"`
	Status     Status      `json:"status"`
	Confidence float64     `json:"confidence"`
	Span       *Span       `json:"span,omitempty"`
	Zone       schema.Zone `json:"zone"`
}

// Verify classifies every check against the layout. Pure: per-field results
// depend only on the check and the lines.
func Verify(lay *layout.Layout, checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		var r Result
		if c.Kind == schema.KindNumeric {
			r = verifyNumeric(lay, c)
		} else {
			r = verifyText(lay, c)
		}
		applyZone(&r, c.ExpectedZone)
		results = append(results, r)
	}
	return results
}

// verifyNumeric locates a digit target: exact digit substring, then the OCR
// confusion fold, then near-miss detection. A near miss is SUSPICIOUS, never
// a fuzzy pass — one wrong digit in a registry number is a real error.
func verifyNumeric(lay *layout.Layout, c Check) Result {
	r := Result{Field: c.Field, Value: c.Value, Kind: c.Kind, Critical: c.Critical, Zone: schema.ZoneUnknown}

	target := textmatch.DigitsOnly(c.Value)
	if target == "" {
		r.Status = StatusNotFound
		return r
	}

	// Pass 1: exact digit substring.
	for i, line := range lay.Lines {
		if strings.Contains(textmatch.DigitsOnly(line.Text), target) {
			return found(r, StatusVerified, 1.0, lay, i)
		}
	}

	// Pass 2: retry with commonly-confused letters folded to digits.
	for i, line := range lay.Lines {
		if strings.Contains(textmatch.DigitsOnly(textmatch.FoldOCRDigits(line.Text)), target) {
			return found(r, StatusVerified, confusionConfidence, lay, i)
		}
	}

	// Pass 3: best similarity against digit-only line content.
	var digitLines []string
	for _, line := range lay.Lines {
		digitLines = append(digitLines, textmatch.DigitsOnly(line.Text))
	}
	sim, idx := textmatch.BestLineSimilarity(target, digitLines)
	if sim > suspicionFloor && sim < 1.0 {
		return found(r, StatusSuspicious, sim, lay, idx)
	}

	r.Status = StatusNotFound
	return r
}

// verifyText locates a normalized text target: exact substring, then best
// line similarity.
func verifyText(lay *layout.Layout, c Check) Result {
	r := Result{Field: c.Field, Value: c.Value, Kind: c.Kind, Critical: c.Critical, Zone: schema.ZoneUnknown}

	target := textmatch.Normalize(c.Value)
	if target == "" {
		r.Status = StatusNotFound
		return r
	}

	normLines := make([]string, len(lay.Lines))
	for i, line := range lay.Lines {
		normLines[i] = textmatch.Normalize(line.Text)
	}

	for i, line := range normLines {
		if strings.Contains(line, target) {
			return found(r, StatusVerified, 1.0, lay, i)
		}
	}

	sim, idx := textmatch.BestLineSimilarity(target, normLines)
	switch {
	case sim == 1.0:
		return found(r, StatusVerified, 1.0, lay, idx)
	case sim > fuzzyFloor:
		return found(r, StatusFuzzyMatch, sim, lay, idx)
	default:
		r.Status = StatusNotFound
		return r
	}
}

// found fills in the span and zone for a located line.
func found(r Result, status Status, conf float64, lay *layout.Layout, idx int) Result {
	r.Status = status
	r.Confidence = conf
	if idx >= 0 && idx < len(lay.Lines) {
		line := lay.Lines[idx]
		r.Span = &Span{Page: line.Page, Line: idx, Text: line.Text}
		r.Zone = line.BBox.Zone()
	}
	return r
}

// applyZone downgrades matches found outside the field's expected zone.
func applyZone(r *Result, expected schema.Zone) {
	if expected == "" || expected == schema.ZoneUnknown {
		return
	}
	if r.Zone == expected || r.Zone == schema.ZoneUnknown {
		return
	}
	switch r.Status {
	case StatusVerified:
		r.Status = StatusFuzzyMatch
		r.Confidence *= zonePenalty
	case StatusSuspicious:
		r.Status = StatusNotFound
		r.Confidence = 0
		r.Span = nil
	}
}

// ChecksFromConsensus builds the verification checks for every reconciled
// field that resolved to a value. Open-schema fields verify as TEXT.
func ChecksFromConsensus(cr *consensus.Result, sch schema.Schema) []Check {
	var checks []Check
	for _, f := range cr.Fields {
		if f.FinalValue == nil {
			continue
		}
		c := Check{Field: f.Name, Value: *f.FinalValue, Kind: schema.KindText}
		if def, ok := sch.Lookup(f.Name); ok {
			c.Kind = def.Kind
			c.ExpectedZone = def.ExpectedZone
			c.Critical = def.Critical
		}
		checks = append(checks, c)
	}
	return checks
}

// ApplyVeto enforces the verifier's one override: a SUSPICIOUS classification
// on a critical numeric field forces the tier to review_required and records
// the field as a discrepancy, regardless of what consensus computed.
func ApplyVeto(cr *consensus.Result, results []Result) {
	for _, r := range results {
		if r.Status != StatusSuspicious || !r.Critical || r.Kind != schema.KindNumeric {
			continue
		}
		cr.Tier = consensus.TierReviewRequired
		if !contains(cr.Discrepancies, r.Field) {
			cr.Discrepancies = append(cr.Discrepancies, r.Field)
		}
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
