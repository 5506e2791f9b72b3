package consensus

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/notaria-labs/registro-cli/internal/schema"
	"github.com/notaria-labs/registro-cli/internal/textmatch"
)

// matchThreshold is the similarity floor above which two normalized values
// are treated as agreeing despite minor differences.
const matchThreshold = 0.95

// FieldsEqual is the single field comparator: normalized equality, or
// similarity above the match threshold. The golden-set gate scores candidate
// prompts with this same function so regression accuracy and consensus
// accuracy can never drift apart.
func FieldsEqual(a, b string) (bool, float64) {
	na, nb := textmatch.Normalize(a), textmatch.Normalize(b)
	if na == nb {
		return true, 1.0
	}
	sim := textmatch.Similarity(na, nb)
	return sim > matchThreshold, sim
}

// Reconcile merges N raw field sets (N >= 2) for one document into a single
// result. The first set is the primary extractor: on a fuzzy match or a
// disagreement its value wins, so extractor order is a documented tie-break,
// not an accident.
func Reconcile(sets []RawFieldSet, sch schema.Schema) (*Result, error) {
	if len(sets) < 2 {
		return nil, eris.Errorf("consensus: need at least 2 field sets, got %d", len(sets))
	}

	names := fieldNames(sets, sch)
	critical := sch.CriticalSet()

	result := &Result{
		DocType:       sch.DocType,
		Fields:        make([]Field, 0, len(names)),
		Discrepancies: []string{},
	}

	matched := 0
	criticalOK := true

	for _, name := range names {
		f := reconcileField(name, sets)
		result.Fields = append(result.Fields, f)

		if f.Match {
			matched++
		} else {
			result.Discrepancies = append(result.Discrepancies, name)
			if critical[name] {
				criticalOK = false
			}
		}
	}

	ratio := 1.0
	if len(names) > 0 {
		ratio = float64(matched) / float64(len(names))
	}

	result.Tier = computeTier(ratio, criticalOK, sch)
	return result, nil
}

// reconcileField resolves one field across all extractors against the primary.
func reconcileField(name string, sets []RawFieldSet) Field {
	f := Field{Name: name, Candidates: make([]Candidate, 0, len(sets))}

	allAbsent := true
	for _, s := range sets {
		raw := s.Fields[name]
		f.Candidates = append(f.Candidates, Candidate{Extractor: s.Extractor, Raw: raw})
		if !IsAbsent(raw) {
			allAbsent = false
		}
	}

	// Every extractor reports the field as absent: agreement on a null value.
	if allAbsent {
		f.Match = true
		f.Confidence = 1.0
		return f
	}

	primary := sets[0].Fields[name]
	primaryAbsent := IsAbsent(primary)

	f.Match = true
	f.Confidence = 1.0
	for _, s := range sets[1:] {
		other := s.Fields[name]
		otherAbsent := IsAbsent(other)
		if primaryAbsent != otherAbsent {
			f.Match = false
			f.Confidence = 0
			break
		}
		if primaryAbsent {
			continue
		}
		eq, sim := FieldsEqual(primary, other)
		if sim < f.Confidence {
			f.Confidence = sim
		}
		if !eq {
			f.Match = false
		}
	}

	// The primary's value is stored either way; a disagreement only flags the
	// field for review, both raws stay on the candidates list.
	if !primaryAbsent {
		v := strings.TrimSpace(primary)
		f.FinalValue = &v
	}
	if !f.Match {
		f.NeedsReview = true
	}
	return f
}

// computeTier derives the tier from the match ratio and critical-field
// agreement. Never set by hand anywhere else.
func computeTier(ratio float64, criticalOK bool, sch schema.Schema) Tier {
	full, partial := sch.TierThresholds()
	switch {
	case criticalOK && ratio >= full:
		return TierFull
	case criticalOK && ratio >= partial:
		return TierPartial
	default:
		return TierReviewRequired
	}
}

// fieldNames returns the field list: the declared schema order for fixed
// schemas, the sorted union of extractor keys for open ones.
func fieldNames(sets []RawFieldSet, sch schema.Schema) []string {
	if !sch.Open {
		return sch.FieldNames()
	}

	seen := make(map[string]bool)
	for _, s := range sets {
		for k := range s.Fields {
			seen[k] = true
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
