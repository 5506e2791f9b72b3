// Package schema defines per-document-type field schemas. A schema is either
// fixed (a known document type with a declared field list) or open (unknown
// type, arbitrary keys); both feed the same consensus algorithm with different
// tier thresholds.
package schema

// Kind distinguishes the verification strategy for a field.
type Kind string

const (
	KindNumeric Kind = "NUMERIC"
	KindText    Kind = "TEXT"
)

// Zone is a coarse page quadrant used for spatial verification.
type Zone string

const (
	ZoneTopLeft  Zone = "TOP_LEFT"
	ZoneTopRight Zone = "TOP_RIGHT"
	ZoneBottom   Zone = "BOTTOM"
	ZoneUnknown  Zone = "UNKNOWN"
)

// Field declares one named field of a fixed schema.
type Field struct {
	Name         string `yaml:"name"`
	Kind         Kind   `yaml:"kind"`
	Critical     bool   `yaml:"critical"`
	ExpectedZone Zone   `yaml:"expected_zone"`
}

// Schema is the tagged variant: Open=false carries a declared field list,
// Open=true means the field set is the union of extractor outputs.
type Schema struct {
	DocType string  `yaml:"doc_type"`
	Open    bool    `yaml:"open"`
	Fields  []Field `yaml:"fields"`
}

// OpenSchema returns the open-variant schema for an unrecognized document type.
func OpenSchema(docType string) Schema {
	return Schema{DocType: docType, Open: true}
}

// FieldNames returns declared field names in order. Empty for open schemas.
func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// CriticalSet returns the names of critical fields. Open schemas have none.
func (s Schema) CriticalSet() map[string]bool {
	set := make(map[string]bool)
	for _, f := range s.Fields {
		if f.Critical {
			set[f.Name] = true
		}
	}
	return set
}

// Lookup returns the declared field by name.
func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// TierThresholds returns the match-ratio floors for the full and partial
// confidence tiers. Open schemas relax both floors.
func (s Schema) TierThresholds() (full, partial float64) {
	if s.Open {
		return 0.95, 0.80
	}
	return 1.0, 0.90
}
