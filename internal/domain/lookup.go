package domain

import (
	"sort"
	"time"
)

// MolecularSubtype records the truncation level a molecular lookup name was
// derived at. Lower values are more specific.
type MolecularSubtype int

const (
	MolecularSubtypeNone MolecularSubtype = iota
	CompleteAllele
	TwoFieldAllele
	FirstFieldAllele
)

func (s MolecularSubtype) String() string {
	switch s {
	case CompleteAllele:
		return "CompleteAllele"
	case TwoFieldAllele:
		return "TwoFieldAllele"
	case FirstFieldAllele:
		return "FirstFieldAllele"
	default:
		return "None"
	}
}

// MoreSpecific returns the least-truncated of two subtypes.
func (s MolecularSubtype) MoreSpecific(other MolecularSubtype) MolecularSubtype {
	if s == MolecularSubtypeNone {
		return other
	}
	if other == MolecularSubtypeNone || s < other {
		return s
	}
	return other
}

// LookupKey identifies a lookup row.
type LookupKey struct {
	Locus      Locus        `json:"locus"`
	LookupName string       `json:"lookup_name"`
	Method     TypingMethod `json:"typing_method"`
}

// Less orders lookup keys by locus, typing method then name.
func (k LookupKey) Less(other LookupKey) bool {
	return TypingKey{Locus: k.Locus, Name: k.LookupName, Method: k.Method}.
		Less(TypingKey{Locus: other.Locus, Name: other.LookupName, Method: other.Method})
}

// MatchingLookupEntry is one row of the matching-lookup table.
type MatchingLookupEntry struct {
	Locus            Locus            `json:"locus"`
	LookupName       string           `json:"lookup_name"`
	Method           TypingMethod     `json:"typing_method"`
	MolecularSubtype MolecularSubtype `json:"molecular_subtype,omitempty"`
	SerologySubtype  SerologySubtype  `json:"serology_subtype,omitempty"`
	PGroups          []string         `json:"matching_p_groups"`
	GGroups          []string         `json:"matching_g_groups"`
	Serologies       []string         `json:"matching_serologies"`
	// AlleleNames lists the alleles a molecular row was compiled from.
	AlleleNames []string `json:"allele_names,omitempty"`
}

// Key returns the row's lookup key.
func (e MatchingLookupEntry) Key() LookupKey {
	return LookupKey{Locus: e.Locus, LookupName: e.LookupName, Method: e.Method}
}

// ScoringLookupEntry is one row of the scoring-lookup table.
type ScoringLookupEntry struct {
	Locus      Locus        `json:"locus"`
	LookupName string       `json:"lookup_name"`
	Method     TypingMethod `json:"typing_method"`
	Info       ScoringInfo  `json:"-"`
}

// Key returns the row's lookup key.
func (e ScoringLookupEntry) Key() LookupKey {
	return LookupKey{Locus: e.Locus, LookupName: e.LookupName, Method: e.Method}
}

// SortMatchingLookup orders rows by key.
func SortMatchingLookup(rows []MatchingLookupEntry) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key().Less(rows[j].Key()) })
}

// SortScoringLookup orders rows by key.
func SortScoringLookup(rows []ScoringLookupEntry) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key().Less(rows[j].Key()) })
}

// DictionarySnapshot is the complete, immutable output of one dictionary
// build for a single nomenclature version.
type DictionarySnapshot struct {
	Version           string                `json:"version"`
	BuildID           string                `json:"build_id"`
	BuiltAt           time.Time             `json:"built_at"`
	MatchedAlleles    []*MatchedAllele      `json:"matched_alleles"`
	MatchedSerologies []*MatchedSerology    `json:"matched_serologies"`
	MatchingLookup    []MatchingLookupEntry `json:"matching_lookup"`
	ScoringLookup     []ScoringLookupEntry  `json:"scoring_lookup"`
}
