package domain

import (
	"encoding/json"
	"fmt"
)

// ScoringInfoKind discriminates the scoring payload variants.
type ScoringInfoKind string

const (
	ScoringSingleAllele          ScoringInfoKind = "SingleAllele"
	ScoringMultipleAllele        ScoringInfoKind = "MultipleAllele"
	ScoringConsolidatedMolecular ScoringInfoKind = "ConsolidatedMolecular"
	ScoringSerology              ScoringInfoKind = "Serology"
)

// SerologyEntry is a serology as seen by the scoring engine.
type SerologyEntry struct {
	Name            string          `json:"name"`
	Subtype         SerologySubtype `json:"subtype"`
	IsDirectMapping bool            `json:"is_direct_mapping"`
}

// ScoringInfo is the capability set shared by every scoring payload variant.
// Scoring compares payloads of different shapes through this interface
// without knowing the concrete variant.
type ScoringInfo interface {
	Kind() ScoringInfoKind
	MatchingPGroups() []string
	MatchingGGroups() []string
	MatchingSerologies() []SerologyEntry
	// TryDecomposeToSingleAlleles returns the per-allele payloads the info was
	// built from, or ErrUnsupportedDecomposition for variants that have none.
	TryDecomposeToSingleAlleles() ([]SingleAlleleScoringInfo, error)
}

// SingleAlleleScoringInfo describes one fully resolved allele.
type SingleAlleleScoringInfo struct {
	AlleleName   string             `json:"allele_name"`
	TypingStatus AlleleTypingStatus `json:"typing_status"`
	// PGroup is empty for null expressers.
	PGroup     string          `json:"matching_p_group,omitempty"`
	GGroup     string          `json:"matching_g_group"`
	Serologies []SerologyEntry `json:"matching_serologies"`
}

func (s SingleAlleleScoringInfo) Kind() ScoringInfoKind { return ScoringSingleAllele }

func (s SingleAlleleScoringInfo) MatchingPGroups() []string { return SortedSet(s.PGroup) }

func (s SingleAlleleScoringInfo) MatchingGGroups() []string { return SortedSet(s.GGroup) }

func (s SingleAlleleScoringInfo) MatchingSerologies() []SerologyEntry { return s.Serologies }

func (s SingleAlleleScoringInfo) TryDecomposeToSingleAlleles() ([]SingleAlleleScoringInfo, error) {
	return []SingleAlleleScoringInfo{s}, nil
}

// MultipleAlleleScoringInfo describes an ambiguous typing built from a known
// list of alleles.
type MultipleAlleleScoringInfo struct {
	Alleles    []SingleAlleleScoringInfo `json:"alleles"`
	Serologies []SerologyEntry           `json:"matching_serologies"`
}

func (m MultipleAlleleScoringInfo) Kind() ScoringInfoKind { return ScoringMultipleAllele }

func (m MultipleAlleleScoringInfo) MatchingPGroups() []string {
	groups := make([]string, 0, len(m.Alleles))
	for _, a := range m.Alleles {
		groups = append(groups, a.PGroup)
	}
	return SortedSet(groups...)
}

func (m MultipleAlleleScoringInfo) MatchingGGroups() []string {
	groups := make([]string, 0, len(m.Alleles))
	for _, a := range m.Alleles {
		groups = append(groups, a.GGroup)
	}
	return SortedSet(groups...)
}

func (m MultipleAlleleScoringInfo) MatchingSerologies() []SerologyEntry { return m.Serologies }

func (m MultipleAlleleScoringInfo) TryDecomposeToSingleAlleles() ([]SingleAlleleScoringInfo, error) {
	out := make([]SingleAlleleScoringInfo, len(m.Alleles))
	copy(out, m.Alleles)
	return out, nil
}

// ConsolidatedMolecularScoringInfo summarises a molecular name that covers
// more than one allele without keeping per-allele detail.
type ConsolidatedMolecularScoringInfo struct {
	PGroups    []string        `json:"matching_p_groups"`
	GGroups    []string        `json:"matching_g_groups"`
	Serologies []SerologyEntry `json:"matching_serologies"`
}

func (c ConsolidatedMolecularScoringInfo) Kind() ScoringInfoKind { return ScoringConsolidatedMolecular }

func (c ConsolidatedMolecularScoringInfo) MatchingPGroups() []string { return c.PGroups }

func (c ConsolidatedMolecularScoringInfo) MatchingGGroups() []string { return c.GGroups }

func (c ConsolidatedMolecularScoringInfo) MatchingSerologies() []SerologyEntry { return c.Serologies }

func (c ConsolidatedMolecularScoringInfo) TryDecomposeToSingleAlleles() ([]SingleAlleleScoringInfo, error) {
	return nil, fmt.Errorf("consolidated molecular scoring info: %w", ErrUnsupportedDecomposition)
}

// SerologyScoringInfo describes a pure serology lookup.
type SerologyScoringInfo struct {
	Serologies []SerologyEntry `json:"matching_serologies"`
}

func (s SerologyScoringInfo) Kind() ScoringInfoKind { return ScoringSerology }

func (s SerologyScoringInfo) MatchingPGroups() []string { return nil }

func (s SerologyScoringInfo) MatchingGGroups() []string { return nil }

func (s SerologyScoringInfo) MatchingSerologies() []SerologyEntry { return s.Serologies }

func (s SerologyScoringInfo) TryDecomposeToSingleAlleles() ([]SingleAlleleScoringInfo, error) {
	return nil, fmt.Errorf("serology scoring info: %w", ErrUnsupportedDecomposition)
}

type scoringLookupEntryJSON struct {
	Locus      Locus           `json:"locus"`
	LookupName string          `json:"lookup_name"`
	Method     TypingMethod    `json:"typing_method"`
	Kind       ScoringInfoKind `json:"kind"`
	Info       json.RawMessage `json:"info"`
}

// MarshalJSON writes the payload together with its variant tag.
func (e ScoringLookupEntry) MarshalJSON() ([]byte, error) {
	if e.Info == nil {
		return nil, fmt.Errorf("scoring lookup entry %s/%s has no payload", e.Locus, e.LookupName)
	}
	info, err := MarshalScoringInfo(e.Info)
	if err != nil {
		return nil, err
	}
	return json.Marshal(scoringLookupEntryJSON{
		Locus:      e.Locus,
		LookupName: e.LookupName,
		Method:     e.Method,
		Kind:       e.Info.Kind(),
		Info:       info,
	})
}

// UnmarshalJSON restores the concrete payload variant from its tag.
func (e *ScoringLookupEntry) UnmarshalJSON(data []byte) error {
	var raw scoringLookupEntryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	info, err := UnmarshalScoringInfo(raw.Kind, raw.Info)
	if err != nil {
		return err
	}
	e.Locus = raw.Locus
	e.LookupName = raw.LookupName
	e.Method = raw.Method
	e.Info = info
	return nil
}

// MarshalScoringInfo encodes the payload without its tag.
func MarshalScoringInfo(info ScoringInfo) ([]byte, error) {
	return json.Marshal(info)
}

// UnmarshalScoringInfo decodes a payload of the given variant.
func UnmarshalScoringInfo(kind ScoringInfoKind, data []byte) (ScoringInfo, error) {
	switch kind {
	case ScoringSingleAllele:
		var v SingleAlleleScoringInfo
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decoding %s scoring info: %w", kind, err)
		}
		return v, nil
	case ScoringMultipleAllele:
		var v MultipleAlleleScoringInfo
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decoding %s scoring info: %w", kind, err)
		}
		return v, nil
	case ScoringConsolidatedMolecular:
		var v ConsolidatedMolecularScoringInfo
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decoding %s scoring info: %w", kind, err)
		}
		return v, nil
	case ScoringSerology:
		var v SerologyScoringInfo
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decoding %s scoring info: %w", kind, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown scoring info kind %q: %w", kind, ErrMalformedDictionary)
	}
}
