// Package domain contains the core entities of the HLA matching dictionary:
// molecular and serological typings, the matched records produced for every
// typing in a nomenclature release, and the lookup rows compiled from them.
//
// All values are computed once per nomenclature version and treated as
// immutable afterwards. Relationships between typings are expressed through
// TypingKey lookups, never through embedded pointers.
package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Locus is a genetic position at which a typing is expressed.
type Locus string

const (
	LocusA    Locus = "A"
	LocusB    Locus = "B"
	LocusC    Locus = "C"
	LocusDpb1 Locus = "DPB1"
	LocusDqb1 Locus = "DQB1"
	LocusDrb1 Locus = "DRB1"
)

// SupportedLoci lists the loci handled by the matching dictionary.
var SupportedLoci = []Locus{LocusA, LocusB, LocusC, LocusDpb1, LocusDqb1, LocusDrb1}

// IsValid reports whether the locus is one of the supported loci.
func (l Locus) IsValid() bool {
	return slices.Contains(SupportedLoci, l)
}

func (l Locus) String() string {
	return string(l)
}

// TypingMethod distinguishes molecular from serological typings.
type TypingMethod string

const (
	Molecular TypingMethod = "Molecular"
	Serology  TypingMethod = "Serology"
)

// IsValid reports whether the typing method is known.
func (m TypingMethod) IsValid() bool {
	return m == Molecular || m == Serology
}

// SerologySubtype classifies an antigen within the serology hierarchy.
type SerologySubtype string

const (
	SubtypeBroad      SerologySubtype = "Broad"
	SubtypeSplit      SerologySubtype = "Split"
	SubtypeAssociated SerologySubtype = "Associated"
	SubtypeNotSplit   SerologySubtype = "NotSplit"
)

// IsValid reports whether the subtype is one of the four hierarchy classes.
func (s SerologySubtype) IsValid() bool {
	switch s {
	case SubtypeBroad, SubtypeSplit, SubtypeAssociated, SubtypeNotSplit:
		return true
	default:
		return false
	}
}

// SequenceStatus records whether an allele has been fully or partially sequenced.
type SequenceStatus string

const (
	SequenceFull    SequenceStatus = "Full"
	SequencePartial SequenceStatus = "Partial"
	SequenceUnknown SequenceStatus = "Unknown"
)

// DnaCategory records the kind of sequence an allele was defined from.
type DnaCategory string

const (
	DnaGenomic            DnaCategory = "GDna"
	DnaComplementary      DnaCategory = "CDna"
	DnaNucleotideSequence DnaCategory = "NucleotideSequence"
	DnaUnknown            DnaCategory = "Unknown"
)

// AlleleTypingStatus combines the sequence status and DNA category of an allele.
type AlleleTypingStatus struct {
	SequenceStatus SequenceStatus `json:"sequence_status"`
	DnaCategory    DnaCategory    `json:"dna_category"`
}

// UnknownTypingStatus is used when the catalogue carries no status for an allele.
var UnknownTypingStatus = AlleleTypingStatus{SequenceStatus: SequenceUnknown, DnaCategory: DnaUnknown}

// NullExpressionSuffix marks an allele whose product is not expressed at the cell surface.
const NullExpressionSuffix = "N"

// TypingKey identifies a typing structurally. Equality and deduplication
// throughout the dictionary use this key, never pointer identity.
type TypingKey struct {
	Locus  Locus        `json:"locus"`
	Name   string       `json:"name"`
	Method TypingMethod `json:"typing_method"`
}

func (k TypingKey) String() string {
	if k.Method == Molecular {
		return fmt.Sprintf("%s*%s", k.Locus, k.Name)
	}
	return fmt.Sprintf("%s %s", k.Locus, k.Name)
}

// Less orders keys by locus, typing method then name.
func (k TypingKey) Less(other TypingKey) bool {
	if k.Locus != other.Locus {
		return k.Locus < other.Locus
	}
	if k.Method != other.Method {
		return k.Method < other.Method
	}
	return k.Name < other.Name
}

// HlaTyping is one named typing at one locus.
type HlaTyping struct {
	Locus     Locus        `json:"locus"`
	Name      string       `json:"name"`
	Method    TypingMethod `json:"typing_method"`
	IsDeleted bool         `json:"is_deleted"`
}

// Key returns the structural identity of the typing.
func (t HlaTyping) Key() TypingKey {
	return TypingKey{Locus: t.Locus, Name: t.Name, Method: t.Method}
}

func (t HlaTyping) String() string {
	return t.Key().String()
}

// AlleleTyping is a molecular typing with its colon-delimited fields already
// split out. Construct instances through the nomenclature parser.
type AlleleTyping struct {
	HlaTyping
	Fields           []string           `json:"fields"`
	ExpressionSuffix string             `json:"expression_suffix,omitempty"`
	IdenticalHla     string             `json:"identical_hla,omitempty"`
	Status           AlleleTypingStatus `json:"status"`
}

// FirstField returns the allele family, e.g. "01" for 01:01:01:01.
func (a AlleleTyping) FirstField() string {
	if len(a.Fields) == 0 {
		return ""
	}
	return a.Fields[0]
}

// TwoFieldName truncates the name to its first two fields and re-attaches
// the expression suffix, so 01:01:01:02N becomes 01:01N.
func (a AlleleTyping) TwoFieldName() string {
	if len(a.Fields) < 2 {
		return a.Name
	}
	return a.Fields[0] + ":" + a.Fields[1] + a.ExpressionSuffix
}

// IsNullExpresser reports whether the allele carries the null expression suffix.
func (a AlleleTyping) IsNullExpresser() bool {
	return a.ExpressionSuffix == NullExpressionSuffix
}

// SerologyTyping is a serological antigen.
type SerologyTyping struct {
	HlaTyping
	Subtype SerologySubtype `json:"subtype"`
	// IdenticalHla names the replacement antigen; only set when IsDeleted.
	IdenticalHla string `json:"identical_hla,omitempty"`
}

// IsSameAntigen compares serology typings structurally.
func (s SerologyTyping) IsSameAntigen(other SerologyTyping) bool {
	return s.Key() == other.Key()
}

// AssignmentKind is the confidence class of an allele to serology assignment.
type AssignmentKind string

const (
	AssignmentUnambiguous AssignmentKind = "Unambiguous"
	AssignmentPossible    AssignmentKind = "Possible"
	AssignmentAssumed     AssignmentKind = "Assumed"
	AssignmentExpert      AssignmentKind = "Expert"
)

// IsValid reports whether the assignment kind is known.
func (k AssignmentKind) IsValid() bool {
	switch k {
	case AssignmentUnambiguous, AssignmentPossible, AssignmentAssumed, AssignmentExpert:
		return true
	default:
		return false
	}
}

// SerologyExceptions is the curated allow-list of alleles permitted to have
// serology matches that the expected-matching rules do not predict. Entries
// are either allele families ("15") or exact allele names ("40:05:01").
type SerologyExceptions struct {
	Version string
	entries map[Locus]map[string]struct{}
}

// NewSerologyExceptions builds an allow-list from per-locus entries.
func NewSerologyExceptions(version string, entries map[Locus][]string) SerologyExceptions {
	ex := SerologyExceptions{Version: version, entries: make(map[Locus]map[string]struct{}, len(entries))}
	for locus, names := range entries {
		set := make(map[string]struct{}, len(names))
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			set[name] = struct{}{}
		}
		ex.entries[locus] = set
	}
	return ex
}

// Contains reports whether the allele is exempt, matching on its exact name,
// its two-field name or its family.
func (e SerologyExceptions) Contains(allele AlleleTyping) bool {
	set, ok := e.entries[allele.Locus]
	if !ok {
		return false
	}
	for _, candidate := range []string{allele.Name, allele.TwoFieldName(), allele.FirstField()} {
		if _, found := set[candidate]; found {
			return true
		}
	}
	return false
}

// Len returns the number of entries across all loci.
func (e SerologyExceptions) Len() int {
	n := 0
	for _, set := range e.entries {
		n += len(set)
	}
	return n
}
