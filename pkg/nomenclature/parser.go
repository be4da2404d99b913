// Package nomenclature parses HLA allele and serology names into the typed
// values used by the matching dictionary.
package nomenclature

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hla-matching-dictionary/internal/domain"
)

var (
	// Allele names: two to four colon-delimited numeric fields and an optional
	// expression suffix, e.g. 01:01, 39:01:01:02L, 29:01:01:02N.
	alleleNamePattern = regexp.MustCompile(`^(\d{2,4})((?::\d{2,4}){1,3})([NLSQCA])?$`)

	// Serology names are numeric, e.g. 1, 21, 4005, 5102.
	serologyNamePattern = regexp.MustCompile(`^\d{1,4}$`)

	// Placeholder serology names found in allele assignment tables.
	noSerologyNames = map[string]struct{}{"0": {}, "?": {}, "": {}}
)

// AlleleName is a parsed allele name.
type AlleleName struct {
	Fields           []string
	ExpressionSuffix string
}

// ParseAlleleName splits an allele name into its fields and expression
// suffix. A leading locus marker ("A*") is stripped.
func ParseAlleleName(name string) (AlleleName, error) {
	_, bare := SplitLocusMarker(strings.TrimSpace(name))
	if bare == "" {
		return AlleleName{}, domain.NewValidationError("allele_name", "allele name cannot be empty", name)
	}

	m := alleleNamePattern.FindStringSubmatch(bare)
	if m == nil {
		return AlleleName{}, domain.NewValidationError("allele_name", "invalid allele name format", name)
	}

	fields := []string{m[1]}
	fields = append(fields, strings.Split(strings.TrimPrefix(m[2], ":"), ":")...)
	return AlleleName{Fields: fields, ExpressionSuffix: m[3]}, nil
}

// SplitLocusMarker separates "A*01:01" into "A" and "01:01". Names without a
// marker are returned unchanged with an empty locus.
func SplitLocusMarker(name string) (string, string) {
	if i := strings.Index(name, "*"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// NewAlleleTyping parses name and returns the allele typing at locus.
func NewAlleleTyping(locus domain.Locus, name string, isDeleted bool, status domain.AlleleTypingStatus) (domain.AlleleTyping, error) {
	if !locus.IsValid() {
		return domain.AlleleTyping{}, domain.NewValidationError("locus", "unsupported locus", locus)
	}
	parsed, err := ParseAlleleName(name)
	if err != nil {
		return domain.AlleleTyping{}, fmt.Errorf("parsing allele %s*%s: %w", locus, name, err)
	}
	_, bare := SplitLocusMarker(strings.TrimSpace(name))
	if status.SequenceStatus == "" {
		status.SequenceStatus = domain.SequenceUnknown
	}
	if status.DnaCategory == "" {
		status.DnaCategory = domain.DnaUnknown
	}
	return domain.AlleleTyping{
		HlaTyping: domain.HlaTyping{
			Locus:     locus,
			Name:      bare,
			Method:    domain.Molecular,
			IsDeleted: isDeleted,
		},
		Fields:           parsed.Fields,
		ExpressionSuffix: parsed.ExpressionSuffix,
		Status:           status,
	}, nil
}

// ValidateSerologyName checks the format of an antigen name.
func ValidateSerologyName(name string) error {
	if !serologyNamePattern.MatchString(name) {
		return domain.NewValidationError("serology_name", "invalid serology name format", name)
	}
	return nil
}

// IsNoSerology reports whether an assignment names no antigen at all.
func IsNoSerology(name string) bool {
	_, ok := noSerologyNames[strings.TrimSpace(name)]
	return ok
}

// NominalSerologyName derives the antigen an allele is expected to match from
// its family: the first field with leading zeros removed, so 01:01:01:01
// gives "1" and 39:01:01:02L gives "39".
func NominalSerologyName(allele domain.AlleleTyping) string {
	family := allele.FirstField()
	if family == "" {
		_, bare := SplitLocusMarker(allele.Name)
		family, _, _ = strings.Cut(bare, ":")
	}
	trimmed := strings.TrimLeft(family, "0")
	if trimmed == "" && family != "" {
		return "0"
	}
	return trimmed
}

// ParseAlleleString splits a slash-delimited allele string. The first entry
// must be a full name; later entries may abbreviate to the fields that differ
// from the first entry's family, e.g. "01:01/02" is 01:01 and 01:02. Entries
// may carry a locus marker ("A*01:01/A*01:02") as long as every marker names
// the same locus.
func ParseAlleleString(value string) ([]string, error) {
	return parseAlleleString("", value)
}

// ParseAlleleStringAt is ParseAlleleString for a typing at a known locus; a
// locus marker naming any other locus is rejected.
func ParseAlleleStringAt(locus domain.Locus, value string) ([]string, error) {
	return parseAlleleString(locus, value)
}

func parseAlleleString(locus domain.Locus, value string) ([]string, error) {
	parts := strings.Split(strings.TrimSpace(value), "/")
	if len(parts) < 2 {
		return nil, domain.NewValidationError("allele_string", "allele string must contain at least two alleles", value)
	}

	bare := make([]string, len(parts))
	for i, part := range parts {
		marker, name := SplitLocusMarker(strings.TrimSpace(part))
		if marker != "" {
			markerLocus, err := MolecularLocus(marker)
			if err != nil {
				return nil, err
			}
			if locus == "" {
				locus = markerLocus
			} else if markerLocus != locus {
				return nil, domain.NewValidationError("allele_string", "allele string mixes loci "+string(locus)+" and "+string(markerLocus), value)
			}
		}
		bare[i] = name
	}

	first, err := ParseAlleleName(bare[0])
	if err != nil {
		return nil, err
	}

	names := []string{bare[0]}
	for _, name := range bare[1:] {
		if !strings.Contains(name, ":") {
			name = first.Fields[0] + ":" + name
		}
		if _, err := ParseAlleleName(name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return domain.SortedSet(names...), nil
}
