package nomenclature

import (
	"strings"

	"github.com/hla-matching-dictionary/internal/domain"
)

// molecularLoci maps the spellings found in allele catalogues to loci.
var molecularLoci = map[string]domain.Locus{
	"A":    domain.LocusA,
	"B":    domain.LocusB,
	"C":    domain.LocusC,
	"DPB1": domain.LocusDpb1,
	"DQB1": domain.LocusDqb1,
	"DRB1": domain.LocusDrb1,
}

// serologyLoci maps serological locus names to the molecular locus they are
// matched against. DPB1 has no serology.
var serologyLoci = map[string]domain.Locus{
	"A":  domain.LocusA,
	"B":  domain.LocusB,
	"C":  domain.LocusC,
	"Cw": domain.LocusC,
	"DQ": domain.LocusDqb1,
	"DR": domain.LocusDrb1,
}

var serologyLocusNames = map[domain.Locus]string{
	domain.LocusA:    "A",
	domain.LocusB:    "B",
	domain.LocusC:    "Cw",
	domain.LocusDqb1: "DQ",
	domain.LocusDrb1: "DR",
}

// MolecularLocus parses a molecular locus name such as "A*", "HLA-DRB1" or "C".
func MolecularLocus(name string) (domain.Locus, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(name), "HLA-"), "*")
	if locus, ok := molecularLoci[strings.ToUpper(trimmed)]; ok {
		return locus, nil
	}
	return "", domain.NewValidationError("locus", "unsupported molecular locus", name)
}

// SerologyLocus parses a serological locus name such as "Cw" or "DR". A
// molecular locus spelling is accepted as well.
func SerologyLocus(name string) (domain.Locus, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(name), "HLA-")
	if locus, ok := serologyLoci[trimmed]; ok {
		return locus, nil
	}
	if locus, err := MolecularLocus(trimmed); err == nil && locus != domain.LocusDpb1 {
		return locus, nil
	}
	return "", domain.NewValidationError("locus", "unsupported serology locus", name)
}

// SerologyLocusName returns the serological spelling of a locus, or false
// when the locus has no serology.
func SerologyLocusName(locus domain.Locus) (string, bool) {
	name, ok := serologyLocusNames[locus]
	return name, ok
}

// HasSerology reports whether typings at the locus can be serological.
func HasSerology(locus domain.Locus) bool {
	_, ok := serologyLocusNames[locus]
	return ok
}
