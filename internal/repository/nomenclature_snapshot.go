package repository

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hla-matching-dictionary/internal/domain"
)

// AlleleRecord is one row of the allele catalogue.
type AlleleRecord struct {
	Locus          string                `json:"locus"`
	Name           string                `json:"name"`
	IsDeleted      bool                  `json:"is_deleted"`
	IdenticalHla   string                `json:"identical_hla,omitempty"`
	SequenceStatus domain.SequenceStatus `json:"sequence_status,omitempty"`
	DnaCategory    domain.DnaCategory    `json:"dna_category,omitempty"`
}

// SerologyRecord is one row of the serology catalogue. Locus uses the
// serological spelling ("Cw", "DR").
type SerologyRecord struct {
	Locus        string                 `json:"locus"`
	Name         string                 `json:"name"`
	Subtype      domain.SerologySubtype `json:"subtype"`
	IsDeleted    bool                   `json:"is_deleted"`
	IdenticalHla string                 `json:"identical_hla,omitempty"`
}

// AlleleSerologyAssignment is one row of the allele to serology table.
type AlleleSerologyAssignment struct {
	Locus        string                `json:"locus"`
	AlleleName   string                `json:"allele_name"`
	SerologyName string                `json:"serology_name"`
	Kind         domain.AssignmentKind `json:"kind"`
}

// SerologyRelationship is one row of the serology hierarchy table: a Broad
// with one of its Splits, or any parent with one of its Associated antigens.
type SerologyRelationship struct {
	Locus        string                 `json:"locus"`
	ParentName   string                 `json:"parent_name"`
	ChildName    string                 `json:"child_name"`
	ChildSubtype domain.SerologySubtype `json:"child_subtype"`
}

// AlleleGroupRecord is one P-Group or G-Group and its member alleles.
type AlleleGroupRecord struct {
	Locus       string   `json:"locus"`
	GroupName   string   `json:"group_name"`
	AlleleNames []string `json:"allele_names"`
}

// NomenclatureSnapshot holds the flat collections of one nomenclature release,
// as produced by the external file loader.
type NomenclatureSnapshot struct {
	Version       string                     `json:"version"`
	Alleles       []AlleleRecord             `json:"alleles"`
	Serologies    []SerologyRecord           `json:"serologies"`
	Assignments   []AlleleSerologyAssignment `json:"assignments"`
	Relationships []SerologyRelationship     `json:"relationships"`
	PGroups       []AlleleGroupRecord        `json:"p_groups"`
	GGroups       []AlleleGroupRecord        `json:"g_groups"`
}

// ReadNomenclatureSnapshot decodes a JSON snapshot.
func ReadNomenclatureSnapshot(r io.Reader) (*NomenclatureSnapshot, error) {
	var snapshot NomenclatureSnapshot
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decoding nomenclature snapshot: %w", err)
	}
	if snapshot.Version == "" {
		return nil, domain.NewValidationError("version", "nomenclature snapshot has no version", "")
	}
	return &snapshot, nil
}

// LoadNomenclatureSnapshot reads a JSON snapshot from disk.
func LoadNomenclatureSnapshot(path string) (*NomenclatureSnapshot, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("opening nomenclature snapshot: %w", err)
	}
	defer f.Close()

	return ReadNomenclatureSnapshot(f)
}
