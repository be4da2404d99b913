package repository

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/pkg/nomenclature"
)

type nameKey struct {
	locus domain.Locus
	name  string
}

// SerologyAssignment is an allele to serology assignment resolved against the
// serology catalogue.
type SerologyAssignment struct {
	AlleleName string
	Serology   domain.SerologyTyping
	Kind       domain.AssignmentKind
}

// Relationship is a hierarchy row resolved against the serology catalogue.
type Relationship struct {
	Parent       domain.SerologyTyping
	Child        domain.SerologyTyping
	ChildSubtype domain.SerologySubtype
}

// RelationshipRepository is the read-only, indexed view of one nomenclature
// release. Typings are held in flat catalogues and every relationship is
// resolved through key lookups. It is safe for concurrent readers; returned
// slices must not be modified.
type RelationshipRepository struct {
	version    string
	alleles    []domain.AlleleTyping
	serologies []domain.SerologyTyping

	alleleIndex   map[nameKey]int
	serologyIndex map[nameKey]int

	assignmentsByAllele   map[nameKey][]SerologyAssignment
	allelesBySerology     map[nameKey][]string
	relationshipsByChild  map[nameKey][]Relationship
	relationshipsByParent map[nameKey][]Relationship
	replacedBy            map[nameKey][]string

	pGroups map[nameKey]string
	gGroups map[nameKey]string
}

// NewRelationshipRepository indexes a snapshot. Rows that reference unknown
// typings, cross loci or duplicate a typing are integrity violations.
func NewRelationshipRepository(snapshot *NomenclatureSnapshot, logger *logrus.Logger) (*RelationshipRepository, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("nomenclature snapshot is required")
	}

	r := &RelationshipRepository{
		version:               snapshot.Version,
		alleles:               make([]domain.AlleleTyping, 0, len(snapshot.Alleles)),
		serologies:            make([]domain.SerologyTyping, 0, len(snapshot.Serologies)),
		alleleIndex:           make(map[nameKey]int, len(snapshot.Alleles)),
		serologyIndex:         make(map[nameKey]int, len(snapshot.Serologies)),
		assignmentsByAllele:   make(map[nameKey][]SerologyAssignment),
		allelesBySerology:     make(map[nameKey][]string),
		relationshipsByChild:  make(map[nameKey][]Relationship),
		relationshipsByParent: make(map[nameKey][]Relationship),
		replacedBy:            make(map[nameKey][]string),
		pGroups:               make(map[nameKey]string),
		gGroups:               make(map[nameKey]string),
	}

	if err := r.indexAlleles(snapshot.Alleles); err != nil {
		return nil, err
	}
	if err := r.indexSerologies(snapshot.Serologies); err != nil {
		return nil, err
	}
	if err := r.indexAssignments(snapshot.Assignments); err != nil {
		return nil, err
	}
	if err := r.indexRelationships(snapshot.Relationships); err != nil {
		return nil, err
	}
	if err := r.indexGroups(snapshot.PGroups, r.pGroups, "P-Group"); err != nil {
		return nil, err
	}
	if err := r.indexGroups(snapshot.GGroups, r.gGroups, "G-Group"); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"version":       r.version,
			"alleles":       len(r.alleles),
			"serologies":    len(r.serologies),
			"assignments":   len(snapshot.Assignments),
			"relationships": len(snapshot.Relationships),
		}).Info("Relationship repository indexed")
	}

	return r, nil
}

func (r *RelationshipRepository) indexAlleles(records []AlleleRecord) error {
	for _, rec := range records {
		locus, err := nomenclature.MolecularLocus(rec.Locus)
		if err != nil {
			return fmt.Errorf("allele catalogue row %s*%s: %w", rec.Locus, rec.Name, err)
		}
		allele, err := nomenclature.NewAlleleTyping(locus, rec.Name, rec.IsDeleted, domain.AlleleTypingStatus{
			SequenceStatus: rec.SequenceStatus,
			DnaCategory:    rec.DnaCategory,
		})
		if err != nil {
			return fmt.Errorf("allele catalogue: %w", err)
		}
		if rec.IsDeleted {
			allele.IdenticalHla = strings.TrimSpace(rec.IdenticalHla)
		}

		key := nameKey{locus, allele.Name}
		if _, exists := r.alleleIndex[key]; exists {
			return domain.NewDataIntegrityError(domain.ErrCodeDuplicateTyping, locus, allele.Name, "allele listed more than once in catalogue")
		}
		r.alleleIndex[key] = len(r.alleles)
		r.alleles = append(r.alleles, allele)
	}
	return nil
}

func (r *RelationshipRepository) indexSerologies(records []SerologyRecord) error {
	for _, rec := range records {
		locus, err := nomenclature.SerologyLocus(rec.Locus)
		if err != nil {
			return fmt.Errorf("serology catalogue row %s %s: %w", rec.Locus, rec.Name, err)
		}
		name := strings.TrimSpace(rec.Name)
		if err := nomenclature.ValidateSerologyName(name); err != nil {
			return fmt.Errorf("serology catalogue row %s %s: %w", rec.Locus, rec.Name, err)
		}
		if !rec.Subtype.IsValid() {
			return domain.NewDataIntegrityError(domain.ErrCodeMalformedRelationship, locus, name, "unknown serology subtype %q", rec.Subtype)
		}

		serology := domain.SerologyTyping{
			HlaTyping: domain.HlaTyping{
				Locus:     locus,
				Name:      name,
				Method:    domain.Serology,
				IsDeleted: rec.IsDeleted,
			},
			Subtype: rec.Subtype,
		}
		if rec.IsDeleted {
			serology.IdenticalHla = strings.TrimSpace(rec.IdenticalHla)
			if serology.IdenticalHla == "" {
				return domain.NewDataIntegrityError(domain.ErrCodeMissingIdenticalHla, locus, name, "deleted serology has no identical antigen")
			}
			replacement := nameKey{locus, serology.IdenticalHla}
			r.replacedBy[replacement] = append(r.replacedBy[replacement], name)
		}

		key := nameKey{locus, name}
		if _, exists := r.serologyIndex[key]; exists {
			return domain.NewDataIntegrityError(domain.ErrCodeDuplicateTyping, locus, name, "serology listed more than once in catalogue")
		}
		r.serologyIndex[key] = len(r.serologies)
		r.serologies = append(r.serologies, serology)
	}
	return nil
}

func (r *RelationshipRepository) indexAssignments(rows []AlleleSerologyAssignment) error {
	for _, row := range rows {
		if nomenclature.IsNoSerology(row.SerologyName) {
			continue
		}
		locus, err := nomenclature.MolecularLocus(row.Locus)
		if err != nil {
			return fmt.Errorf("assignment row %s*%s: %w", row.Locus, row.AlleleName, err)
		}
		_, alleleName := nomenclature.SplitLocusMarker(strings.TrimSpace(row.AlleleName))
		alleleKey := nameKey{locus, alleleName}
		if _, ok := r.alleleIndex[alleleKey]; !ok {
			return domain.NewDataIntegrityError(domain.ErrCodeUnknownTyping, locus, alleleName, "assignment references an allele missing from the catalogue")
		}

		// Assignments are locus scoped: the antigen must exist at the allele's own locus.
		serologyName := strings.TrimSpace(row.SerologyName)
		serology, ok := r.Serology(locus, serologyName)
		if !ok {
			return domain.NewDataIntegrityError(domain.ErrCodeUnknownTyping, locus, alleleName, "assigned serology %q is not in the catalogue at this locus", serologyName)
		}

		kind := row.Kind
		if kind == "" {
			kind = domain.AssignmentUnambiguous
		}
		if !kind.IsValid() {
			return domain.NewValidationError("assignment_kind", "unknown assignment kind", row.Kind)
		}

		r.assignmentsByAllele[alleleKey] = append(r.assignmentsByAllele[alleleKey], SerologyAssignment{
			AlleleName: alleleName,
			Serology:   serology,
			Kind:       kind,
		})
		serologyKey := nameKey{locus, serology.Name}
		r.allelesBySerology[serologyKey] = append(r.allelesBySerology[serologyKey], alleleName)
	}
	return nil
}

func (r *RelationshipRepository) indexRelationships(rows []SerologyRelationship) error {
	for _, row := range rows {
		locus, err := nomenclature.SerologyLocus(row.Locus)
		if err != nil {
			return fmt.Errorf("hierarchy row %s %s/%s: %w", row.Locus, row.ParentName, row.ChildName, err)
		}
		parent, ok := r.Serology(locus, strings.TrimSpace(row.ParentName))
		if !ok {
			return domain.NewDataIntegrityError(domain.ErrCodeMalformedRelationship, locus, row.ParentName, "hierarchy parent is not in the catalogue at this locus")
		}
		child, ok := r.Serology(locus, strings.TrimSpace(row.ChildName))
		if !ok {
			return domain.NewDataIntegrityError(domain.ErrCodeMalformedRelationship, locus, row.ChildName, "hierarchy child is not in the catalogue at this locus")
		}
		if !row.ChildSubtype.IsValid() {
			return domain.NewDataIntegrityError(domain.ErrCodeMalformedRelationship, locus, child.Name, "unknown child subtype %q", row.ChildSubtype)
		}

		rel := Relationship{Parent: parent, Child: child, ChildSubtype: row.ChildSubtype}
		r.relationshipsByChild[nameKey{locus, child.Name}] = append(r.relationshipsByChild[nameKey{locus, child.Name}], rel)
		r.relationshipsByParent[nameKey{locus, parent.Name}] = append(r.relationshipsByParent[nameKey{locus, parent.Name}], rel)
	}
	return nil
}

func (r *RelationshipRepository) indexGroups(rows []AlleleGroupRecord, target map[nameKey]string, kind string) error {
	for _, row := range rows {
		locus, err := nomenclature.MolecularLocus(row.Locus)
		if err != nil {
			return fmt.Errorf("%s row %s: %w", kind, row.GroupName, err)
		}
		group := strings.TrimSpace(row.GroupName)
		for _, name := range row.AlleleNames {
			_, alleleName := nomenclature.SplitLocusMarker(strings.TrimSpace(name))
			key := nameKey{locus, alleleName}
			if _, ok := r.alleleIndex[key]; !ok {
				return domain.NewDataIntegrityError(domain.ErrCodeUnknownTyping, locus, alleleName, "%s %s references an allele missing from the catalogue", kind, group)
			}
			if group == "" {
				continue
			}
			if existing, ok := target[key]; ok && existing != group {
				return domain.NewDataIntegrityError(domain.ErrCodeGroupMultiplicity, locus, alleleName, "allele belongs to %s %s and %s", kind, existing, group)
			}
			target[key] = group
		}
	}
	return nil
}

// Version returns the nomenclature version of the snapshot.
func (r *RelationshipRepository) Version() string {
	return r.version
}

// Alleles returns the allele catalogue in input order.
func (r *RelationshipRepository) Alleles() []domain.AlleleTyping {
	return r.alleles
}

// Serologies returns the serology catalogue in input order.
func (r *RelationshipRepository) Serologies() []domain.SerologyTyping {
	return r.serologies
}

// Allele finds an allele by locus and name.
func (r *RelationshipRepository) Allele(locus domain.Locus, name string) (domain.AlleleTyping, bool) {
	i, ok := r.alleleIndex[nameKey{locus, name}]
	if !ok {
		return domain.AlleleTyping{}, false
	}
	return r.alleles[i], true
}

// Serology finds an antigen by locus and name.
func (r *RelationshipRepository) Serology(locus domain.Locus, name string) (domain.SerologyTyping, bool) {
	i, ok := r.serologyIndex[nameKey{locus, name}]
	if !ok {
		return domain.SerologyTyping{}, false
	}
	return r.serologies[i], true
}

// AssignmentsFor returns the serology assignments of an allele. An allele
// with no assignment rows yields nil.
func (r *RelationshipRepository) AssignmentsFor(locus domain.Locus, alleleName string) []SerologyAssignment {
	return r.assignmentsByAllele[nameKey{locus, alleleName}]
}

// AllelesAssignedTo returns the names of alleles directly assigned to an antigen.
func (r *RelationshipRepository) AllelesAssignedTo(locus domain.Locus, serologyName string) []string {
	return r.allelesBySerology[nameKey{locus, serologyName}]
}

// DeletedSerologiesIdenticalTo returns the deleted antigens whose identical
// antigen is the named one.
func (r *RelationshipRepository) DeletedSerologiesIdenticalTo(locus domain.Locus, serologyName string) []string {
	return r.replacedBy[nameKey{locus, serologyName}]
}

// ParentsOf returns the hierarchy rows in which the antigen is the child.
func (r *RelationshipRepository) ParentsOf(locus domain.Locus, serologyName string) []Relationship {
	return r.relationshipsByChild[nameKey{locus, serologyName}]
}

// ChildrenOf returns the hierarchy rows in which the antigen is the parent.
func (r *RelationshipRepository) ChildrenOf(locus domain.Locus, serologyName string) []Relationship {
	return r.relationshipsByParent[nameKey{locus, serologyName}]
}

// PGroupOf returns the P-Group row listing the allele, if any.
func (r *RelationshipRepository) PGroupOf(locus domain.Locus, alleleName string) (string, bool) {
	group, ok := r.pGroups[nameKey{locus, alleleName}]
	return group, ok
}

// GGroupOf returns the G-Group row listing the allele, if any.
func (r *RelationshipRepository) GGroupOf(locus domain.Locus, alleleName string) (string, bool) {
	group, ok := r.gGroups[nameKey{locus, alleleName}]
	return group, ok
}
