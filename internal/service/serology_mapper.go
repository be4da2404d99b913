package service

import (
	"sort"

	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/repository"
	"github.com/hla-matching-dictionary/pkg/nomenclature"
)

// SerologyMapping is one resolved serology assignment of an allele.
type SerologyMapping struct {
	Assigned   domain.SerologyTyping
	Kind       domain.AssignmentKind
	Family     SerologyFamily
	Serologies []domain.MatchingSerology
}

// SerologyMapper resolves alleles to the antigens they match and antigens to
// the alleles assigned to them. Lookups are always scoped to one locus.
type SerologyMapper struct {
	repo       *repository.RelationshipRepository
	families   FamilyProvider
	exceptions domain.SerologyExceptions
}

// NewSerologyMapper creates a mapper. The exceptions allow-list is injected so
// each nomenclature version can carry its own.
func NewSerologyMapper(repo *repository.RelationshipRepository, families FamilyProvider, exceptions domain.SerologyExceptions) *SerologyMapper {
	return &SerologyMapper{repo: repo, families: families, exceptions: exceptions}
}

// AlleleUsedInMatching follows the identical allele chain of a deleted allele.
// A deleted allele without a replacement is matched as itself.
func AlleleUsedInMatching(repo *repository.RelationshipRepository, allele domain.AlleleTyping) (domain.AlleleTyping, error) {
	current := allele
	visited := map[string]struct{}{current.Name: {}}
	for current.IsDeleted && current.IdenticalHla != "" {
		next, ok := repo.Allele(current.Locus, current.IdenticalHla)
		if !ok {
			return domain.AlleleTyping{}, domain.NewDataIntegrityError(domain.ErrCodeMissingIdenticalHla, current.Locus, current.Name, "identical allele %q is not in the catalogue", current.IdenticalHla)
		}
		if _, seen := visited[next.Name]; seen {
			return domain.AlleleTyping{}, domain.NewDataIntegrityError(domain.ErrCodeMalformedRelationship, allele.Locus, allele.Name, "identical allele chain loops back to %s", next.Name)
		}
		visited[next.Name] = struct{}{}
		current = next
	}
	return current, nil
}

// ExpectedFamily returns the family of the allele's nominal antigen: the
// first field with leading zeros removed, at the same locus. The boolean is
// false when no such antigen is catalogued.
func (m *SerologyMapper) ExpectedFamily(allele domain.AlleleTyping) (SerologyFamily, bool, error) {
	if !nomenclature.HasSerology(allele.Locus) {
		return SerologyFamily{}, false, nil
	}
	nominal := nomenclature.NominalSerologyName(allele)
	if _, ok := m.repo.Serology(allele.Locus, nominal); !ok {
		return SerologyFamily{}, false, nil
	}
	family, err := m.families.Family(allele.Locus, nominal)
	if err != nil {
		return SerologyFamily{}, false, err
	}
	return family, true, nil
}

// MapAlleleToSerology resolves each serology assignment of an allele to the
// family of the assigned antigen. A deleted allele is mapped through the
// allele it was replaced by. An allele with no assignments maps to nothing.
func (m *SerologyMapper) MapAlleleToSerology(allele domain.AlleleTyping) ([]SerologyMapping, error) {
	used, err := AlleleUsedInMatching(m.repo, allele)
	if err != nil {
		return nil, err
	}
	assignments := m.repo.AssignmentsFor(used.Locus, used.Name)
	if len(assignments) == 0 {
		return nil, nil
	}

	expected, hasExpected, err := m.ExpectedFamily(used)
	if err != nil {
		return nil, err
	}
	exempt := allele.IsDeleted || m.exceptions.Contains(allele) || m.exceptions.Contains(used)

	mappings := make([]SerologyMapping, 0, len(assignments))
	for _, assignment := range assignments {
		family, err := m.families.Family(used.Locus, assignment.Serology.Name)
		if err != nil {
			return nil, err
		}
		serologies := make([]domain.MatchingSerology, 0, len(family.Members))
		for _, member := range family.Members {
			unexpected := !exempt && !(hasExpected && expected.Contains(member.Name))
			serologies = append(serologies, domain.MatchingSerology{
				Serology:        member,
				IsUnexpected:    unexpected,
				IsDirectMapping: member.IsSameAntigen(assignment.Serology),
			})
		}
		mappings = append(mappings, SerologyMapping{
			Assigned:   assignment.Serology,
			Kind:       assignment.Kind,
			Family:     family,
			Serologies: serologies,
		})
	}
	return mappings, nil
}

// MatchingSerologies flattens the mappings of an allele into one entry per
// antigen. An antigen reached through more than one assignment is direct if
// any assignment named it.
func (m *SerologyMapper) MatchingSerologies(allele domain.AlleleTyping) ([]domain.MatchingSerology, error) {
	mappings, err := m.MapAlleleToSerology(allele)
	if err != nil {
		return nil, err
	}
	return mergeMatchingSerologies(mappings), nil
}

func mergeMatchingSerologies(mappings []SerologyMapping) []domain.MatchingSerology {
	merged := make(map[domain.TypingKey]domain.MatchingSerology)
	for _, mapping := range mappings {
		for _, s := range mapping.Serologies {
			key := s.Serology.Key()
			if existing, ok := merged[key]; ok {
				s.IsDirectMapping = s.IsDirectMapping || existing.IsDirectMapping
				s.IsUnexpected = s.IsUnexpected && existing.IsUnexpected
			}
			merged[key] = s
		}
	}
	out := make([]domain.MatchingSerology, 0, len(merged))
	for _, s := range merged {
		out = append(out, s)
	}
	domain.SortMatchingSerologies(out)
	return out
}

// MapSerologyToAlleles is the inverse join: every allele assigned to a member
// of the antigen's family, or to a deleted antigen replaced by a member.
func (m *SerologyMapper) MapSerologyToAlleles(serology domain.SerologyTyping) ([]domain.AlleleTyping, error) {
	family, err := m.families.Family(serology.Locus, serology.Name)
	if err != nil {
		return nil, err
	}

	names := make(map[string]struct{})
	for _, antigen := range m.withDeletedAliases(family) {
		for _, alleleName := range m.repo.AllelesAssignedTo(serology.Locus, antigen) {
			names[alleleName] = struct{}{}
		}
	}

	alleles := make([]domain.AlleleTyping, 0, len(names))
	for name := range names {
		allele, ok := m.repo.Allele(serology.Locus, name)
		if !ok {
			return nil, domain.NewDataIntegrityError(domain.ErrCodeUnknownTyping, serology.Locus, name, "assigned allele is not in the catalogue")
		}
		alleles = append(alleles, allele)
	}
	sort.Slice(alleles, func(i, j int) bool { return alleles[i].Name < alleles[j].Name })
	return alleles, nil
}

func (m *SerologyMapper) withDeletedAliases(family SerologyFamily) []string {
	seen := make(map[string]struct{}, len(family.Members))
	queue := family.MemberNames()
	out := make([]string, 0, len(queue))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
		queue = append(queue, m.repo.DeletedSerologiesIdenticalTo(family.Serology.Locus, name)...)
	}
	return out
}
