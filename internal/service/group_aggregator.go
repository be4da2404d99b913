package service

import (
	"sort"

	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/repository"
)

// AlleleGroups holds the groups of one allele.
type AlleleGroups struct {
	UsedInMatching domain.AlleleTyping
	// PGroup is empty for null expressers.
	PGroup string
	GGroup string
}

// PGroups returns the P-Group as a set.
func (g AlleleGroups) PGroups() []string { return domain.SortedSet(g.PGroup) }

// GGroups returns the G-Group as a set.
func (g AlleleGroups) GGroups() []string { return domain.SortedSet(g.GGroup) }

// GroupAggregator derives P-Groups and G-Groups. Alleles read their own
// groups; antigens union the groups of the alleles mapped to them.
type GroupAggregator struct {
	repo   *repository.RelationshipRepository
	mapper *SerologyMapper
}

// NewGroupAggregator creates an aggregator.
func NewGroupAggregator(repo *repository.RelationshipRepository, mapper *SerologyMapper) *GroupAggregator {
	return &GroupAggregator{repo: repo, mapper: mapper}
}

// GroupsForAllele looks up the groups of the allele used in matching. An
// allele listed in no G-Group row is its own G-Group; an expressed allele
// listed in no P-Group row is its own P-Group; a null expresser has no P-Group.
func (a *GroupAggregator) GroupsForAllele(allele domain.AlleleTyping) (AlleleGroups, error) {
	used, err := AlleleUsedInMatching(a.repo, allele)
	if err != nil {
		return AlleleGroups{}, err
	}

	groups := AlleleGroups{UsedInMatching: used, GGroup: used.Name}
	if g, ok := a.repo.GGroupOf(used.Locus, used.Name); ok {
		groups.GGroup = g
	}
	if !used.IsNullExpresser() {
		groups.PGroup = used.Name
		if p, ok := a.repo.PGroupOf(used.Locus, used.Name); ok {
			groups.PGroup = p
		}
	}
	return groups, nil
}

// GroupsForSerology unions the groups of every allele the inverse join maps
// to the antigen.
func (a *GroupAggregator) GroupsForSerology(serology domain.SerologyTyping) (pGroups, gGroups []string, err error) {
	alleles, err := a.mapper.MapSerologyToAlleles(serology)
	if err != nil {
		return nil, nil, err
	}
	ps := make([]string, 0, len(alleles))
	gs := make([]string, 0, len(alleles))
	for _, allele := range alleles {
		groups, err := a.GroupsForAllele(allele)
		if err != nil {
			return nil, nil, err
		}
		ps = append(ps, groups.PGroup)
		gs = append(gs, groups.GGroup)
	}
	return domain.SortedSet(ps...), domain.SortedSet(gs...), nil
}

// CheckGGroupToPGroupMultiplicity asserts that every G-Group decomposes to at
// most one distinct non-empty P-Group across all matched alleles.
func CheckGGroupToPGroupMultiplicity(alleles []*domain.MatchedAllele) error {
	type groupKey struct {
		locus  domain.Locus
		gGroup string
	}
	seen := make(map[groupKey]map[string]struct{})
	for _, allele := range alleles {
		for _, g := range allele.GGroups {
			key := groupKey{allele.Allele.Locus, g}
			if seen[key] == nil {
				seen[key] = make(map[string]struct{})
			}
			for _, p := range allele.PGroups {
				if p != "" {
					seen[key][p] = struct{}{}
				}
			}
		}
	}

	keys := make([]groupKey, 0, len(seen))
	for key, ps := range seen {
		if len(ps) > 1 {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].locus != keys[j].locus {
			return keys[i].locus < keys[j].locus
		}
		return keys[i].gGroup < keys[j].gGroup
	})
	first := keys[0]
	ps := make([]string, 0, len(seen[first]))
	for p := range seen[first] {
		ps = append(ps, p)
	}
	sort.Strings(ps)
	return domain.NewDataIntegrityError(domain.ErrCodeGroupMultiplicity, first.locus, first.gGroup, "G-Group decomposes to %d P-Groups %v", len(ps), ps)
}

// GGroupToPGroup projects the G-Groups of one locus onto their P-Group. A
// G-Group made only of null expressers maps to "".
func GGroupToPGroup(alleles []*domain.MatchedAllele, locus domain.Locus) map[string]string {
	projection := make(map[string]string)
	for _, allele := range alleles {
		if allele.Allele.Locus != locus {
			continue
		}
		for _, g := range allele.GGroups {
			if _, ok := projection[g]; !ok {
				projection[g] = ""
			}
			for _, p := range allele.PGroups {
				if p != "" {
					projection[g] = p
				}
			}
		}
	}
	return projection
}
