package service

import (
	"sort"

	"github.com/hla-matching-dictionary/internal/domain"
)

type lookupName struct {
	name    string
	subtype domain.MolecularSubtype
}

// alleleLookupNames returns the full name and the distinct truncations an
// allele can be looked up by.
func alleleLookupNames(allele domain.AlleleTyping) []lookupName {
	names := []lookupName{{allele.Name, domain.CompleteAllele}}
	if two := allele.TwoFieldName(); two != allele.Name {
		names = append(names, lookupName{two, domain.TwoFieldAllele})
	}
	if first := allele.FirstField(); first != "" && first != allele.Name {
		names = append(names, lookupName{first, domain.FirstFieldAllele})
	}
	return names
}

// CompileMatchingLookup projects matched records onto the matching-lookup
// table. Molecular rows that collide on their key are reduced with a
// commutative merge, so the result does not depend on input order.
func CompileMatchingLookup(alleles []*domain.MatchedAllele, serologies []*domain.MatchedSerology) []domain.MatchingLookupEntry {
	merged := make(map[domain.LookupKey]*domain.MatchingLookupEntry)
	for _, allele := range alleles {
		serologyNames := domain.MatchingSerologyNames(allele.Serologies)
		for _, ln := range alleleLookupNames(allele.Allele) {
			row := domain.MatchingLookupEntry{
				Locus:            allele.Allele.Locus,
				LookupName:       ln.name,
				Method:           domain.Molecular,
				MolecularSubtype: ln.subtype,
				PGroups:          allele.PGroups,
				GGroups:          allele.GGroups,
				Serologies:       serologyNames,
				AlleleNames:      []string{allele.Allele.Name},
			}
			key := row.Key()
			if existing, ok := merged[key]; ok {
				merged[key] = mergeMatchingRows(*existing, row)
				continue
			}
			merged[key] = normalizeMatchingRow(row)
		}
	}

	for _, serology := range serologies {
		row := normalizeMatchingRow(domain.MatchingLookupEntry{
			Locus:           serology.Serology.Locus,
			LookupName:      serology.Serology.Name,
			Method:          domain.Serology,
			SerologySubtype: serology.Serology.Subtype,
			PGroups:         serology.PGroups,
			GGroups:         serology.GGroups,
			Serologies:      domain.MatchingSerologyNames(serology.Serologies),
		})
		merged[row.Key()] = row
	}

	rows := make([]domain.MatchingLookupEntry, 0, len(merged))
	for _, row := range merged {
		rows = append(rows, *row)
	}
	domain.SortMatchingLookup(rows)
	return rows
}

func normalizeMatchingRow(row domain.MatchingLookupEntry) *domain.MatchingLookupEntry {
	row.PGroups = domain.SortedSet(row.PGroups...)
	row.GGroups = domain.SortedSet(row.GGroups...)
	row.Serologies = domain.SortedSet(row.Serologies...)
	if row.Method == domain.Molecular {
		row.AlleleNames = domain.SortedSet(row.AlleleNames...)
	} else {
		row.AlleleNames = nil
	}
	return &row
}

// mergeMatchingRows keeps the most specific subtype and unions the sets.
func mergeMatchingRows(a, b domain.MatchingLookupEntry) *domain.MatchingLookupEntry {
	return &domain.MatchingLookupEntry{
		Locus:            a.Locus,
		LookupName:       a.LookupName,
		Method:           a.Method,
		MolecularSubtype: a.MolecularSubtype.MoreSpecific(b.MolecularSubtype),
		PGroups:          domain.UnionSorted(a.PGroups, b.PGroups),
		GGroups:          domain.UnionSorted(a.GGroups, b.GGroups),
		Serologies:       domain.UnionSorted(a.Serologies, b.Serologies),
		AlleleNames:      domain.UnionSorted(a.AlleleNames, b.AlleleNames),
	}
}

// SingleAlleleInfo builds the scoring payload of one matched allele.
func SingleAlleleInfo(allele *domain.MatchedAllele) domain.SingleAlleleScoringInfo {
	info := domain.SingleAlleleScoringInfo{
		AlleleName:   allele.Allele.Name,
		TypingStatus: allele.Allele.Status,
		Serologies:   serologyEntries(allele.Serologies),
	}
	if len(allele.PGroups) > 0 {
		info.PGroup = allele.PGroups[0]
	}
	if len(allele.GGroups) > 0 {
		info.GGroup = allele.GGroups[0]
	}
	return info
}

func serologyEntries(matching []domain.MatchingSerology) []domain.SerologyEntry {
	entries := make([]domain.SerologyEntry, 0, len(matching))
	for _, m := range matching {
		entries = append(entries, domain.SerologyEntry{
			Name:            m.Serology.Name,
			Subtype:         m.Serology.Subtype,
			IsDirectMapping: m.IsDirectMapping,
		})
	}
	return entries
}

// mergeSerologyEntries unions entries by name; an antigen is direct if any
// input marks it direct.
func mergeSerologyEntries(groups ...[]domain.SerologyEntry) []domain.SerologyEntry {
	byName := make(map[string]domain.SerologyEntry)
	for _, entries := range groups {
		for _, e := range entries {
			if existing, ok := byName[e.Name]; ok {
				e.IsDirectMapping = e.IsDirectMapping || existing.IsDirectMapping
			}
			byName[e.Name] = e
		}
	}
	out := make([]domain.SerologyEntry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MultipleAlleleInfo composes a payload for an ambiguous typing from the
// payloads of its alleles.
func MultipleAlleleInfo(alleles []domain.SingleAlleleScoringInfo) domain.MultipleAlleleScoringInfo {
	sorted := make([]domain.SingleAlleleScoringInfo, len(alleles))
	copy(sorted, alleles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AlleleName < sorted[j].AlleleName })

	serologies := make([][]domain.SerologyEntry, 0, len(sorted))
	for _, a := range sorted {
		serologies = append(serologies, a.Serologies)
	}
	return domain.MultipleAlleleScoringInfo{
		Alleles:    sorted,
		Serologies: mergeSerologyEntries(serologies...),
	}
}

func consolidatedInfo(alleles []*domain.MatchedAllele) domain.ConsolidatedMolecularScoringInfo {
	var pGroups, gGroups []string
	serologies := make([][]domain.SerologyEntry, 0, len(alleles))
	for _, a := range alleles {
		pGroups = append(pGroups, a.PGroups...)
		gGroups = append(gGroups, a.GGroups...)
		serologies = append(serologies, serologyEntries(a.Serologies))
	}
	return domain.ConsolidatedMolecularScoringInfo{
		PGroups:    domain.SortedSet(pGroups...),
		GGroups:    domain.SortedSet(gGroups...),
		Serologies: mergeSerologyEntries(serologies...),
	}
}

// CompileScoringLookup projects matched records onto the scoring-lookup
// table: a single-allele payload per allele name, a single or consolidated
// payload per truncated name that is not itself an allele name, and a
// serology payload per antigen.
func CompileScoringLookup(alleles []*domain.MatchedAllele, serologies []*domain.MatchedSerology) []domain.ScoringLookupEntry {
	fullNames := make(map[domain.LookupKey]struct{}, len(alleles))
	rows := make([]domain.ScoringLookupEntry, 0, len(alleles)+len(serologies))
	for _, allele := range alleles {
		row := domain.ScoringLookupEntry{
			Locus:      allele.Allele.Locus,
			LookupName: allele.Allele.Name,
			Method:     domain.Molecular,
			Info:       SingleAlleleInfo(allele),
		}
		fullNames[row.Key()] = struct{}{}
		rows = append(rows, row)
	}

	truncated := make(map[domain.LookupKey][]*domain.MatchedAllele)
	for _, allele := range alleles {
		for _, ln := range alleleLookupNames(allele.Allele)[1:] {
			key := domain.LookupKey{Locus: allele.Allele.Locus, LookupName: ln.name, Method: domain.Molecular}
			if _, isFull := fullNames[key]; isFull {
				continue
			}
			truncated[key] = append(truncated[key], allele)
		}
	}
	for key, covered := range truncated {
		row := domain.ScoringLookupEntry{Locus: key.Locus, LookupName: key.LookupName, Method: key.Method}
		if len(covered) == 1 {
			row.Info = SingleAlleleInfo(covered[0])
		} else {
			sort.Slice(covered, func(i, j int) bool { return covered[i].Allele.Name < covered[j].Allele.Name })
			row.Info = consolidatedInfo(covered)
		}
		rows = append(rows, row)
	}

	for _, serology := range serologies {
		rows = append(rows, domain.ScoringLookupEntry{
			Locus:      serology.Serology.Locus,
			LookupName: serology.Serology.Name,
			Method:     domain.Serology,
			Info:       domain.SerologyScoringInfo{Serologies: serologyEntries(serology.Serologies)},
		})
	}

	domain.SortScoringLookup(rows)
	return rows
}
