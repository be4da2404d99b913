package domain

import "sort"

// MatchingSerology is one antigen matched to a typing.
type MatchingSerology struct {
	Serology SerologyTyping `json:"serology"`
	// IsUnexpected marks matches the nomenclature authority's expected
	// matching rules do not predict.
	IsUnexpected bool `json:"is_unexpected"`
	// IsDirectMapping is true when the antigen was assigned directly rather
	// than reached through the serology hierarchy.
	IsDirectMapping bool `json:"is_direct_mapping"`
}

// SortMatchingSerologies orders entries by antigen key.
func SortMatchingSerologies(entries []MatchingSerology) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Serology.Key().Less(entries[j].Serology.Key())
	})
}

// MatchingSerologyNames returns the sorted antigen names of the entries.
func MatchingSerologyNames(entries []MatchingSerology) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Serology.Name)
	}
	return SortedSet(names...)
}

// MatchedHla is the final resolved record for one typing.
type MatchedHla interface {
	Typing() HlaTyping
	UsedInMatching() HlaTyping
	MatchingPGroups() []string
	MatchingGGroups() []string
	MatchingSerologies() []MatchingSerology
}

// MatchedAllele is the resolved record of a molecular allele.
type MatchedAllele struct {
	Allele               AlleleTyping       `json:"allele"`
	TypingUsedInMatching AlleleTyping       `json:"typing_used_in_matching"`
	PGroups              []string           `json:"matching_p_groups"`
	GGroups              []string           `json:"matching_g_groups"`
	Serologies           []MatchingSerology `json:"matching_serologies"`
}

func (m *MatchedAllele) Typing() HlaTyping                      { return m.Allele.HlaTyping }
func (m *MatchedAllele) UsedInMatching() HlaTyping              { return m.TypingUsedInMatching.HlaTyping }
func (m *MatchedAllele) MatchingPGroups() []string              { return m.PGroups }
func (m *MatchedAllele) MatchingGGroups() []string              { return m.GGroups }
func (m *MatchedAllele) MatchingSerologies() []MatchingSerology { return m.Serologies }

// MatchedSerology is the resolved record of a serological antigen. Its
// P-Groups and G-Groups are always derived from the alleles mapped to it.
type MatchedSerology struct {
	Serology             SerologyTyping     `json:"serology"`
	TypingUsedInMatching SerologyTyping     `json:"typing_used_in_matching"`
	PGroups              []string           `json:"matching_p_groups"`
	GGroups              []string           `json:"matching_g_groups"`
	Serologies           []MatchingSerology `json:"matching_serologies"`
}

func (m *MatchedSerology) Typing() HlaTyping                      { return m.Serology.HlaTyping }
func (m *MatchedSerology) UsedInMatching() HlaTyping              { return m.TypingUsedInMatching.HlaTyping }
func (m *MatchedSerology) MatchingPGroups() []string              { return m.PGroups }
func (m *MatchedSerology) MatchingGGroups() []string              { return m.GGroups }
func (m *MatchedSerology) MatchingSerologies() []MatchingSerology { return m.Serologies }
