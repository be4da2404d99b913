package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/repository"
	"github.com/hla-matching-dictionary/internal/testutil"
)

func TestGroupAggregator_GroupsForAllele(t *testing.T) {
	repo := fixtureRepo(t)
	aggregator := NewGroupAggregator(repo, newMapper(repo, testutil.SerologyExceptions()))

	tests := []struct {
		name   string
		locus  domain.Locus
		allele string
		pGroup string
		gGroup string
		used   string
	}{
		{name: "Expressed allele in both tables", locus: domain.LocusA, allele: "01:01:01:02", pGroup: "01:01P", gGroup: "01:01:01G", used: "01:01:01:02"},
		{name: "Low expression variant", locus: domain.LocusB, allele: "39:01:01:02L", pGroup: "39:01P", gGroup: "39:01:01G", used: "39:01:01:02L"},
		{name: "Null expresser listed in a P-Group row", locus: domain.LocusA, allele: "29:01:01:02N", pGroup: "", gGroup: "29:01:01G", used: "29:01:01:02N"},
		{name: "Allele in no G-Group row is its own G-Group", locus: domain.LocusA, allele: "01:02", pGroup: "01:02P", gGroup: "01:02", used: "01:02"},
		{name: "Allele in no group row at all", locus: domain.LocusB, allele: "51:02", pGroup: "51:02", gGroup: "51:02", used: "51:02"},
		{name: "Deleted allele uses its replacement", locus: domain.LocusA, allele: "01:01:01:03", pGroup: "01:01P", gGroup: "01:01:01G", used: "01:01:01:01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allele, ok := repo.Allele(tt.locus, tt.allele)
			require.True(t, ok)

			groups, err := aggregator.GroupsForAllele(allele)
			require.NoError(t, err)
			assert.Equal(t, tt.pGroup, groups.PGroup)
			assert.Equal(t, tt.gGroup, groups.GGroup)
			assert.Equal(t, tt.used, groups.UsedInMatching.Name)
			assert.Len(t, groups.GGroups(), 1)
		})
	}
}

func TestGroupAggregator_GroupsForSerology(t *testing.T) {
	repo := fixtureRepo(t)
	aggregator := NewGroupAggregator(repo, newMapper(repo, testutil.SerologyExceptions()))

	tests := []struct {
		locus    domain.Locus
		serology string
		pGroups  []string
		gGroups  []string
	}{
		{domain.LocusB, "21", []string{"40:05P", "49:01P", "50:01P"}, []string{"40:05:01G", "49:01:01G", "50:01:01G"}},
		{domain.LocusA, "1", []string{"01:01P", "01:02P"}, []string{"01:01:01G", "01:02"}},
		{domain.LocusA, "19", []string{"01:02P", "29:01P", "30:01P"}, []string{"01:02", "29:01:01G", "30:01:01G"}},
		{domain.LocusB, "7", []string{"07:02P", "07:03"}, []string{"07:02:01G", "07:03"}},
		{domain.LocusB, "40", []string{}, []string{}},
		{domain.LocusC, "11", []string{"01:02P"}, []string{"01:02:01G"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.locus)+" "+tt.serology, func(t *testing.T) {
			serology, ok := repo.Serology(tt.locus, tt.serology)
			require.True(t, ok)

			pGroups, gGroups, err := aggregator.GroupsForSerology(serology)
			require.NoError(t, err)
			assert.Equal(t, tt.pGroups, pGroups)
			assert.Equal(t, tt.gGroups, gGroups)
		})
	}
}

func TestCheckGGroupToPGroupMultiplicity(t *testing.T) {
	ok := []*domain.MatchedAllele{
		{Allele: domain.AlleleTyping{HlaTyping: domain.HlaTyping{Locus: domain.LocusA, Name: "29:01:01:01"}}, PGroups: []string{"29:01P"}, GGroups: []string{"29:01:01G"}},
		{Allele: domain.AlleleTyping{HlaTyping: domain.HlaTyping{Locus: domain.LocusA, Name: "29:01:01:02N"}}, PGroups: []string{}, GGroups: []string{"29:01:01G"}},
		{Allele: domain.AlleleTyping{HlaTyping: domain.HlaTyping{Locus: domain.LocusB, Name: "29:01:01:01"}}, PGroups: []string{"29:02P"}, GGroups: []string{"29:01:01G"}},
	}
	assert.NoError(t, CheckGGroupToPGroupMultiplicity(ok), "same G-Group name at another locus is a different group")

	bad := append(ok, &domain.MatchedAllele{
		Allele:  domain.AlleleTyping{HlaTyping: domain.HlaTyping{Locus: domain.LocusA, Name: "29:01:01:03"}},
		PGroups: []string{"29:99P"},
		GGroups: []string{"29:01:01G"},
	})
	err := CheckGGroupToPGroupMultiplicity(bad)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeGroupMultiplicity, domain.IntegrityCode(err))
	assert.Contains(t, err.Error(), "29:01:01G")
}

func TestMatchedHlaBuilder_GroupMultiplicityAbortsBuild(t *testing.T) {
	snapshot := testutil.NomenclatureSnapshot()
	snapshot.Alleles = append(snapshot.Alleles, repository.AlleleRecord{Locus: "A*", Name: "01:01:01:04"})
	snapshot.GGroups[0].AlleleNames = append(snapshot.GGroups[0].AlleleNames, "01:01:01:04")
	snapshot.PGroups = append(snapshot.PGroups, repository.AlleleGroupRecord{Locus: "A*", GroupName: "01:01:04P", AlleleNames: []string{"01:01:01:04"}})

	builder := NewMatchedHlaBuilder(newRepo(t, snapshot), testutil.SerologyExceptions(), quietLogger())
	matched, err := builder.Build(context.Background())
	require.Error(t, err)
	assert.Nil(t, matched)
	assert.Equal(t, domain.ErrCodeGroupMultiplicity, domain.IntegrityCode(err))
}

func TestGGroupToPGroup(t *testing.T) {
	matched := buildFixture(t, 2)

	projection := GGroupToPGroup(matched.Alleles, domain.LocusA)
	assert.Equal(t, "01:01P", projection["01:01:01G"])
	assert.Equal(t, "29:01P", projection["29:01:01G"])
	assert.Equal(t, "01:02P", projection["01:02"])
	_, ok := projection["39:01:01G"]
	assert.False(t, ok, "B groups must not leak into the A projection")
}
