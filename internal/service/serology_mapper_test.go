package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/repository"
	"github.com/hla-matching-dictionary/internal/testutil"
)

func newMapper(repo *repository.RelationshipRepository, exceptions domain.SerologyExceptions) *SerologyMapper {
	return NewSerologyMapper(repo, NewSerologyFamilyResolver(repo, quietLogger()), exceptions)
}

func TestSerologyMapper_MatchingSerologies(t *testing.T) {
	repo := fixtureRepo(t)
	mapper := newMapper(repo, testutil.SerologyExceptions())

	tests := []struct {
		name     string
		locus    domain.Locus
		allele   string
		expected []expectedMatch
	}{
		{
			name:   "Unambiguous assignment to a not-split antigen",
			locus:  domain.LocusA,
			allele: "01:01:01:01",
			expected: []expectedMatch{
				{name: "1", direct: true},
			},
		},
		{
			name:   "Possible assignment outside the nominal family is unexpected",
			locus:  domain.LocusA,
			allele: "01:02",
			expected: []expectedMatch{
				{name: "1", direct: true},
				{name: "19", unexpected: true},
				{name: "29", unexpected: true, direct: true},
			},
		},
		{
			name:   "Split assignment reaches its broad",
			locus:  domain.LocusA,
			allele: "29:01:01:01",
			expected: []expectedMatch{
				{name: "19"},
				{name: "29", direct: true},
			},
		},
		{
			name:   "Associated assignment of an exempt allele",
			locus:  domain.LocusB,
			allele: "40:05:01",
			expected: []expectedMatch{
				{name: "21"},
				{name: "4005", direct: true},
				{name: "50"},
			},
		},
		{
			name:   "Low expression variant",
			locus:  domain.LocusB,
			allele: "39:01:01:02L",
			expected: []expectedMatch{
				{name: "16"},
				{name: "39"},
				{name: "3901", direct: true},
			},
		},
		{
			name:   "Deleted allele is mapped through its replacement",
			locus:  domain.LocusA,
			allele: "01:01:01:03",
			expected: []expectedMatch{
				{name: "1", direct: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allele, ok := repo.Allele(tt.locus, tt.allele)
			require.True(t, ok)

			matches, err := mapper.MatchingSerologies(allele)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, matchSummary(matches))
		})
	}
}

func TestSerologyMapper_ExceptionsAreInjected(t *testing.T) {
	repo := fixtureRepo(t)
	allele, ok := repo.Allele(domain.LocusB, "40:05:01")
	require.True(t, ok)

	t.Run("without an exception the associated match is unexpected", func(t *testing.T) {
		mapper := newMapper(repo, domain.NewSerologyExceptions("empty", nil))
		matches, err := mapper.MatchingSerologies(allele)
		require.NoError(t, err)
		for _, m := range matches {
			assert.True(t, m.IsUnexpected, m.Serology.Name)
		}
	})

	t.Run("a family exception exempts the allele", func(t *testing.T) {
		mapper := newMapper(repo, domain.NewSerologyExceptions("family", map[domain.Locus][]string{domain.LocusB: {"40"}}))
		matches, err := mapper.MatchingSerologies(allele)
		require.NoError(t, err)
		for _, m := range matches {
			assert.False(t, m.IsUnexpected, m.Serology.Name)
		}
	})

	t.Run("an exception at another locus does not apply", func(t *testing.T) {
		mapper := newMapper(repo, domain.NewSerologyExceptions("other", map[domain.Locus][]string{domain.LocusA: {"40:05"}}))
		matches, err := mapper.MatchingSerologies(allele)
		require.NoError(t, err)
		for _, m := range matches {
			assert.True(t, m.IsUnexpected, m.Serology.Name)
		}
	})
}

func TestSerologyMapper_DeletedAlleleIsNeverUnexpected(t *testing.T) {
	snapshot := testutil.NomenclatureSnapshot()
	snapshot.Alleles = append(snapshot.Alleles, repository.AlleleRecord{
		Locus: "A*", Name: "01:02:01", IsDeleted: true, IdenticalHla: "01:02",
	})
	repo := newRepo(t, snapshot)
	mapper := newMapper(repo, domain.NewSerologyExceptions("empty", nil))

	live, _ := repo.Allele(domain.LocusA, "01:02")
	deleted, _ := repo.Allele(domain.LocusA, "01:02:01")

	liveMatches, err := mapper.MatchingSerologies(live)
	require.NoError(t, err)
	deletedMatches, err := mapper.MatchingSerologies(deleted)
	require.NoError(t, err)

	require.Equal(t, domain.MatchingSerologyNames(liveMatches), domain.MatchingSerologyNames(deletedMatches))
	assert.Contains(t, matchSummary(liveMatches), expectedMatch{name: "29", unexpected: true, direct: true})
	for _, m := range deletedMatches {
		assert.False(t, m.IsUnexpected, m.Serology.Name)
	}
}

func TestSerologyMapper_NoAssignment(t *testing.T) {
	repo := fixtureRepo(t)
	mapper := newMapper(repo, testutil.SerologyExceptions())

	for _, tc := range []struct {
		locus  domain.Locus
		allele string
	}{
		{domain.LocusA, "29:01:01:02N"},
		{domain.LocusDpb1, "01:01:01"},
	} {
		allele, ok := repo.Allele(tc.locus, tc.allele)
		require.True(t, ok)

		mappings, err := mapper.MapAlleleToSerology(allele)
		require.NoError(t, err)
		assert.Empty(t, mappings)

		matches, err := mapper.MatchingSerologies(allele)
		require.NoError(t, err)
		assert.Empty(t, matches)
	}
}

func TestSerologyMapper_MapAlleleToSerology(t *testing.T) {
	repo := fixtureRepo(t)
	mapper := newMapper(repo, testutil.SerologyExceptions())

	allele, _ := repo.Allele(domain.LocusA, "01:02")
	mappings, err := mapper.MapAlleleToSerology(allele)
	require.NoError(t, err)
	require.Len(t, mappings, 2)

	kinds := map[string]domain.AssignmentKind{}
	for _, m := range mappings {
		kinds[m.Assigned.Name] = m.Kind
		assert.Equal(t, m.Family.MemberNames(), domain.MatchingSerologyNames(m.Serologies))
	}
	assert.Equal(t, domain.AssignmentUnambiguous, kinds["1"])
	assert.Equal(t, domain.AssignmentPossible, kinds["29"])
}

func TestSerologyMapper_MapSerologyToAlleles(t *testing.T) {
	repo := fixtureRepo(t)
	mapper := newMapper(repo, testutil.SerologyExceptions())

	tests := []struct {
		locus    domain.Locus
		serology string
		alleles  []string
	}{
		{domain.LocusB, "21", []string{"40:05:01", "49:01:01", "50:01:01"}},
		{domain.LocusB, "4005", []string{"40:05:01", "50:01:01"}},
		{domain.LocusB, "40", []string{}},
		{domain.LocusA, "19", []string{"01:02", "29:01:01:01", "30:01:01"}},
		{domain.LocusC, "1", []string{"01:02:01"}},
		{domain.LocusC, "11", []string{"01:02:01"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.locus)+" "+tt.serology, func(t *testing.T) {
			serology, ok := repo.Serology(tt.locus, tt.serology)
			require.True(t, ok)

			alleles, err := mapper.MapSerologyToAlleles(serology)
			require.NoError(t, err)
			names := make([]string, 0, len(alleles))
			for _, a := range alleles {
				assert.Equal(t, tt.locus, a.Locus)
				names = append(names, a.Name)
			}
			assert.Equal(t, tt.alleles, names)
		})
	}
}

func TestSerologyMapper_ExpectedFamily(t *testing.T) {
	repo := fixtureRepo(t)
	mapper := newMapper(repo, testutil.SerologyExceptions())

	allele, _ := repo.Allele(domain.LocusB, "40:05:01")
	family, ok, err := mapper.ExpectedFamily(allele)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"40", "60", "61"}, family.MemberNames())

	dp, _ := repo.Allele(domain.LocusDpb1, "01:01:01")
	_, ok, err = mapper.ExpectedFamily(dp)
	require.NoError(t, err)
	assert.False(t, ok)
}
