package service

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/repository"
	"github.com/hla-matching-dictionary/internal/testutil"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newRepo(t *testing.T, snapshot *repository.NomenclatureSnapshot) *repository.RelationshipRepository {
	t.Helper()
	repo, err := repository.NewRelationshipRepository(snapshot, quietLogger())
	require.NoError(t, err)
	return repo
}

func fixtureRepo(t *testing.T) *repository.RelationshipRepository {
	return newRepo(t, testutil.NomenclatureSnapshot())
}

func buildFixture(t *testing.T, workers int) *MatchedHla {
	t.Helper()
	builder := NewMatchedHlaBuilder(fixtureRepo(t), testutil.SerologyExceptions(), quietLogger(), WithWorkers(workers))
	matched, err := builder.Build(context.Background())
	require.NoError(t, err)
	return matched
}

func findAllele(t *testing.T, alleles []*domain.MatchedAllele, locus domain.Locus, name string) *domain.MatchedAllele {
	t.Helper()
	for _, a := range alleles {
		if a.Allele.Locus == locus && a.Allele.Name == name {
			return a
		}
	}
	t.Fatalf("matched allele %s*%s not found", locus, name)
	return nil
}

func findSerology(t *testing.T, serologies []*domain.MatchedSerology, locus domain.Locus, name string) *domain.MatchedSerology {
	t.Helper()
	for _, s := range serologies {
		if s.Serology.Locus == locus && s.Serology.Name == name {
			return s
		}
	}
	t.Fatalf("matched serology %s %s not found", locus, name)
	return nil
}

func findMatchingRow(t *testing.T, rows []domain.MatchingLookupEntry, locus domain.Locus, name string, method domain.TypingMethod) domain.MatchingLookupEntry {
	t.Helper()
	for _, row := range rows {
		if row.Locus == locus && row.LookupName == name && row.Method == method {
			return row
		}
	}
	t.Fatalf("matching row %s %s %s not found", locus, name, method)
	return domain.MatchingLookupEntry{}
}

func findScoringRow(t *testing.T, rows []domain.ScoringLookupEntry, locus domain.Locus, name string, method domain.TypingMethod) domain.ScoringLookupEntry {
	t.Helper()
	for _, row := range rows {
		if row.Locus == locus && row.LookupName == name && row.Method == method {
			return row
		}
	}
	t.Fatalf("scoring row %s %s %s not found", locus, name, method)
	return domain.ScoringLookupEntry{}
}

type expectedMatch struct {
	name       string
	unexpected bool
	direct     bool
}

func matchSummary(entries []domain.MatchingSerology) []expectedMatch {
	out := make([]expectedMatch, 0, len(entries))
	for _, e := range entries {
		out = append(out, expectedMatch{name: e.Serology.Name, unexpected: e.IsUnexpected, direct: e.IsDirectMapping})
	}
	return out
}
