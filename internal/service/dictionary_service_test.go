package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hla-matching-dictionary/internal/caching"
	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/repository"
	"github.com/hla-matching-dictionary/internal/testutil"
)

type MockSnapshotLoader struct {
	mock.Mock
}

func (m *MockSnapshotLoader) Load(ctx context.Context, version string) (*domain.DictionarySnapshot, error) {
	args := m.Called(ctx, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DictionarySnapshot), args.Error(1)
}

type countingObserver struct {
	recordingObserver
	mu       sync.Mutex
	builds   map[bool]int
	lookups  map[string]int
	cacheHit int
}

func (o *countingObserver) BuildCompleted(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.builds == nil {
		o.builds = map[bool]int{}
	}
	o.builds[err == nil]++
}

func (o *countingObserver) TablesCompiled(string, int, int) {}

func (o *countingObserver) LookupCompleted(table, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lookups == nil {
		o.lookups = map[string]int{}
	}
	o.lookups[table+"/"+outcome]++
}

func (o *countingObserver) CacheHit(tier string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if tier == caching.TierMemory {
		o.cacheHit++
	}
}

func (o *countingObserver) CacheMiss(string) {}

func newService(t *testing.T, opts ...ServiceOption) *DictionaryService {
	t.Helper()
	svc, err := NewDictionaryService(quietLogger(), opts...)
	require.NoError(t, err)
	return svc
}

func builtService(t *testing.T, opts ...ServiceOption) (*DictionaryService, *domain.DictionarySnapshot) {
	t.Helper()
	svc := newService(t, opts...)
	snapshot, err := svc.Build(context.Background(), fixtureRepo(t), testutil.SerologyExceptions())
	require.NoError(t, err)
	return svc, snapshot
}

func TestDictionaryService_Build(t *testing.T) {
	observer := &countingObserver{}
	svc, snapshot := builtService(t, WithObserver(observer), WithBuildWorkers(3))

	assert.Equal(t, []string{testutil.FixtureVersion}, svc.Versions())
	assert.Equal(t, testutil.FixtureVersion, snapshot.Version)
	_, err := uuid.Parse(snapshot.BuildID)
	assert.NoError(t, err)
	assert.False(t, snapshot.BuiltAt.IsZero())
	assert.NotEmpty(t, snapshot.MatchingLookup)
	assert.NotEmpty(t, snapshot.ScoringLookup)
	assert.Equal(t, 1, observer.builds[true])
	assert.Contains(t, observer.phases, PhaseLookupCompile)

	registered, err := svc.Snapshot(testutil.FixtureVersion)
	require.NoError(t, err)
	assert.Same(t, snapshot, registered)

	alleles, err := svc.GetMatchedAlleles(testutil.FixtureVersion)
	require.NoError(t, err)
	assert.Len(t, alleles, len(testutil.NomenclatureSnapshot().Alleles))

	serologies, err := svc.GetMatchedSerologies(testutil.FixtureVersion)
	require.NoError(t, err)
	assert.Len(t, serologies, len(testutil.NomenclatureSnapshot().Serologies))

	matching, err := svc.GetMatchingLookupTable(testutil.FixtureVersion)
	require.NoError(t, err)
	assert.Equal(t, snapshot.MatchingLookup, matching)

	scoring, err := svc.GetScoringLookupTable(testutil.FixtureVersion)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ScoringLookup, scoring)
}

func TestDictionaryService_FailedBuildRegistersNothing(t *testing.T) {
	snapshot := testutil.NomenclatureSnapshot()
	snapshot.Serologies = append(snapshot.Serologies,
		repository.SerologyRecord{Locus: "A", Name: "9", Subtype: domain.SubtypeBroad},
		repository.SerologyRecord{Locus: "A", Name: "23", Subtype: domain.SubtypeSplit},
	)
	snapshot.Relationships = append(snapshot.Relationships,
		repository.SerologyRelationship{Locus: "A", ParentName: "9", ChildName: "23", ChildSubtype: domain.SubtypeSplit},
	)

	observer := &countingObserver{}
	svc := newService(t, WithObserver(observer))
	built, err := svc.Build(context.Background(), newRepo(t, snapshot), testutil.SerologyExceptions())
	require.Error(t, err)
	assert.Nil(t, built)
	assert.True(t, errors.Is(err, domain.ErrDataIntegrity))
	assert.Empty(t, svc.Versions())
	assert.Equal(t, 1, observer.builds[false])

	_, err = svc.Snapshot(testutil.FixtureVersion)
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
}

func TestDictionaryService_UnknownVersion(t *testing.T) {
	svc, _ := builtService(t)

	_, err := svc.LookupMatching("0.0.0", domain.LocusA, "01:01", domain.Molecular)
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
	_, err = svc.LookupScoring("0.0.0", domain.LocusA, "01:01", domain.Molecular)
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
	_, err = svc.GetMatchedAllele("0.0.0", domain.LocusA, "01:01:01:01")
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
	_, err = svc.GGroupToPGroup(context.Background(), "0.0.0", domain.LocusA, "01:01:01G")
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
}

func TestDictionaryService_LookupMatching(t *testing.T) {
	observer := &countingObserver{}
	svc, _ := builtService(t, WithObserver(observer))
	version := testutil.FixtureVersion

	bare, err := svc.LookupMatching(version, domain.LocusA, "01:01", domain.Molecular)
	require.NoError(t, err)
	marked, err := svc.LookupMatching(version, domain.LocusA, "A*01:01", domain.Molecular)
	require.NoError(t, err)
	assert.Equal(t, bare, marked)
	assert.Equal(t, domain.TwoFieldAllele, bare.MolecularSubtype)

	broad, err := svc.LookupMatching(version, domain.LocusA, "19", domain.Serology)
	require.NoError(t, err)
	assert.Equal(t, []string{"19", "29", "30"}, broad.Serologies)

	_, err = svc.LookupMatching(version, domain.LocusA, "99:99", domain.Molecular)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.LookupMatching(version, domain.LocusB, "19", domain.Serology)
	assert.ErrorIs(t, err, domain.ErrNotFound, "serology lookups are locus scoped")

	assert.Equal(t, 3, observer.lookups[TableMatching+"/"+OutcomeFound])
	assert.Equal(t, 2, observer.lookups[TableMatching+"/"+OutcomeNotFound])
}

func TestDictionaryService_LookupScoring(t *testing.T) {
	svc, _ := builtService(t)
	version := testutil.FixtureVersion

	info, err := svc.LookupScoring(version, domain.LocusB, "B*07", domain.Molecular)
	require.NoError(t, err)
	assert.Equal(t, domain.ScoringConsolidatedMolecular, info.Kind())
	assert.Equal(t, []string{"07:02P", "07:03"}, info.MatchingPGroups())

	info, err = svc.LookupScoring(version, domain.LocusC, "11", domain.Serology)
	require.NoError(t, err)
	assert.Equal(t, domain.ScoringSerology, info.Kind())

	_, err = svc.LookupScoring(version, domain.LocusDpb1, "01:01:01", domain.Serology)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDictionaryService_GetMatchedTypings(t *testing.T) {
	svc, _ := builtService(t)
	version := testutil.FixtureVersion

	allele, err := svc.GetMatchedAllele(version, domain.LocusB, "B*39:01:01:02L")
	require.NoError(t, err)
	assert.Equal(t, []string{"39:01P"}, allele.PGroups)

	serology, err := svc.GetMatchedSerology(version, domain.LocusDrb1, "3")
	require.NoError(t, err)
	assert.Equal(t, domain.SubtypeBroad, serology.Serology.Subtype)

	_, err = svc.GetMatchedAllele(version, domain.LocusB, "01:01:01:01")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.GetMatchedSerology(version, domain.LocusA, "3")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDictionaryService_ScoringInfoForAlleleString(t *testing.T) {
	svc, _ := builtService(t)
	version := testutil.FixtureVersion

	info, err := svc.ScoringInfoForAlleleString(version, domain.LocusA, "A*01:02/01:01:01:01")
	require.NoError(t, err)
	assert.Equal(t, domain.ScoringMultipleAllele, info.Kind())
	assert.Equal(t, []string{"01:01P", "01:02P"}, info.MatchingPGroups())

	singles, err := info.TryDecomposeToSingleAlleles()
	require.NoError(t, err)
	require.Len(t, singles, 2)
	assert.Equal(t, "01:01:01:01", singles[0].AlleleName)
	assert.Equal(t, "01:02", singles[1].AlleleName)

	_, err = svc.ScoringInfoForAlleleString(version, domain.LocusA, "01:02/99:99")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	info, err = svc.ScoringInfoForAlleleString(version, domain.LocusA, "A*01:02/A*01:01:01:01")
	require.NoError(t, err, "every entry may carry the locus marker")
	assert.Equal(t, []string{"01:01P", "01:02P"}, info.MatchingPGroups())

	_, err = svc.ScoringInfoForAlleleString(version, domain.LocusA, "01:02")
	var validation *domain.ValidationError
	assert.True(t, errors.As(err, &validation))

	_, err = svc.ScoringInfoForAlleleString(version, domain.LocusA, "A*01:02/B*07:02:01")
	assert.True(t, errors.As(err, &validation), "entries at another locus are malformed, not missing")
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.ScoringInfoForAlleleString(version, domain.LocusA, "B*07:02:01/07:03")
	assert.True(t, errors.As(err, &validation))
}

func TestDictionaryService_GGroupToPGroup(t *testing.T) {
	observer := &countingObserver{}
	cache, err := caching.NewProjectionCache(8, quietLogger(), caching.WithStatsObserver(observer))
	require.NoError(t, err)
	svc, snapshot := builtService(t, WithProjectionCache(cache))
	ctx := context.Background()
	version := testutil.FixtureVersion

	p, err := svc.GGroupToPGroup(ctx, version, domain.LocusA, "01:01:01G")
	require.NoError(t, err)
	assert.Equal(t, "01:01P", p)

	p, err = svc.GGroupToPGroup(ctx, version, domain.LocusB, "39:01:01G")
	require.NoError(t, err)
	assert.Equal(t, "39:01P", p)

	p, err = svc.GGroupToPGroup(ctx, version, domain.LocusA, "29:01:01G")
	require.NoError(t, err)
	assert.Equal(t, "29:01P", p)
	assert.Equal(t, 1, observer.cacheHit, "second A query is served from memory")
	assert.Equal(t, 2, cache.Len())

	_, err = svc.GGroupToPGroup(ctx, version, domain.LocusA, "39:01:01G")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.Register(snapshot))
	assert.Equal(t, 0, cache.Len(), "re-registering a version drops its projections")
}

// memoryTier is a shared projection tier that outlives service registrations.
type memoryTier struct {
	mu          sync.Mutex
	projections map[caching.ProjectionKey]caching.Projection
}

func (m *memoryTier) Get(_ context.Context, key caching.ProjectionKey) (caching.Projection, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projections[key]
	return p, ok, nil
}

func (m *memoryTier) Set(_ context.Context, key caching.ProjectionKey, p caching.Projection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projections[key] = p
	return nil
}

func TestDictionaryService_RebuildIgnoresRemoteProjectionOfOldBuild(t *testing.T) {
	tier := &memoryTier{projections: map[caching.ProjectionKey]caching.Projection{}}
	cache, err := caching.NewProjectionCache(8, quietLogger(), caching.WithTier(tier))
	require.NoError(t, err)
	svc, snapshot := builtService(t, WithProjectionCache(cache))
	ctx := context.Background()

	_, err = svc.GGroupToPGroup(ctx, snapshot.Version, domain.LocusA, "01:01:01G")
	require.NoError(t, err)
	oldKey := caching.ProjectionKey{Locus: domain.LocusA, Version: snapshot.Version, BuildID: snapshot.BuildID}
	require.Contains(t, tier.projections, oldKey)

	tier.projections[oldKey] = caching.Projection{"01:01:01G": "stale"}
	rebuilt := *snapshot
	rebuilt.BuildID = uuid.NewString()
	require.NoError(t, svc.Register(&rebuilt))

	p, err := svc.GGroupToPGroup(ctx, snapshot.Version, domain.LocusA, "01:01:01G")
	require.NoError(t, err)
	assert.Equal(t, "01:01P", p)
	assert.Contains(t, tier.projections, caching.ProjectionKey{Locus: domain.LocusA, Version: snapshot.Version, BuildID: rebuilt.BuildID})
}

func TestDictionaryService_GGroupToPGroupMalformed(t *testing.T) {
	_, snapshot := builtService(t)

	var alleles []*domain.MatchedAllele
	for _, a := range snapshot.MatchedAlleles {
		copied := *a
		alleles = append(alleles, &copied)
	}
	for _, a := range alleles {
		if a.Allele.Locus == domain.LocusA && a.Allele.Name == "01:01:01:02" {
			a.PGroups = []string{"01:01:02P"}
		}
	}
	tampered := *snapshot
	tampered.MatchedAlleles = alleles

	observer := &countingObserver{}
	svc := newService(t, WithObserver(observer))
	require.NoError(t, svc.Register(&tampered))

	_, err := svc.GGroupToPGroup(context.Background(), snapshot.Version, domain.LocusA, "01:01:01G")
	assert.ErrorIs(t, err, domain.ErrMalformedDictionary)
	assert.Equal(t, 1, observer.lookups[TableMatching+"/"+OutcomeMalformed])
}

func TestDictionaryService_RegisterRejectsMalformedSnapshots(t *testing.T) {
	_, snapshot := builtService(t)
	svc := newService(t)

	t.Run("no version", func(t *testing.T) {
		var validation *domain.ValidationError
		assert.True(t, errors.As(svc.Register(&domain.DictionarySnapshot{}), &validation))
		assert.True(t, errors.As(svc.Register(nil), &validation))
	})

	t.Run("duplicate matched allele", func(t *testing.T) {
		tampered := *snapshot
		tampered.MatchedAlleles = append(append([]*domain.MatchedAllele(nil), snapshot.MatchedAlleles...), snapshot.MatchedAlleles[0])
		assert.ErrorIs(t, svc.Register(&tampered), domain.ErrMalformedDictionary)
	})

	t.Run("duplicate matching row", func(t *testing.T) {
		tampered := *snapshot
		tampered.MatchingLookup = append(append([]domain.MatchingLookupEntry(nil), snapshot.MatchingLookup...), snapshot.MatchingLookup[0])
		assert.ErrorIs(t, svc.Register(&tampered), domain.ErrMalformedDictionary)
	})

	t.Run("scoring row without payload", func(t *testing.T) {
		tampered := *snapshot
		tampered.ScoringLookup = append(append([]domain.ScoringLookupEntry(nil), snapshot.ScoringLookup...),
			domain.ScoringLookupEntry{Locus: domain.LocusA, LookupName: "99:99", Method: domain.Molecular})
		assert.ErrorIs(t, svc.Register(&tampered), domain.ErrMalformedDictionary)
	})

	assert.Empty(t, svc.Versions())
}

func TestDictionaryService_Restore(t *testing.T) {
	_, snapshot := builtService(t)
	ctx := context.Background()

	loader := &MockSnapshotLoader{}
	loader.On("Load", ctx, snapshot.Version).Return(snapshot, nil)
	loader.On("Load", ctx, "9.9.9").Return(nil, domain.ErrVersionNotFound)

	svc := newService(t)
	restored, err := svc.Restore(ctx, loader, snapshot.Version)
	require.NoError(t, err)
	assert.Equal(t, snapshot.BuildID, restored.BuildID)
	assert.Equal(t, []string{snapshot.Version}, svc.Versions())

	row, err := svc.LookupMatching(snapshot.Version, domain.LocusB, "21", domain.Serology)
	require.NoError(t, err)
	assert.Equal(t, []string{"21", "4005", "49", "50"}, row.Serologies)

	_, err = svc.Restore(ctx, loader, "9.9.9")
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
	assert.Equal(t, []string{snapshot.Version}, svc.Versions())
	loader.AssertExpectations(t)
}
