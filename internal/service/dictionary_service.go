package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hla-matching-dictionary/internal/caching"
	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/repository"
	"github.com/hla-matching-dictionary/pkg/nomenclature"
)

// Lookup tables and outcomes reported to a DictionaryObserver.
const (
	TableMatching = "matching"
	TableScoring  = "scoring"

	OutcomeFound     = "found"
	OutcomeNotFound  = "not_found"
	OutcomeMalformed = "malformed"
)

// DictionaryObserver receives build and lookup events.
type DictionaryObserver interface {
	BuildObserver
	BuildCompleted(version string, elapsed time.Duration, err error)
	TablesCompiled(version string, matchingRows, scoringRows int)
	LookupCompleted(table, outcome string)
}

type nopDictionaryObserver struct{ nopObserver }

func (nopDictionaryObserver) BuildCompleted(string, time.Duration, error) {}
func (nopDictionaryObserver) TablesCompiled(string, int, int)             {}
func (nopDictionaryObserver) LookupCompleted(string, string)              {}

// SnapshotLoader reads persisted dictionary snapshots.
type SnapshotLoader interface {
	Load(ctx context.Context, version string) (*domain.DictionarySnapshot, error)
}

// dictionary is one registered snapshot with its lookup indexes.
type dictionary struct {
	snapshot   *domain.DictionarySnapshot
	alleles    map[domain.TypingKey]*domain.MatchedAllele
	serologies map[domain.TypingKey]*domain.MatchedSerology
	matching   map[domain.LookupKey]int
	scoring    map[domain.LookupKey]int
}

func indexSnapshot(snapshot *domain.DictionarySnapshot) (*dictionary, error) {
	d := &dictionary{
		snapshot:   snapshot,
		alleles:    make(map[domain.TypingKey]*domain.MatchedAllele, len(snapshot.MatchedAlleles)),
		serologies: make(map[domain.TypingKey]*domain.MatchedSerology, len(snapshot.MatchedSerologies)),
		matching:   make(map[domain.LookupKey]int, len(snapshot.MatchingLookup)),
		scoring:    make(map[domain.LookupKey]int, len(snapshot.ScoringLookup)),
	}
	for _, a := range snapshot.MatchedAlleles {
		if _, dup := d.alleles[a.Allele.Key()]; dup {
			return nil, fmt.Errorf("duplicate matched allele %s: %w", a.Allele.Key(), domain.ErrMalformedDictionary)
		}
		d.alleles[a.Allele.Key()] = a
	}
	for _, s := range snapshot.MatchedSerologies {
		if _, dup := d.serologies[s.Serology.Key()]; dup {
			return nil, fmt.Errorf("duplicate matched serology %s: %w", s.Serology.Key(), domain.ErrMalformedDictionary)
		}
		d.serologies[s.Serology.Key()] = s
	}
	for i, row := range snapshot.MatchingLookup {
		if _, dup := d.matching[row.Key()]; dup {
			return nil, fmt.Errorf("duplicate matching lookup row %s/%s: %w", row.Locus, row.LookupName, domain.ErrMalformedDictionary)
		}
		d.matching[row.Key()] = i
	}
	for i, row := range snapshot.ScoringLookup {
		if row.Info == nil {
			return nil, fmt.Errorf("scoring lookup row %s/%s has no payload: %w", row.Locus, row.LookupName, domain.ErrMalformedDictionary)
		}
		if _, dup := d.scoring[row.Key()]; dup {
			return nil, fmt.Errorf("duplicate scoring lookup row %s/%s: %w", row.Locus, row.LookupName, domain.ErrMalformedDictionary)
		}
		d.scoring[row.Key()] = i
	}
	return d, nil
}

// DictionaryService builds and serves immutable dictionary snapshots, one per
// nomenclature version. Every query names the version it is pinned to.
type DictionaryService struct {
	logger      *logrus.Logger
	workers     int
	observer    DictionaryObserver
	projections *caching.ProjectionCache

	mu           sync.RWMutex
	dictionaries map[string]*dictionary
}

// ServiceOption configures a DictionaryService.
type ServiceOption func(*DictionaryService)

// WithBuildWorkers bounds build parallelism.
func WithBuildWorkers(n int) ServiceOption {
	return func(s *DictionaryService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithObserver sets the build and lookup observer.
func WithObserver(o DictionaryObserver) ServiceOption {
	return func(s *DictionaryService) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithProjectionCache sets the G-Group projection cache.
func WithProjectionCache(c *caching.ProjectionCache) ServiceOption {
	return func(s *DictionaryService) {
		if c != nil {
			s.projections = c
		}
	}
}

// NewDictionaryService creates an empty service.
func NewDictionaryService(logger *logrus.Logger, opts ...ServiceOption) (*DictionaryService, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &DictionaryService{
		logger:       logger,
		workers:      runtime.GOMAXPROCS(0),
		observer:     nopDictionaryObserver{},
		dictionaries: make(map[string]*dictionary),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.projections == nil {
		cache, err := caching.NewProjectionCache(64, logger)
		if err != nil {
			return nil, err
		}
		s.projections = cache
	}
	return s, nil
}

// Build computes the dictionary of one release, registers it under the
// release version and returns it. A failed build registers nothing.
func (s *DictionaryService) Build(ctx context.Context, repo *repository.RelationshipRepository, exceptions domain.SerologyExceptions) (*domain.DictionarySnapshot, error) {
	start := time.Now()
	version := repo.Version()

	builder := NewMatchedHlaBuilder(repo, exceptions, s.logger, WithWorkers(s.workers), WithBuildObserver(s.observer))
	matched, err := builder.Build(ctx)
	if err != nil {
		s.observer.BuildCompleted(version, time.Since(start), err)
		return nil, err
	}

	phaseStart := time.Now()
	snapshot := &domain.DictionarySnapshot{
		Version:           version,
		BuildID:           uuid.NewString(),
		BuiltAt:           time.Now().UTC(),
		MatchedAlleles:    matched.Alleles,
		MatchedSerologies: matched.Serologies,
		MatchingLookup:    CompileMatchingLookup(matched.Alleles, matched.Serologies),
		ScoringLookup:     CompileScoringLookup(matched.Alleles, matched.Serologies),
	}
	s.observer.PhaseCompleted(PhaseLookupCompile, time.Since(phaseStart), len(snapshot.MatchingLookup)+len(snapshot.ScoringLookup))

	if err := s.Register(snapshot); err != nil {
		s.observer.BuildCompleted(version, time.Since(start), err)
		return nil, err
	}
	s.observer.BuildCompleted(version, time.Since(start), nil)

	s.logger.WithFields(logrus.Fields{
		"version":       version,
		"build_id":      snapshot.BuildID,
		"matching_rows": len(snapshot.MatchingLookup),
		"scoring_rows":  len(snapshot.ScoringLookup),
		"duration":      time.Since(start),
	}).Info("Dictionary built")
	return snapshot, nil
}

// Register indexes a snapshot and makes it queryable, replacing any snapshot
// already registered for the same version.
func (s *DictionaryService) Register(snapshot *domain.DictionarySnapshot) error {
	if snapshot == nil || snapshot.Version == "" {
		return domain.NewValidationError("version", "dictionary snapshot has no version", "")
	}
	d, err := indexSnapshot(snapshot)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.dictionaries[snapshot.Version] = d
	s.mu.Unlock()

	s.projections.PurgeVersion(snapshot.Version)
	s.observer.TablesCompiled(snapshot.Version, len(snapshot.MatchingLookup), len(snapshot.ScoringLookup))
	return nil
}

// Restore loads a persisted snapshot and registers it.
func (s *DictionaryService) Restore(ctx context.Context, loader SnapshotLoader, version string) (*domain.DictionarySnapshot, error) {
	snapshot, err := loader.Load(ctx, version)
	if err != nil {
		return nil, err
	}
	if err := s.Register(snapshot); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"version":  version,
		"build_id": snapshot.BuildID,
	}).Info("Dictionary restored")
	return snapshot, nil
}

// Versions lists the registered nomenclature versions.
func (s *DictionaryService) Versions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := make([]string, 0, len(s.dictionaries))
	for v := range s.dictionaries {
		versions = append(versions, v)
	}
	nomenclature.SortVersions(versions)
	return versions
}

func (s *DictionaryService) dictionary(version string) (*dictionary, error) {
	s.mu.RLock()
	d, ok := s.dictionaries[version]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dictionary %q: %w", version, domain.ErrVersionNotFound)
	}
	return d, nil
}

// Snapshot returns the registered snapshot of a version.
func (s *DictionaryService) Snapshot(version string) (*domain.DictionarySnapshot, error) {
	d, err := s.dictionary(version)
	if err != nil {
		return nil, err
	}
	return d.snapshot, nil
}

// GetMatchedAlleles returns every matched allele of a version.
func (s *DictionaryService) GetMatchedAlleles(version string) ([]*domain.MatchedAllele, error) {
	d, err := s.dictionary(version)
	if err != nil {
		return nil, err
	}
	return d.snapshot.MatchedAlleles, nil
}

// GetMatchedSerologies returns every matched antigen of a version.
func (s *DictionaryService) GetMatchedSerologies(version string) ([]*domain.MatchedSerology, error) {
	d, err := s.dictionary(version)
	if err != nil {
		return nil, err
	}
	return d.snapshot.MatchedSerologies, nil
}

// GetMatchingLookupTable returns the matching-lookup rows of a version.
func (s *DictionaryService) GetMatchingLookupTable(version string) ([]domain.MatchingLookupEntry, error) {
	d, err := s.dictionary(version)
	if err != nil {
		return nil, err
	}
	return d.snapshot.MatchingLookup, nil
}

// GetScoringLookupTable returns the scoring-lookup rows of a version.
func (s *DictionaryService) GetScoringLookupTable(version string) ([]domain.ScoringLookupEntry, error) {
	d, err := s.dictionary(version)
	if err != nil {
		return nil, err
	}
	return d.snapshot.ScoringLookup, nil
}

// GetMatchedAllele returns the record of one allele.
func (s *DictionaryService) GetMatchedAllele(version string, locus domain.Locus, name string) (*domain.MatchedAllele, error) {
	d, err := s.dictionary(version)
	if err != nil {
		return nil, err
	}
	_, name = nomenclature.SplitLocusMarker(name)
	a, ok := d.alleles[domain.TypingKey{Locus: locus, Name: name, Method: domain.Molecular}]
	if !ok {
		return nil, fmt.Errorf("allele %s*%s: %w", locus, name, domain.ErrNotFound)
	}
	return a, nil
}

// GetMatchedSerology returns the record of one antigen.
func (s *DictionaryService) GetMatchedSerology(version string, locus domain.Locus, name string) (*domain.MatchedSerology, error) {
	d, err := s.dictionary(version)
	if err != nil {
		return nil, err
	}
	m, ok := d.serologies[domain.TypingKey{Locus: locus, Name: name, Method: domain.Serology}]
	if !ok {
		return nil, fmt.Errorf("serology %s %s: %w", locus, name, domain.ErrNotFound)
	}
	return m, nil
}

func lookupKey(locus domain.Locus, name string, method domain.TypingMethod) domain.LookupKey {
	if method == domain.Molecular {
		_, name = nomenclature.SplitLocusMarker(name)
	}
	return domain.LookupKey{Locus: locus, LookupName: name, Method: method}
}

// LookupMatching finds a matching-lookup row. Molecular names may carry a
// locus marker ("A*01:01").
func (s *DictionaryService) LookupMatching(version string, locus domain.Locus, name string, method domain.TypingMethod) (domain.MatchingLookupEntry, error) {
	d, err := s.dictionary(version)
	if err != nil {
		return domain.MatchingLookupEntry{}, err
	}
	key := lookupKey(locus, name, method)
	i, ok := d.matching[key]
	if !ok {
		s.observer.LookupCompleted(TableMatching, OutcomeNotFound)
		return domain.MatchingLookupEntry{}, fmt.Errorf("matching lookup %s %s %s: %w", locus, key.LookupName, method, domain.ErrNotFound)
	}
	s.observer.LookupCompleted(TableMatching, OutcomeFound)
	return d.snapshot.MatchingLookup[i], nil
}

// LookupScoring finds the scoring payload of a name.
func (s *DictionaryService) LookupScoring(version string, locus domain.Locus, name string, method domain.TypingMethod) (domain.ScoringInfo, error) {
	d, err := s.dictionary(version)
	if err != nil {
		return nil, err
	}
	key := lookupKey(locus, name, method)
	i, ok := d.scoring[key]
	if !ok {
		s.observer.LookupCompleted(TableScoring, OutcomeNotFound)
		return nil, fmt.Errorf("scoring lookup %s %s %s: %w", locus, key.LookupName, method, domain.ErrNotFound)
	}
	s.observer.LookupCompleted(TableScoring, OutcomeFound)
	return d.snapshot.ScoringLookup[i].Info, nil
}

// ScoringInfoForAlleleString composes a multiple-allele payload for an
// ambiguous typing such as "01:01/01:02". Every listed allele must be a
// catalogued full allele name.
func (s *DictionaryService) ScoringInfoForAlleleString(version string, locus domain.Locus, alleleString string) (domain.ScoringInfo, error) {
	d, err := s.dictionary(version)
	if err != nil {
		return nil, err
	}
	names, err := nomenclature.ParseAlleleStringAt(locus, alleleString)
	if err != nil {
		return nil, err
	}

	singles := make([]domain.SingleAlleleScoringInfo, 0, len(names))
	for _, name := range names {
		a, ok := d.alleles[domain.TypingKey{Locus: locus, Name: name, Method: domain.Molecular}]
		if !ok {
			s.observer.LookupCompleted(TableScoring, OutcomeNotFound)
			return nil, fmt.Errorf("allele %s*%s in allele string: %w", locus, name, domain.ErrNotFound)
		}
		singles = append(singles, SingleAlleleInfo(a))
	}
	s.observer.LookupCompleted(TableScoring, OutcomeFound)
	return MultipleAlleleInfo(singles), nil
}

// GGroupToPGroup returns the P-Group a G-Group decomposes to, or "" when the
// G-Group has none. The projection of each (locus, version) is computed at
// most once and cached.
func (s *DictionaryService) GGroupToPGroup(ctx context.Context, version string, locus domain.Locus, gGroup string) (string, error) {
	d, err := s.dictionary(version)
	if err != nil {
		return "", err
	}
	key := caching.ProjectionKey{Locus: locus, Version: version, BuildID: d.snapshot.BuildID}
	projection, err := s.projections.GetOrCompute(ctx, key, func(context.Context) (caching.Projection, error) {
		if err := CheckGGroupToPGroupMultiplicity(d.snapshot.MatchedAlleles); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedDictionary, err)
		}
		return GGroupToPGroup(d.snapshot.MatchedAlleles, locus), nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrMalformedDictionary) {
			s.observer.LookupCompleted(TableMatching, OutcomeMalformed)
		}
		return "", err
	}
	p, ok := projection[gGroup]
	if !ok {
		return "", fmt.Errorf("G-Group %s %s: %w", locus, gGroup, domain.ErrNotFound)
	}
	return p, nil
}
