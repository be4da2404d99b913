package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/repository"
)

// Build phases reported to a BuildObserver.
const (
	PhaseSerologyFamilies = "serology_families"
	PhaseMatchedAlleles   = "matched_alleles"
	PhaseGroupCheck       = "group_check"
	PhaseMatchedSerology  = "matched_serologies"
	PhaseLookupCompile    = "lookup_compile"
)

// BuildObserver receives per-phase timings of a dictionary build.
type BuildObserver interface {
	PhaseCompleted(phase string, elapsed time.Duration, items int)
}

type nopObserver struct{}

func (nopObserver) PhaseCompleted(string, time.Duration, int) {}

// MatchedHla is the output of one build: a record per catalogued typing.
type MatchedHla struct {
	Version    string
	Alleles    []*domain.MatchedAllele
	Serologies []*domain.MatchedSerology
}

// MatchedHlaBuilder resolves every allele and every antigen of a release in
// parallel. The repository is shared read-only by all workers.
type MatchedHlaBuilder struct {
	repo       *repository.RelationshipRepository
	exceptions domain.SerologyExceptions
	workers    int
	logger     *logrus.Logger
	observer   BuildObserver
}

// BuilderOption configures a MatchedHlaBuilder.
type BuilderOption func(*MatchedHlaBuilder)

// WithWorkers bounds the number of concurrent resolutions.
func WithWorkers(n int) BuilderOption {
	return func(b *MatchedHlaBuilder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithBuildObserver sets the phase observer.
func WithBuildObserver(o BuildObserver) BuilderOption {
	return func(b *MatchedHlaBuilder) {
		if o != nil {
			b.observer = o
		}
	}
}

// NewMatchedHlaBuilder creates a builder for one release.
func NewMatchedHlaBuilder(repo *repository.RelationshipRepository, exceptions domain.SerologyExceptions, logger *logrus.Logger, opts ...BuilderOption) *MatchedHlaBuilder {
	if logger == nil {
		logger = logrus.New()
	}
	b := &MatchedHlaBuilder{
		repo:       repo,
		exceptions: exceptions,
		workers:    runtime.GOMAXPROCS(0),
		logger:     logger,
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build resolves the whole release. The first failure cancels the remaining
// work and is returned; no partial output is ever produced.
func (b *MatchedHlaBuilder) Build(ctx context.Context) (*MatchedHla, error) {
	start := time.Now()
	b.logger.WithFields(logrus.Fields{
		"version":    b.repo.Version(),
		"alleles":    len(b.repo.Alleles()),
		"serologies": len(b.repo.Serologies()),
		"workers":    b.workers,
	}).Info("Building matched HLA")

	families, err := b.resolveFamilies(ctx)
	if err != nil {
		return nil, b.fail(err)
	}

	mapper := NewSerologyMapper(b.repo, families, b.exceptions)
	aggregator := NewGroupAggregator(b.repo, mapper)

	phaseStart := time.Now()
	alleles, err := parallelMap(ctx, b.workers, b.repo.Alleles(), func(_ context.Context, allele domain.AlleleTyping) (*domain.MatchedAllele, error) {
		return buildMatchedAllele(allele, mapper, aggregator)
	})
	if err != nil {
		return nil, b.fail(err)
	}
	b.phaseDone(PhaseMatchedAlleles, phaseStart, len(alleles))

	phaseStart = time.Now()
	if err := CheckGGroupToPGroupMultiplicity(alleles); err != nil {
		return nil, b.fail(err)
	}
	b.phaseDone(PhaseGroupCheck, phaseStart, len(alleles))

	phaseStart = time.Now()
	serologies, err := parallelMap(ctx, b.workers, b.repo.Serologies(), func(_ context.Context, serology domain.SerologyTyping) (*domain.MatchedSerology, error) {
		return buildMatchedSerology(serology, families, aggregator)
	})
	if err != nil {
		return nil, b.fail(err)
	}
	b.phaseDone(PhaseMatchedSerology, phaseStart, len(serologies))

	sort.Slice(alleles, func(i, j int) bool { return alleles[i].Allele.Key().Less(alleles[j].Allele.Key()) })
	sort.Slice(serologies, func(i, j int) bool { return serologies[i].Serology.Key().Less(serologies[j].Serology.Key()) })

	b.logger.WithFields(logrus.Fields{
		"version":    b.repo.Version(),
		"alleles":    len(alleles),
		"serologies": len(serologies),
		"duration":   time.Since(start),
	}).Info("Matched HLA built")

	return &MatchedHla{Version: b.repo.Version(), Alleles: alleles, Serologies: serologies}, nil
}

func (b *MatchedHlaBuilder) resolveFamilies(ctx context.Context) (familyTable, error) {
	phaseStart := time.Now()
	resolver := NewSerologyFamilyResolver(b.repo, b.logger)
	resolved, err := parallelMap(ctx, b.workers, b.repo.Serologies(), func(_ context.Context, serology domain.SerologyTyping) (SerologyFamily, error) {
		return resolver.ResolveFamily(serology)
	})
	if err != nil {
		return nil, err
	}
	table := make(familyTable, len(resolved))
	for _, family := range resolved {
		table[family.Serology.Key()] = family
	}
	b.phaseDone(PhaseSerologyFamilies, phaseStart, len(table))
	return table, nil
}

func (b *MatchedHlaBuilder) phaseDone(phase string, start time.Time, items int) {
	elapsed := time.Since(start)
	b.observer.PhaseCompleted(phase, elapsed, items)
	b.logger.WithFields(logrus.Fields{
		"phase":    phase,
		"items":    items,
		"duration": elapsed,
	}).Debug("Build phase completed")
}

func (b *MatchedHlaBuilder) fail(err error) error {
	fields := logrus.Fields{"version": b.repo.Version(), "error": err}
	var integrity *domain.DataIntegrityError
	if errors.As(err, &integrity) {
		fields["code"] = integrity.Code
		fields["locus"] = integrity.Locus
		fields["typing"] = integrity.Typing
	}
	b.logger.WithFields(fields).Error("Matched HLA build aborted")
	return fmt.Errorf("building matched HLA for %s: %w", b.repo.Version(), err)
}

func buildMatchedAllele(allele domain.AlleleTyping, mapper *SerologyMapper, aggregator *GroupAggregator) (*domain.MatchedAllele, error) {
	groups, err := aggregator.GroupsForAllele(allele)
	if err != nil {
		return nil, err
	}
	serologies, err := mapper.MatchingSerologies(allele)
	if err != nil {
		return nil, err
	}
	return &domain.MatchedAllele{
		Allele:               allele,
		TypingUsedInMatching: groups.UsedInMatching,
		PGroups:              groups.PGroups(),
		GGroups:              groups.GGroups(),
		Serologies:           serologies,
	}, nil
}

func buildMatchedSerology(serology domain.SerologyTyping, families FamilyProvider, aggregator *GroupAggregator) (*domain.MatchedSerology, error) {
	family, err := families.Family(serology.Locus, serology.Name)
	if err != nil {
		return nil, err
	}
	pGroups, gGroups, err := aggregator.GroupsForSerology(serology)
	if err != nil {
		return nil, err
	}

	matching := make([]domain.MatchingSerology, 0, len(family.Members))
	for _, member := range family.Members {
		matching = append(matching, domain.MatchingSerology{
			Serology:        member,
			IsDirectMapping: member.IsSameAntigen(serology) || member.IsSameAntigen(family.UsedInMatching),
		})
	}
	domain.SortMatchingSerologies(matching)

	return &domain.MatchedSerology{
		Serology:             serology,
		TypingUsedInMatching: family.UsedInMatching,
		PGroups:              pGroups,
		GGroups:              gGroups,
		Serologies:           matching,
	}, nil
}

// parallelMap applies fn to every item with at most workers goroutines.
// Results keep the input order. The first error cancels the rest.
func parallelMap[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		i, item := i, item
		g.Go(func() error {
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
