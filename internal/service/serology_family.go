package service

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/repository"
)

// SerologyFamily is the set of antigens one serology typing matches.
type SerologyFamily struct {
	// Serology is the typing the family was requested for.
	Serology domain.SerologyTyping
	// UsedInMatching is Serology itself, or the antigen a deleted typing
	// resolves to through its identical antigen chain.
	UsedInMatching domain.SerologyTyping
	// Members holds every matched antigen, UsedInMatching and (for deleted
	// typings) Serology included, ordered by key.
	Members []domain.SerologyTyping
}

// Contains reports whether the family has a member with the given name.
func (f SerologyFamily) Contains(name string) bool {
	for _, m := range f.Members {
		if m.Name == name {
			return true
		}
	}
	return false
}

// MemberNames returns the sorted member names.
func (f SerologyFamily) MemberNames() []string {
	names := make([]string, 0, len(f.Members))
	for _, m := range f.Members {
		names = append(names, m.Name)
	}
	return domain.SortedSet(names...)
}

// FamilyProvider supplies serology families by locus and antigen name.
type FamilyProvider interface {
	Family(locus domain.Locus, name string) (SerologyFamily, error)
}

// SerologyFamilyResolver walks the serology hierarchy to build families.
// Every call is a pure function of the repository, so a resolver may be shared
// across goroutines.
type SerologyFamilyResolver struct {
	repo   *repository.RelationshipRepository
	logger *logrus.Logger
}

// NewSerologyFamilyResolver creates a resolver over the repository.
func NewSerologyFamilyResolver(repo *repository.RelationshipRepository, logger *logrus.Logger) *SerologyFamilyResolver {
	return &SerologyFamilyResolver{repo: repo, logger: logger}
}

// Family resolves the family of a catalogued antigen.
func (r *SerologyFamilyResolver) Family(locus domain.Locus, name string) (SerologyFamily, error) {
	serology, ok := r.repo.Serology(locus, name)
	if !ok {
		return SerologyFamily{}, domain.NewDataIntegrityError(domain.ErrCodeUnknownTyping, locus, name, "serology is not in the catalogue")
	}
	return r.ResolveFamily(serology)
}

// ResolveFamily builds the family of a serology typing.
//
// A deleted typing is replaced by its identical antigen (recursively) and the
// family of the replacement is returned with the deleted typing added. Any
// hierarchy row that breaks the Broad/Split/Associated/NotSplit rules is a
// fatal DataIntegrityError.
func (r *SerologyFamilyResolver) ResolveFamily(serology domain.SerologyTyping) (SerologyFamily, error) {
	used, err := r.usedInMatching(serology)
	if err != nil {
		return SerologyFamily{}, err
	}

	members, err := r.closure(used)
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{
				"locus":    serology.Locus,
				"serology": serology.Name,
				"error":    err,
			}).Error("Serology family resolution failed")
		}
		return SerologyFamily{}, err
	}
	if serology.IsDeleted {
		members = append(members, serology)
	}

	return SerologyFamily{
		Serology:       serology,
		UsedInMatching: used,
		Members:        sortedUniqueSerologies(members),
	}, nil
}

func (r *SerologyFamilyResolver) usedInMatching(serology domain.SerologyTyping) (domain.SerologyTyping, error) {
	current := serology
	visited := map[string]struct{}{current.Name: {}}
	for current.IsDeleted {
		if current.IdenticalHla == "" {
			return domain.SerologyTyping{}, domain.NewDataIntegrityError(domain.ErrCodeMissingIdenticalHla, current.Locus, current.Name, "deleted serology has no identical antigen")
		}
		next, ok := r.repo.Serology(current.Locus, current.IdenticalHla)
		if !ok {
			return domain.SerologyTyping{}, domain.NewDataIntegrityError(domain.ErrCodeMissingIdenticalHla, current.Locus, current.Name, "identical antigen %q is not in the catalogue", current.IdenticalHla)
		}
		if _, seen := visited[next.Name]; seen {
			return domain.SerologyTyping{}, domain.NewDataIntegrityError(domain.ErrCodeMalformedRelationship, serology.Locus, serology.Name, "identical antigen chain loops back to %s", next.Name)
		}
		visited[next.Name] = struct{}{}
		current = next
	}
	return current, nil
}

func (r *SerologyFamilyResolver) closure(s domain.SerologyTyping) ([]domain.SerologyTyping, error) {
	parents, err := r.parents(s)
	if err != nil {
		return nil, err
	}
	splits, associated, err := r.children(s)
	if err != nil {
		return nil, err
	}

	members := []domain.SerologyTyping{s}
	switch s.Subtype {
	case domain.SubtypeBroad:
		if len(parents) > 0 {
			return nil, malformed(s, "broad antigen is listed as the child of %s", parents[0].Name)
		}
		if len(splits) < 2 {
			return nil, domain.NewDataIntegrityError(domain.ErrCodeBroadWithoutSplits, s.Locus, s.Name, "broad antigen has %d split(s), at least 2 are required", len(splits))
		}
		members = append(members, splits...)
		members = append(members, associated...)
		for _, split := range splits {
			_, splitAssociated, err := r.children(split)
			if err != nil {
				return nil, err
			}
			members = append(members, splitAssociated...)
		}

	case domain.SubtypeSplit:
		if len(parents) > 1 {
			return nil, malformed(s, "split antigen has %d parents", len(parents))
		}
		if len(splits) > 0 {
			return nil, malformed(s, "split antigen has split %s", splits[0].Name)
		}
		members = append(members, parents...)
		members = append(members, associated...)

	case domain.SubtypeAssociated:
		if len(parents) != 1 {
			return nil, malformed(s, "associated antigen has %d parents, exactly 1 is required", len(parents))
		}
		if len(splits)+len(associated) > 0 {
			return nil, malformed(s, "associated antigen has children")
		}
		parent := parents[0]
		members = append(members, parent)
		if parent.Subtype == domain.SubtypeSplit {
			grandparents, err := r.parents(parent)
			if err != nil {
				return nil, err
			}
			members = append(members, grandparents...)
		}

	case domain.SubtypeNotSplit:
		if len(parents) > 0 {
			return nil, malformed(s, "not-split antigen is listed as the child of %s", parents[0].Name)
		}
		if len(splits) > 0 {
			return nil, malformed(s, "not-split antigen has split %s", splits[0].Name)
		}
		members = append(members, associated...)

	default:
		return nil, malformed(s, "unknown serology subtype %q", s.Subtype)
	}

	return members, nil
}

// parents returns the validated parents of s.
func (r *SerologyFamilyResolver) parents(s domain.SerologyTyping) ([]domain.SerologyTyping, error) {
	rows := r.repo.ParentsOf(s.Locus, s.Name)
	parents := make([]domain.SerologyTyping, 0, len(rows))
	for _, row := range rows {
		if err := validateRow(row); err != nil {
			return nil, err
		}
		parents = append(parents, row.Parent)
	}
	return parents, nil
}

// children returns the validated Split and Associated children of s.
func (r *SerologyFamilyResolver) children(s domain.SerologyTyping) (splits, associated []domain.SerologyTyping, err error) {
	for _, row := range r.repo.ChildrenOf(s.Locus, s.Name) {
		if err := validateRow(row); err != nil {
			return nil, nil, err
		}
		switch row.ChildSubtype {
		case domain.SubtypeSplit:
			splits = append(splits, row.Child)
		case domain.SubtypeAssociated:
			associated = append(associated, row.Child)
		}
	}
	return splits, associated, nil
}

// validateRow checks a hierarchy row against the subtype rules: a Split
// belongs to a Broad, an Associated antigen belongs to a Broad, Split or
// NotSplit, and the row's child subtype agrees with the catalogue.
func validateRow(row repository.Relationship) error {
	if row.Child.Subtype != row.ChildSubtype {
		return malformed(row.Child, "hierarchy row under %s declares subtype %s but the catalogue says %s", row.Parent.Name, row.ChildSubtype, row.Child.Subtype)
	}
	switch row.ChildSubtype {
	case domain.SubtypeSplit:
		if row.Parent.Subtype != domain.SubtypeBroad {
			return malformed(row.Child, "split antigen has %s parent %s", row.Parent.Subtype, row.Parent.Name)
		}
	case domain.SubtypeAssociated:
		if row.Parent.Subtype == domain.SubtypeAssociated {
			return malformed(row.Child, "associated antigen has associated parent %s", row.Parent.Name)
		}
	default:
		return malformed(row.Child, "%s antigen cannot be the child of %s", row.ChildSubtype, row.Parent.Name)
	}
	return nil
}

func malformed(s domain.SerologyTyping, format string, args ...any) error {
	return domain.NewDataIntegrityError(domain.ErrCodeMalformedRelationship, s.Locus, s.Name, format, args...)
}

func sortedUniqueSerologies(in []domain.SerologyTyping) []domain.SerologyTyping {
	seen := make(map[domain.TypingKey]struct{}, len(in))
	out := make([]domain.SerologyTyping, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s.Key()]; ok {
			continue
		}
		seen[s.Key()] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

// familyTable is a precomputed FamilyProvider.
type familyTable map[domain.TypingKey]SerologyFamily

func (t familyTable) Family(locus domain.Locus, name string) (SerologyFamily, error) {
	family, ok := t[domain.TypingKey{Locus: locus, Name: name, Method: domain.Serology}]
	if !ok {
		return SerologyFamily{}, domain.NewDataIntegrityError(domain.ErrCodeUnknownTyping, locus, name, "serology is not in the catalogue")
	}
	return family, nil
}
