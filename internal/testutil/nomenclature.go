// Package testutil provides a small but realistic nomenclature release used
// across package tests.
package testutil

import (
	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/repository"
)

// FixtureVersion is the nomenclature version of the fixture release.
const FixtureVersion = "3.33.0"

func allele(locus, name string) repository.AlleleRecord {
	return repository.AlleleRecord{
		Locus:          locus,
		Name:           name,
		SequenceStatus: domain.SequenceFull,
		DnaCategory:    domain.DnaGenomic,
	}
}

func serology(locus, name string, subtype domain.SerologySubtype) repository.SerologyRecord {
	return repository.SerologyRecord{Locus: locus, Name: name, Subtype: subtype}
}

func assign(locus, alleleName, serologyName string) repository.AlleleSerologyAssignment {
	return repository.AlleleSerologyAssignment{
		Locus:        locus,
		AlleleName:   alleleName,
		SerologyName: serologyName,
		Kind:         domain.AssignmentUnambiguous,
	}
}

func rel(locus, parent, child string, subtype domain.SerologySubtype) repository.SerologyRelationship {
	return repository.SerologyRelationship{Locus: locus, ParentName: parent, ChildName: child, ChildSubtype: subtype}
}

func group(locus, name string, alleles ...string) repository.AlleleGroupRecord {
	return repository.AlleleGroupRecord{Locus: locus, GroupName: name, AlleleNames: alleles}
}

// NomenclatureSnapshot returns a fresh copy of the fixture release.
//
// Highlights:
//   - A*01:01:01:01 and A*01:01:01:02 share the two-field name 01:01;
//     A*01:01:01:03 is deleted and identical to A*01:01:01:01.
//   - A*01:02 is also assigned A29, a match its family does not predict.
//   - A*29:01:01:02N is a null expresser listed in the 29:01P row.
//   - B21 is a Broad with Splits 49 and 50; 4005 is associated with 50.
//   - B*40:05:01 is assigned 4005 although its family is B40.
//   - B*39:01:01:02L is a low-expression variant in 39:01P / 39:01:01G.
//   - Cw11 is deleted and identical to Cw1.
//   - DPB1 has no serology.
func NomenclatureSnapshot() *repository.NomenclatureSnapshot {
	deletedA := allele("A*", "01:01:01:03")
	deletedA.IsDeleted = true
	deletedA.IdenticalHla = "01:01:01:01"

	partial := allele("A*", "01:02")
	partial.SequenceStatus = domain.SequencePartial
	partial.DnaCategory = domain.DnaComplementary

	deletedCw := serology("Cw", "11", domain.SubtypeNotSplit)
	deletedCw.IsDeleted = true
	deletedCw.IdenticalHla = "1"

	possible := assign("A*", "01:02", "29")
	possible.Kind = domain.AssignmentPossible

	return &repository.NomenclatureSnapshot{
		Version: FixtureVersion,
		Alleles: []repository.AlleleRecord{
			allele("A*", "01:01:01:01"),
			allele("A*", "01:01:01:02"),
			deletedA,
			partial,
			allele("A*", "29:01:01:01"),
			allele("A*", "29:01:01:02N"),
			allele("A*", "30:01:01"),
			allele("B*", "07:02:01"),
			allele("B*", "07:03"),
			allele("B*", "39:01:01:01"),
			allele("B*", "39:01:01:02L"),
			allele("B*", "40:05:01"),
			allele("B*", "49:01:01"),
			allele("B*", "50:01:01"),
			allele("B*", "51:01:01"),
			allele("B*", "51:02"),
			allele("B*", "52:01:01"),
			allele("C*", "01:02:01"),
			allele("DPB1*", "01:01:01"),
			allele("DRB1*", "03:01:01:01"),
			allele("DRB1*", "03:02:01"),
		},
		Serologies: []repository.SerologyRecord{
			serology("A", "1", domain.SubtypeNotSplit),
			serology("A", "19", domain.SubtypeBroad),
			serology("A", "29", domain.SubtypeSplit),
			serology("A", "30", domain.SubtypeSplit),
			serology("B", "5", domain.SubtypeBroad),
			serology("B", "51", domain.SubtypeSplit),
			serology("B", "52", domain.SubtypeSplit),
			serology("B", "5102", domain.SubtypeAssociated),
			serology("B", "7", domain.SubtypeNotSplit),
			serology("B", "703", domain.SubtypeAssociated),
			serology("B", "16", domain.SubtypeBroad),
			serology("B", "38", domain.SubtypeSplit),
			serology("B", "39", domain.SubtypeSplit),
			serology("B", "3901", domain.SubtypeAssociated),
			serology("B", "21", domain.SubtypeBroad),
			serology("B", "49", domain.SubtypeSplit),
			serology("B", "50", domain.SubtypeSplit),
			serology("B", "4005", domain.SubtypeAssociated),
			serology("B", "40", domain.SubtypeBroad),
			serology("B", "60", domain.SubtypeSplit),
			serology("B", "61", domain.SubtypeSplit),
			serology("Cw", "1", domain.SubtypeNotSplit),
			deletedCw,
			serology("DR", "3", domain.SubtypeBroad),
			serology("DR", "17", domain.SubtypeSplit),
			serology("DR", "18", domain.SubtypeSplit),
		},
		Assignments: []repository.AlleleSerologyAssignment{
			assign("A*", "01:01:01:01", "1"),
			assign("A*", "01:01:01:02", "1"),
			assign("A*", "01:02", "1"),
			possible,
			assign("A*", "29:01:01:01", "29"),
			assign("A*", "29:01:01:02N", "0"),
			assign("A*", "30:01:01", "30"),
			assign("B*", "07:02:01", "7"),
			assign("B*", "07:03", "703"),
			assign("B*", "39:01:01:01", "3901"),
			assign("B*", "39:01:01:02L", "3901"),
			assign("B*", "40:05:01", "4005"),
			assign("B*", "49:01:01", "49"),
			assign("B*", "50:01:01", "50"),
			assign("B*", "51:01:01", "51"),
			assign("B*", "51:02", "5102"),
			assign("B*", "52:01:01", "52"),
			assign("C*", "01:02:01", "1"),
			assign("DRB1*", "03:01:01:01", "17"),
			assign("DRB1*", "03:02:01", "18"),
		},
		Relationships: []repository.SerologyRelationship{
			rel("A", "19", "29", domain.SubtypeSplit),
			rel("A", "19", "30", domain.SubtypeSplit),
			rel("B", "5", "51", domain.SubtypeSplit),
			rel("B", "5", "52", domain.SubtypeSplit),
			rel("B", "51", "5102", domain.SubtypeAssociated),
			rel("B", "7", "703", domain.SubtypeAssociated),
			rel("B", "16", "38", domain.SubtypeSplit),
			rel("B", "16", "39", domain.SubtypeSplit),
			rel("B", "39", "3901", domain.SubtypeAssociated),
			rel("B", "21", "49", domain.SubtypeSplit),
			rel("B", "21", "50", domain.SubtypeSplit),
			rel("B", "50", "4005", domain.SubtypeAssociated),
			rel("B", "40", "60", domain.SubtypeSplit),
			rel("B", "40", "61", domain.SubtypeSplit),
			rel("DR", "3", "17", domain.SubtypeSplit),
			rel("DR", "3", "18", domain.SubtypeSplit),
		},
		PGroups: []repository.AlleleGroupRecord{
			group("A*", "01:01P", "01:01:01:01", "01:01:01:02"),
			group("A*", "01:02P", "01:02"),
			group("A*", "29:01P", "29:01:01:01", "29:01:01:02N"),
			group("A*", "30:01P", "30:01:01"),
			group("B*", "07:02P", "07:02:01"),
			group("B*", "39:01P", "39:01:01:01", "39:01:01:02L"),
			group("B*", "40:05P", "40:05:01"),
			group("B*", "49:01P", "49:01:01"),
			group("B*", "50:01P", "50:01:01"),
			group("B*", "51:01P", "51:01:01"),
			group("B*", "52:01P", "52:01:01"),
			group("C*", "01:02P", "01:02:01"),
			group("DPB1*", "01:01P", "01:01:01"),
			group("DRB1*", "03:01P", "03:01:01:01"),
			group("DRB1*", "03:02P", "03:02:01"),
		},
		GGroups: []repository.AlleleGroupRecord{
			group("A*", "01:01:01G", "01:01:01:01", "01:01:01:02"),
			group("A*", "29:01:01G", "29:01:01:01", "29:01:01:02N"),
			group("A*", "30:01:01G", "30:01:01"),
			group("B*", "07:02:01G", "07:02:01"),
			group("B*", "39:01:01G", "39:01:01:01", "39:01:01:02L"),
			group("B*", "40:05:01G", "40:05:01"),
			group("B*", "49:01:01G", "49:01:01"),
			group("B*", "50:01:01G", "50:01:01"),
			group("B*", "51:01:01G", "51:01:01"),
			group("B*", "52:01:01G", "52:01:01"),
			group("C*", "01:02:01G", "01:02:01"),
			group("DPB1*", "01:01:01G", "01:01:01"),
			group("DRB1*", "03:01:01G", "03:01:01:01"),
			group("DRB1*", "03:02:01G", "03:02:01"),
		},
	}
}

// SerologyExceptions returns the allow-list used with the fixture release.
func SerologyExceptions() domain.SerologyExceptions {
	return domain.NewSerologyExceptions(FixtureVersion, map[domain.Locus][]string{
		domain.LocusB: {"40:05"},
	})
}
