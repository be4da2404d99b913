package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/pkg/nomenclature"
)

// SnapshotStore persists dictionary snapshots by nomenclature version.
type SnapshotStore interface {
	// Save stores a snapshot, atomically replacing any stored snapshot of the
	// same version.
	Save(ctx context.Context, snapshot *domain.DictionarySnapshot) error
	// Load returns the stored snapshot of a version or domain.ErrVersionNotFound.
	Load(ctx context.Context, version string) (*domain.DictionarySnapshot, error)
	// Versions lists the stored versions in ascending order.
	Versions(ctx context.Context) ([]string, error)
	Close() error
}

// placeholder renders the n-th (1-based) bind parameter of a SQL dialect.
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

// sqlSnapshotStore holds the SQL shared by the SQLite and PostgreSQL stores.
type sqlSnapshotStore struct {
	db     *sql.DB
	bind   placeholder
	logger *logrus.Logger
}

func (s *sqlSnapshotStore) params(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = s.bind(i + 1)
	}
	return strings.Join(out, ", ")
}

func (s *sqlSnapshotStore) save(ctx context.Context, snapshot *domain.DictionarySnapshot) (err error) {
	if snapshot == nil || snapshot.Version == "" {
		return domain.NewValidationError("version", "dictionary snapshot has no version", "")
	}
	alleles, err := json.Marshal(snapshot.MatchedAlleles)
	if err != nil {
		return fmt.Errorf("encoding matched alleles: %w", err)
	}
	serologies, err := json.Marshal(snapshot.MatchedSerologies)
	if err != nil {
		return fmt.Errorf("encoding matched serologies: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"scoring_lookup", "matching_lookup", "dictionary_snapshots"} {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = %s", table, s.bind(1)), snapshot.Version); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO dictionary_snapshots (version, build_id, built_at, matched_alleles, matched_serologies) VALUES ("+s.params(5)+")",
		snapshot.Version, snapshot.BuildID, snapshot.BuiltAt.UTC(), string(alleles), string(serologies),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if err = s.saveMatching(ctx, tx, snapshot); err != nil {
		return err
	}
	if err = s.saveScoring(ctx, tx, snapshot); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"version":       snapshot.Version,
		"build_id":      snapshot.BuildID,
		"matching_rows": len(snapshot.MatchingLookup),
		"scoring_rows":  len(snapshot.ScoringLookup),
	}).Info("Dictionary snapshot saved")
	return nil
}

func jsonColumn(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *sqlSnapshotStore) saveMatching(ctx context.Context, tx *sql.Tx, snapshot *domain.DictionarySnapshot) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO matching_lookup (
		version, locus, lookup_name, typing_method, molecular_subtype, serology_subtype,
		p_groups, g_groups, serologies, allele_names
	) VALUES (`+s.params(10)+`)`)
	if err != nil {
		return fmt.Errorf("failed to prepare matching insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range snapshot.MatchingLookup {
		columns := make([]string, 0, 4)
		for _, set := range [][]string{row.PGroups, row.GGroups, row.Serologies, row.AlleleNames} {
			c, err := jsonColumn(set)
			if err != nil {
				return fmt.Errorf("encoding matching row %s/%s: %w", row.Locus, row.LookupName, err)
			}
			columns = append(columns, c)
		}
		_, err := stmt.ExecContext(ctx,
			snapshot.Version, string(row.Locus), row.LookupName, string(row.Method),
			int(row.MolecularSubtype), string(row.SerologySubtype),
			columns[0], columns[1], columns[2], columns[3],
		)
		if err != nil {
			return fmt.Errorf("failed to save matching row %s/%s: %w", row.Locus, row.LookupName, err)
		}
	}
	return nil
}

func (s *sqlSnapshotStore) saveScoring(ctx context.Context, tx *sql.Tx, snapshot *domain.DictionarySnapshot) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO scoring_lookup (version, locus, lookup_name, typing_method, kind, info) VALUES ("+s.params(6)+")")
	if err != nil {
		return fmt.Errorf("failed to prepare scoring insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range snapshot.ScoringLookup {
		if row.Info == nil {
			return fmt.Errorf("scoring row %s/%s has no payload: %w", row.Locus, row.LookupName, domain.ErrMalformedDictionary)
		}
		info, err := domain.MarshalScoringInfo(row.Info)
		if err != nil {
			return fmt.Errorf("encoding scoring row %s/%s: %w", row.Locus, row.LookupName, err)
		}
		_, err = stmt.ExecContext(ctx,
			snapshot.Version, string(row.Locus), row.LookupName, string(row.Method),
			string(row.Info.Kind()), string(info),
		)
		if err != nil {
			return fmt.Errorf("failed to save scoring row %s/%s: %w", row.Locus, row.LookupName, err)
		}
	}
	return nil
}

func (s *sqlSnapshotStore) load(ctx context.Context, version string) (*domain.DictionarySnapshot, error) {
	snapshot := &domain.DictionarySnapshot{Version: version}
	var builtAt time.Time
	var alleles, serologies []byte

	err := s.db.QueryRowContext(ctx,
		"SELECT build_id, built_at, matched_alleles, matched_serologies FROM dictionary_snapshots WHERE version = "+s.bind(1),
		version,
	).Scan(&snapshot.BuildID, &builtAt, &alleles, &serologies)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stored dictionary %q: %w", version, domain.ErrVersionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	snapshot.BuiltAt = builtAt.UTC()

	if err := json.Unmarshal(alleles, &snapshot.MatchedAlleles); err != nil {
		return nil, fmt.Errorf("decoding matched alleles: %w: %v", domain.ErrMalformedDictionary, err)
	}
	if err := json.Unmarshal(serologies, &snapshot.MatchedSerologies); err != nil {
		return nil, fmt.Errorf("decoding matched serologies: %w: %v", domain.ErrMalformedDictionary, err)
	}

	if snapshot.MatchingLookup, err = s.loadMatching(ctx, version); err != nil {
		return nil, err
	}
	if snapshot.ScoringLookup, err = s.loadScoring(ctx, version); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"version":  version,
		"build_id": snapshot.BuildID,
	}).Debug("Dictionary snapshot loaded")
	return snapshot, nil
}

func (s *sqlSnapshotStore) loadMatching(ctx context.Context, version string) ([]domain.MatchingLookupEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT locus, lookup_name, typing_method, molecular_subtype, serology_subtype,
		p_groups, g_groups, serologies, allele_names
		FROM matching_lookup WHERE version = `+s.bind(1), version)
	if err != nil {
		return nil, fmt.Errorf("failed to query matching lookup: %w", err)
	}
	defer rows.Close()

	entries := []domain.MatchingLookupEntry{}
	for rows.Next() {
		var e domain.MatchingLookupEntry
		var locus, method, serologySubtype string
		var molecularSubtype int
		var pGroups, gGroups, serologies, alleleNames []byte
		if err := rows.Scan(&locus, &e.LookupName, &method, &molecularSubtype, &serologySubtype,
			&pGroups, &gGroups, &serologies, &alleleNames); err != nil {
			return nil, fmt.Errorf("failed to scan matching row: %w", err)
		}
		e.Locus = domain.Locus(locus)
		e.Method = domain.TypingMethod(method)
		e.MolecularSubtype = domain.MolecularSubtype(molecularSubtype)
		e.SerologySubtype = domain.SerologySubtype(serologySubtype)
		for _, col := range []struct {
			data []byte
			dst  *[]string
		}{{pGroups, &e.PGroups}, {gGroups, &e.GGroups}, {serologies, &e.Serologies}, {alleleNames, &e.AlleleNames}} {
			if err := json.Unmarshal(col.data, col.dst); err != nil {
				return nil, fmt.Errorf("decoding matching row %s/%s: %w: %v", locus, e.LookupName, domain.ErrMalformedDictionary, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matching rows: %w", err)
	}
	domain.SortMatchingLookup(entries)
	return entries, nil
}

func (s *sqlSnapshotStore) loadScoring(ctx context.Context, version string) ([]domain.ScoringLookupEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT locus, lookup_name, typing_method, kind, info FROM scoring_lookup WHERE version = "+s.bind(1), version)
	if err != nil {
		return nil, fmt.Errorf("failed to query scoring lookup: %w", err)
	}
	defer rows.Close()

	entries := []domain.ScoringLookupEntry{}
	for rows.Next() {
		var locus, name, method, kind string
		var info []byte
		if err := rows.Scan(&locus, &name, &method, &kind, &info); err != nil {
			return nil, fmt.Errorf("failed to scan scoring row: %w", err)
		}
		payload, err := domain.UnmarshalScoringInfo(domain.ScoringInfoKind(kind), info)
		if err != nil {
			return nil, fmt.Errorf("scoring row %s/%s: %w", locus, name, err)
		}
		entries = append(entries, domain.ScoringLookupEntry{
			Locus:      domain.Locus(locus),
			LookupName: name,
			Method:     domain.TypingMethod(method),
			Info:       payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scoring rows: %w", err)
	}
	domain.SortScoringLookup(entries)
	return entries, nil
}

func (s *sqlSnapshotStore) versions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM dictionary_snapshots ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	nomenclature.SortVersions(versions)
	return versions, nil
}
