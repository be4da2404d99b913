package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/hla-matching-dictionary/internal/domain"
)

// SQLiteSnapshotStore implements SnapshotStore on a local SQLite file.
type SQLiteSnapshotStore struct {
	sqlSnapshotStore
	dbPath string
}

// NewSQLiteSnapshotStore opens the database at dbPath, creating the file and
// schema if they don't exist.
func NewSQLiteSnapshotStore(dbPath string, logger *logrus.Logger) (*SQLiteSnapshotStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteSnapshotStore{
		sqlSnapshotStore: sqlSnapshotStore{db: db, bind: questionMark, logger: logger},
		dbPath:           dbPath,
	}, nil
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS dictionary_snapshots (
		version TEXT PRIMARY KEY,
		build_id TEXT NOT NULL,
		built_at DATETIME NOT NULL,
		matched_alleles TEXT NOT NULL,
		matched_serologies TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS matching_lookup (
		version TEXT NOT NULL REFERENCES dictionary_snapshots(version) ON DELETE CASCADE,
		locus TEXT NOT NULL,
		lookup_name TEXT NOT NULL,
		typing_method TEXT NOT NULL,
		molecular_subtype INTEGER NOT NULL DEFAULT 0,
		serology_subtype TEXT NOT NULL DEFAULT '',
		p_groups TEXT NOT NULL,
		g_groups TEXT NOT NULL,
		serologies TEXT NOT NULL,
		allele_names TEXT NOT NULL,
		PRIMARY KEY (version, locus, lookup_name, typing_method)
	);

	CREATE TABLE IF NOT EXISTS scoring_lookup (
		version TEXT NOT NULL REFERENCES dictionary_snapshots(version) ON DELETE CASCADE,
		locus TEXT NOT NULL,
		lookup_name TEXT NOT NULL,
		typing_method TEXT NOT NULL,
		kind TEXT NOT NULL,
		info TEXT NOT NULL,
		PRIMARY KEY (version, locus, lookup_name, typing_method)
	);

	CREATE INDEX IF NOT EXISTS idx_matching_lookup_name ON matching_lookup(locus, lookup_name);
	CREATE INDEX IF NOT EXISTS idx_scoring_lookup_name ON scoring_lookup(locus, lookup_name);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores a snapshot, replacing any stored snapshot of the same version.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, snapshot *domain.DictionarySnapshot) error {
	return s.save(ctx, snapshot)
}

// Load returns the stored snapshot of a version.
func (s *SQLiteSnapshotStore) Load(ctx context.Context, version string) (*domain.DictionarySnapshot, error) {
	return s.load(ctx, version)
}

// Versions lists the stored versions.
func (s *SQLiteSnapshotStore) Versions(ctx context.Context) ([]string, error) {
	return s.versions(ctx)
}

// Close closes the database connection.
func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteSnapshotStore) Path() string {
	return s.dbPath
}
