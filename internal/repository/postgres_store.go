package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/hla-matching-dictionary/internal/domain"
)

// PostgresSnapshotStore implements SnapshotStore on PostgreSQL.
// It expects the schema to already exist (created via migrations).
type PostgresSnapshotStore struct {
	sqlSnapshotStore
}

// NewPostgresSnapshotStore wraps an open connection.
func NewPostgresSnapshotStore(db *sql.DB, logger *logrus.Logger) (*PostgresSnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresSnapshotStore{
		sqlSnapshotStore: sqlSnapshotStore{db: db, bind: dollar, logger: logger},
	}, nil
}

// Save stores a snapshot in one transaction, replacing any stored snapshot
// of the same version.
func (s *PostgresSnapshotStore) Save(ctx context.Context, snapshot *domain.DictionarySnapshot) error {
	return s.save(ctx, snapshot)
}

// Load returns the stored snapshot of a version.
func (s *PostgresSnapshotStore) Load(ctx context.Context, version string) (*domain.DictionarySnapshot, error) {
	return s.load(ctx, version)
}

// Versions lists the stored versions.
func (s *PostgresSnapshotStore) Versions(ctx context.Context) ([]string, error) {
	return s.versions(ctx)
}

// Close closes the database connection.
func (s *PostgresSnapshotStore) Close() error {
	return s.db.Close()
}
