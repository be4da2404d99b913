package repository_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hla-matching-dictionary/internal/database"
	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/repository"
	"github.com/hla-matching-dictionary/internal/service"
	"github.com/hla-matching-dictionary/internal/testutil"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func buildSnapshot(t *testing.T) *domain.DictionarySnapshot {
	t.Helper()
	repo, err := repository.NewRelationshipRepository(testutil.NomenclatureSnapshot(), quietLogger())
	require.NoError(t, err)
	svc, err := service.NewDictionaryService(quietLogger())
	require.NoError(t, err)
	snapshot, err := svc.Build(context.Background(), repo, testutil.SerologyExceptions())
	require.NoError(t, err)
	return snapshot
}

func assertSameSnapshot(t *testing.T, want, got *domain.DictionarySnapshot) {
	t.Helper()
	assert.True(t, want.BuiltAt.Equal(got.BuiltAt), "built_at %s != %s", want.BuiltAt, got.BuiltAt)
	copied := *got
	copied.BuiltAt = want.BuiltAt
	assert.Equal(t, *want, copied)
}

// exerciseStore runs the behaviour every SnapshotStore shares.
func exerciseStore(t *testing.T, store repository.SnapshotStore) {
	ctx := context.Background()
	snapshot := buildSnapshot(t)

	versions, err := store.Versions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)

	_, err = store.Load(ctx, snapshot.Version)
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)

	require.NoError(t, store.Save(ctx, snapshot))
	loaded, err := store.Load(ctx, snapshot.Version)
	require.NoError(t, err)
	assertSameSnapshot(t, snapshot, loaded)

	t.Run("restored snapshot serves lookups", func(t *testing.T) {
		svc, err := service.NewDictionaryService(quietLogger())
		require.NoError(t, err)
		_, err = svc.Restore(ctx, store, snapshot.Version)
		require.NoError(t, err)

		info, err := svc.LookupScoring(snapshot.Version, domain.LocusA, "01:01", domain.Molecular)
		require.NoError(t, err)
		assert.Equal(t, domain.ScoringConsolidatedMolecular, info.Kind())
	})

	t.Run("saving a version again replaces it", func(t *testing.T) {
		replacement := *snapshot
		replacement.BuildID = "rebuilt"
		replacement.MatchingLookup = snapshot.MatchingLookup[:1]
		replacement.ScoringLookup = snapshot.ScoringLookup[:1]
		require.NoError(t, store.Save(ctx, &replacement))

		loaded, err := store.Load(ctx, snapshot.Version)
		require.NoError(t, err)
		assert.Equal(t, "rebuilt", loaded.BuildID)
		assert.Len(t, loaded.MatchingLookup, 1)
		assert.Len(t, loaded.ScoringLookup, 1)
	})

	t.Run("versions are listed in release order", func(t *testing.T) {
		for _, v := range []string{"3.32.0", "3.9.0"} {
			older := *snapshot
			older.Version = v
			require.NoError(t, store.Save(ctx, &older))
		}

		versions, err := store.Versions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"3.9.0", "3.32.0", snapshot.Version}, versions)
	})

	t.Run("a snapshot without version is rejected", func(t *testing.T) {
		var validation *domain.ValidationError
		assert.ErrorAs(t, store.Save(ctx, &domain.DictionarySnapshot{}), &validation)
	})
}

func TestSQLiteSnapshotStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dictionary.db")
	store, err := repository.NewSQLiteSnapshotStore(path, quietLogger())
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, path, store.Path())
	exerciseStore(t, store)
}

func TestSQLiteSnapshotStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictionary.db")
	snapshot := buildSnapshot(t)
	ctx := context.Background()

	store, err := repository.NewSQLiteSnapshotStore(path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, snapshot))
	require.NoError(t, store.Close())

	reopened, err := repository.NewSQLiteSnapshotStore(path, quietLogger())
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, snapshot.Version)
	require.NoError(t, err)
	assertSameSnapshot(t, snapshot, loaded)
}

func TestPostgresSnapshotStore_Integration(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	runner, err := database.NewMigrationRunner(dbURL, quietLogger())
	require.NoError(t, err)
	require.NoError(t, runner.Up(context.Background()))
	require.NoError(t, runner.Close())

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	_, err = db.Exec("DELETE FROM dictionary_snapshots")
	require.NoError(t, err)

	store, err := repository.NewPostgresSnapshotStore(db, quietLogger())
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)
}

func TestSnapshotTimestampsAreUTC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictionary.db")
	store, err := repository.NewSQLiteSnapshotStore(path, quietLogger())
	require.NoError(t, err)
	defer store.Close()

	snapshot := buildSnapshot(t)
	snapshot.BuiltAt = time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	require.NoError(t, store.Save(context.Background(), snapshot))

	loaded, err := store.Load(context.Background(), snapshot.Version)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loaded.BuiltAt.Location())
	assert.True(t, snapshot.BuiltAt.Equal(loaded.BuiltAt))
}
