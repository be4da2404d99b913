package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hla-matching-dictionary/internal/caching"
	"github.com/hla-matching-dictionary/internal/config"
	"github.com/hla-matching-dictionary/internal/database"
	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/logging"
	"github.com/hla-matching-dictionary/internal/metrics"
	"github.com/hla-matching-dictionary/internal/repository"
	"github.com/hla-matching-dictionary/internal/service"
)

var errNoStore = errors.New("no snapshot store configured (store.driver is none)")

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	configFile string
	cfg        *domain.Config
	production bool
	logger     *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "hla-dictionary",
		Short:         "Precompute and query HLA matching dictionaries",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "configuration file (default ./config.yaml or ./configs/config.yaml)")

	root.AddCommand(buildCmd(a))
	root.AddCommand(lookupCmd(a))
	root.AddCommand(versionsCmd(a))
	root.AddCommand(migrateCmd(a))
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	manager, err := config.NewManager(a.configFile)
	if err != nil {
		return err
	}
	if err := manager.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	a.cfg = manager.GetConfig()
	a.production = manager.IsProduction()
	a.logger = logging.NewLogger(a.cfg.Logging, cmd.ErrOrStderr())
	a.logger.WithFields(logrus.Fields{
		"config_file": manager.ConfigFileUsed(),
		"environment": a.cfg.Environment,
		"store":       a.cfg.Store.Driver,
	}).Debug("Configuration loaded")
	return nil
}

// openStore opens the configured snapshot store.
func (a *app) openStore(ctx context.Context) (repository.SnapshotStore, error) {
	switch a.cfg.Store.Driver {
	case config.StoreSQLite:
		store, err := repository.NewSQLiteSnapshotStore(a.cfg.Store.SQLitePath, a.logger)
		if err != nil {
			return nil, err
		}
		a.logger.WithField("path", store.Path()).Debug("SQLite snapshot store opened")
		return store, nil
	case config.StorePostgres:
		if a.cfg.Store.RunMigrations {
			if err := a.migrateUp(ctx); err != nil {
				return nil, err
			}
		}
		db, err := database.NewConnection(ctx, database.Config{
			URL:             a.cfg.Store.PostgresURL,
			MaxOpenConns:    a.cfg.Store.MaxOpenConns,
			MaxIdleConns:    a.cfg.Store.MaxIdleConns,
			ConnMaxLifetime: a.cfg.Store.ConnMaxLifetime,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		store, err := repository.NewPostgresSnapshotStore(db.SQL, a.logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		stats := db.Stats()
		a.logger.WithFields(logrus.Fields{
			"open_connections":     stats.OpenConnections,
			"max_open_connections": stats.MaxOpenConnections,
		}).Debug("PostgreSQL snapshot store opened")
		return store, nil
	default:
		return nil, errNoStore
	}
}

func (a *app) migrateUp(ctx context.Context) error {
	runner, err := database.NewMigrationRunner(a.cfg.Store.PostgresURL, a.logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up(ctx)
}

// newService wires the dictionary service with its projection cache. An
// unreachable Redis tier is logged and skipped.
func (a *app) newService(ctx context.Context, recorder *metrics.Recorder) (*service.DictionaryService, func(), error) {
	cleanup := func() {}
	opts := []caching.Option{caching.WithStatsObserver(recorder)}

	if a.cfg.Cache.RedisURL != "" {
		tier, err := caching.NewRedisTierFromURL(ctx, a.cfg.Cache.RedisURL, a.cfg.Cache.TTL, a.cfg.Cache.BreakerTimeout, a.logger)
		if err != nil {
			a.logger.WithError(err).Warn("Redis tier unavailable, using the in-memory cache only")
		} else {
			opts = append(opts, caching.WithTier(tier))
			cleanup = func() { tier.Close() }
		}
	}

	cache, err := caching.NewProjectionCache(a.cfg.Cache.MaxItems, a.logger, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	svc, err := service.NewDictionaryService(a.logger,
		service.WithBuildWorkers(a.cfg.Build.Workers),
		service.WithObserver(recorder),
		service.WithProjectionCache(cache),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

// writeMetrics flushes the recorder to the configured textfile.
func (a *app) writeMetrics(recorder *metrics.Recorder) {
	if err := recorder.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		a.logger.WithError(err).Warn("Metrics not written")
	}
}
