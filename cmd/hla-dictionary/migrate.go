package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hla-matching-dictionary/internal/config"
	"github.com/hla-matching-dictionary/internal/database"
	"github.com/hla-matching-dictionary/internal/domain"
)

func migrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL dictionary schema",
	}

	var force bool

	run := func(step func(*database.MigrationRunner, context.Context) error, destructive bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if destructive && a.production && !force {
				return domain.NewValidationError("force", "rolling back a production schema requires --force", a.cfg.Environment)
			}
			if a.cfg.Store.Driver != config.StorePostgres {
				return domain.NewValidationError("store.driver", "migrations apply to the postgres store only", a.cfg.Store.Driver)
			}
			runner, err := database.NewMigrationRunner(a.cfg.Store.PostgresURL, a.logger)
			if err != nil {
				return err
			}
			defer runner.Close()

			if err := step(runner, cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			version, dirty, err := runner.Version()
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema has no migrations applied.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d (dirty: %t).\n", version, dirty)
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE:  run((*database.MigrationRunner).Up, false),
	})
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE:  run((*database.MigrationRunner).Down, true),
	}
	down.Flags().BoolVar(&force, "force", false, "allow a rollback when environment is production")
	cmd.AddCommand(down)
	return cmd
}
