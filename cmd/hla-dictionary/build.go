package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hla-matching-dictionary/internal/config"
	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/metrics"
	"github.com/hla-matching-dictionary/internal/repository"
)

func buildCmd(a *app) *cobra.Command {
	var snapshotPath, exceptionsPath string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the matching dictionary of a nomenclature release and persist it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if snapshotPath == "" {
				snapshotPath = a.cfg.Nomenclature.SnapshotPath
			}
			if exceptionsPath == "" {
				exceptionsPath = a.cfg.Nomenclature.ExceptionsPath
			}
			if snapshotPath == "" {
				return domain.NewValidationError("nomenclature.snapshot_path", "a nomenclature snapshot is required", "")
			}

			nomenclature, err := repository.LoadNomenclatureSnapshot(snapshotPath)
			if err != nil {
				return err
			}
			if want := a.cfg.Nomenclature.Version; want != "" && want != nomenclature.Version {
				return domain.NewValidationError("nomenclature.version", "does not match the snapshot version "+nomenclature.Version, want)
			}
			repo, err := repository.NewRelationshipRepository(nomenclature, a.logger)
			if err != nil {
				return err
			}
			exceptions, err := config.LoadSerologyExceptions(exceptionsPath)
			if err != nil {
				return err
			}
			if exceptions.Version != "" && exceptions.Version != nomenclature.Version {
				a.logger.WithFields(logrus.Fields{
					"exceptions_version":   exceptions.Version,
					"nomenclature_version": nomenclature.Version,
					"exceptions_path":      exceptionsPath,
				}).Warn("Serology exceptions were curated for another nomenclature version")
			}

			recorder := metrics.NewRecorder(a.logger)
			defer a.writeMetrics(recorder)

			svc, cleanup, err := a.newService(ctx, recorder)
			if err != nil {
				return err
			}
			defer cleanup()

			snapshot, err := svc.Build(ctx, repo, exceptions)
			if err != nil {
				return fmt.Errorf("dictionary build failed: %w", err)
			}

			persisted := "no"
			if a.cfg.Store.Driver != config.StoreNone {
				store, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Save(ctx, snapshot); err != nil {
					return fmt.Errorf("failed to persist dictionary: %w", err)
				}
				persisted = a.cfg.Store.Driver
			}

			printSummary(cmd.OutOrStdout(), snapshot, exceptions.Len(), persisted)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "nomenclature snapshot JSON (overrides nomenclature.snapshot_path)")
	cmd.Flags().StringVar(&exceptionsPath, "exceptions", "", "serology exceptions YAML (overrides nomenclature.exceptions_path)")
	return cmd
}

func printSummary(w io.Writer, snapshot *domain.DictionarySnapshot, exceptions int, persisted string) {
	fmt.Fprintf(w, "%-20s %s\n", "VERSION", snapshot.Version)
	fmt.Fprintf(w, "%-20s %s\n", "BUILD ID", snapshot.BuildID)
	fmt.Fprintf(w, "%-20s %s\n", "BUILT AT", snapshot.BuiltAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "%-20s %d\n", "MATCHED ALLELES", len(snapshot.MatchedAlleles))
	fmt.Fprintf(w, "%-20s %d\n", "MATCHED SEROLOGIES", len(snapshot.MatchedSerologies))
	fmt.Fprintf(w, "%-20s %d\n", "MATCHING ROWS", len(snapshot.MatchingLookup))
	fmt.Fprintf(w, "%-20s %d\n", "SCORING ROWS", len(snapshot.ScoringLookup))
	fmt.Fprintf(w, "%-20s %d\n", "EXCEPTIONS", exceptions)
	fmt.Fprintf(w, "%-20s %s\n", "PERSISTED", persisted)
}
