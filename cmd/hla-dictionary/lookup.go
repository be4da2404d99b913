package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hla-matching-dictionary/internal/domain"
	"github.com/hla-matching-dictionary/internal/metrics"
	"github.com/hla-matching-dictionary/internal/repository"
	"github.com/hla-matching-dictionary/pkg/nomenclature"
)

// Values of the lookup --table flag.
const (
	tableMatching   = "matching"
	tableScoring    = "scoring"
	tableProjection = "p-group"
)

func lookupCmd(a *app) *cobra.Command {
	var version, locusName, methodName, table string

	cmd := &cobra.Command{
		Use:   "lookup NAME",
		Short: "Query a persisted dictionary",
		Long: `Query a persisted dictionary by typing name.

The matching and scoring tables take an allele ("A*01:01"), an allele string
("A*01:01/01:02", scoring only) or, with --method serology, an antigen ("21").
The p-group table maps a G-Group ("01:01:01G") to its P-Group.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			method, err := parseMethod(methodName)
			if err != nil {
				return err
			}
			locus, err := parseLocus(locusName, name, method)
			if err != nil {
				return err
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if version == "" {
				if version, err = latestVersion(cmd, store); err != nil {
					return err
				}
			}

			recorder := metrics.NewRecorder(a.logger)
			defer a.writeMetrics(recorder)

			svc, cleanup, err := a.newService(ctx, recorder)
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := svc.Restore(ctx, store, version); err != nil {
				return err
			}

			var result any
			switch table {
			case tableMatching:
				result, err = svc.LookupMatching(version, locus, name, method)
			case tableScoring:
				var info domain.ScoringInfo
				if method == domain.Molecular && strings.Contains(name, "/") {
					info, err = svc.ScoringInfoForAlleleString(version, locus, name)
				} else {
					info, err = svc.LookupScoring(version, locus, name, method)
				}
				if method == domain.Molecular {
					_, name = nomenclature.SplitLocusMarker(name)
				}
				result = domain.ScoringLookupEntry{Locus: locus, LookupName: name, Method: method, Info: info}
			case tableProjection:
				var pGroup string
				pGroup, err = svc.GGroupToPGroup(ctx, version, locus, name)
				result = map[string]string{"locus": string(locus), "g_group": name, "p_group": pGroup}
			default:
				return domain.NewValidationError("table", "must be matching, scoring or p-group", table)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "nomenclature version (default: latest stored)")
	cmd.Flags().StringVar(&locusName, "locus", "", "locus; taken from an \"A*\" style marker when omitted")
	cmd.Flags().StringVar(&methodName, "method", "molecular", "typing method: molecular or serology")
	cmd.Flags().StringVar(&table, "table", tableMatching, "lookup table: matching, scoring or p-group")
	return cmd
}

func parseMethod(name string) (domain.TypingMethod, error) {
	switch strings.ToLower(name) {
	case "molecular":
		return domain.Molecular, nil
	case "serology":
		return domain.Serology, nil
	}
	return "", domain.NewValidationError("method", "must be molecular or serology", name)
}

func parseLocus(locusName, typingName string, method domain.TypingMethod) (domain.Locus, error) {
	if locusName == "" && method == domain.Molecular {
		if marker, _ := nomenclature.SplitLocusMarker(typingName); marker != "" {
			locusName = marker
		}
	}
	if locusName == "" {
		return "", domain.NewValidationError("locus", "required unless the name carries a locus marker", typingName)
	}
	if method == domain.Serology {
		return nomenclature.SerologyLocus(locusName)
	}
	return nomenclature.MolecularLocus(locusName)
}

func latestVersion(cmd *cobra.Command, store repository.SnapshotStore) (string, error) {
	versions, err := store.Versions(cmd.Context())
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("no dictionary has been built: %w", domain.ErrVersionNotFound)
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if nomenclature.CompareVersions(v, latest) > 0 {
			latest = v
		}
	}
	return latest, nil
}
