package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/secuscan/internal/db"
	"github.com/yourorg/secuscan/internal/s3"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent scan runs from the run store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.requireStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.AddCommand(newBackfillCmd(a))
	return cmd
}

func newBackfillCmd(a *app) *cobra.Command {
	var maxRuns int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Import archived reports that are missing from the run store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.requireStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			archive, err := a.openArchive()
			if err != nil {
				return err
			}
			if archive == nil {
				return errors.New("backfill needs S3_ENDPOINT and REPORTS_BUCKET")
			}

			keys, err := archive.ListReports(ctx)
			if err != nil {
				return fmt.Errorf("list reports: %w", err)
			}
			byID := make(map[string]string, len(keys))
			ids := make([]string, 0, len(keys))
			for _, k := range keys {
				id, _ := s3.RunID(k)
				byID[id] = k
				ids = append(ids, id)
			}
			missing, err := store.MissingRuns(ctx, ids)
			if err != nil {
				return fmt.Errorf("find missing runs: %w", err)
			}
			if maxRuns > 0 && len(missing) > maxRuns {
				missing = missing[:maxRuns]
			}

			var ok, failed int
			for _, id := range missing {
				key := byID[id]
				rep, err := archive.Fetch(ctx, key)
				if err == nil {
					err = store.SaveRun(ctx, rep)
				}
				if err == nil {
					err = store.SetReportLocation(ctx, rep.ID, archive.Bucket(), key)
				}
				if err != nil {
					a.log.Warn().Err(err).Str("key", key).Msg("backfill failed")
					failed++
					continue
				}
				ok++
			}
			a.log.Info().Int("imported", ok).Int("failed", failed).Int("archived", len(keys)).Msg("backfill finished")
			if failed > 0 {
				return fmt.Errorf("%d reports could not be imported", failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxRuns, "max", 0, "maximum reports to import (0 = unlimited)")
	return cmd
}

func (a *app) requireStore(cmd *cobra.Command) (*db.Store, error) {
	store, err := a.openStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("run history needs DATABASE_URL")
	}
	return store, nil
}

func printRuns(w io.Writer, runs []db.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tID\tCATEGORY\tFINDINGS\tHIGH\tWARNINGS\tTARGET")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.ID, r.Category,
			r.Summary.Total, r.Summary.High, r.Warnings, r.Target)
	}
	return tw.Flush()
}
