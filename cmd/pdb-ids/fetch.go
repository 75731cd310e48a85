package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/pdb-ids/pkg/metrics"
	"github.com/Sternrassler/pdb-ids/pkg/output"
	"github.com/Sternrassler/pdb-ids/pkg/pagination"
	"github.com/Sternrassler/pdb-ids/pkg/store"
)

func newFetchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Page through the search and write every identifier to a file",
		Long: `Fetch requests the search page by page and writes the collected identifiers
to the output file once the run completes.

Boundary policies:
  exhaust  keep paging until a short page or the server-reported total (default)
  ceil     ceil(total/page-size) pages, total taken from the server when reported
  floor    floor(total-hint/page-size) pages; the trailing partial page is dropped

Exit codes: 0 success, 1 fetch or configuration failure, 2 output could not
be written (0 with --ignore-write-errors).`,
		Args: cobra.NoArgs,
		RunE: a.runFetch,
	}

	addClientFlags(cmd)
	f := cmd.Flags()
	f.StringP("output", "o", "list_file.txt", "output file")
	f.String("format", "", "output format: lines, comma, json, yaml (default: from extension, else lines)")
	f.String("policy", "exhaust", "boundary policy: exhaust, ceil, floor")
	f.String("on-error", "abort", "page failure policy: abort, skip")
	f.Int("total-hint", 215908, "expected number of identifiers")
	f.Int("concurrency", 1, "parallel page requests (floor and ceil only)")
	f.Duration("deadline", 0, "overall run deadline (default 30m)")
	f.Int("max-consecutive-failures", 3, "abort a skip run after this many failed pages in a row (0 = unlimited)")
	f.Int("max-pages", 0, "cap on pages requested (0 = unlimited)")
	f.Bool("dedupe", false, "remove repeated identifiers")
	f.Bool("ignore-write-errors", false, "log output write failures and exit 0")
	f.Bool("write-partial", false, "write the identifiers collected before a failed run")
	f.String("store", "", "sqlite database recording each run (empty disables)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.String("report", "", "write the run report to this file (json or yaml by extension)")

	return cmd
}

func (a *app) runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := a.cfg
	logger := log.With().Str("component", "fetch").Logger()

	format, err := cfg.OutputFormat()
	if err != nil {
		return err
	}
	pc, err := cfg.Pagination()
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Serve(cfg.MetricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	cl, cleanup, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	acc, err := pagination.NewAccumulator(cl, pc)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	result, collectErr := acc.Collect(ctx)
	finishedAt := time.Now()

	if reportPath, _ := cmd.Flags().GetString("report"); reportPath != "" {
		if err := writeReport(reportPath, result.Report); err != nil {
			logger.Warn().Err(err).Str("path", reportPath).Msg("Failed to write report")
		}
	}

	if collectErr != nil {
		writePartial, _ := cmd.Flags().GetBool("write-partial")
		if writePartial && len(result.Identifiers) > 0 {
			if err := output.Write(cfg.Output, result.Identifiers, format); err != nil {
				logger.Error().Err(err).Msg("Failed to write partial output")
			} else {
				logger.Warn().
					Str("path", cfg.Output).
					Int("identifiers", len(result.Identifiers)).
					Msg("Wrote partial output")
			}
		}
		return &exitError{code: exitFailure, err: fmt.Errorf("collect identifiers: %w", collectErr)}
	}

	if err := output.Write(cfg.Output, result.Identifiers, format); err != nil {
		return a.persistenceFailure(err)
	}
	logger.Info().
		Str("path", cfg.Output).
		Str("format", string(format)).
		Int("identifiers", len(result.Identifiers)).
		Bool("complete", result.Report.Complete()).
		Msg("Wrote identifiers")

	if cfg.Store != "" {
		info := store.RunInfo{
			StartedAt:   startedAt,
			FinishedAt:  finishedAt,
			Policy:      string(pc.Policy),
			ServerTotal: result.Report.ServerTotal,
		}
		if err := saveRun(ctx, cfg.Store, info, result.Identifiers); err != nil {
			return a.persistenceFailure(err)
		}
	}

	fmt.Fprintf(a.stdout, "%d identifiers written to %s\n", len(result.Identifiers), cfg.Output)
	return nil
}

// persistenceFailure maps a write failure to exit code 2, or logs it and
// succeeds when write errors are ignored.
func (a *app) persistenceFailure(err error) error {
	var pe *output.PersistenceError
	if errors.As(err, &pe) {
		log.Error().Str("path", pe.Path).Str("op", pe.Op).Err(pe.Err).Msg("Failed to persist identifiers")
	} else {
		log.Error().Err(err).Msg("Failed to persist identifiers")
	}
	if a.cfg.IgnoreWriteErrors {
		return nil
	}
	return &exitError{code: exitPersistence, err: err}
}

func saveRun(ctx context.Context, path string, info store.RunInfo, ids []string) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	saved, err := st.SaveRun(ctx, info, ids)
	if err != nil {
		return err
	}
	log.Info().
		Int64("run_id", saved.ID).
		Int("identifiers", saved.Count).
		Int("new_entries", saved.NewEntries).
		Msg("Recorded run")
	return nil
}
