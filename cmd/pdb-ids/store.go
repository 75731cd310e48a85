package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/pdb-ids/pkg/output"
	"github.com/Sternrassler/pdb-ids/pkg/store"
)

func newStoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect runs recorded in the sqlite store",
		Long: `Store reads the run history written by "fetch --store". Comparing two runs
shows entries added to or removed from the archive between them.`,
	}
	cmd.PersistentFlags().String("store", "", "sqlite database path (default "+defaultStorePath+")")

	runs := &cobra.Command{
		Use:     "list",
		Aliases: []string{"runs"},
		Short:   "List recorded runs, newest first",
		Args:    cobra.NoArgs,
		RunE:    a.runStoreRuns,
	}
	runs.Flags().Int("limit", 10, "number of runs to list")
	runs.Flags().Bool("json", false, "output runs as JSON")

	diff := &cobra.Command{
		Use:   "diff <old-run> <new-run>",
		Short: "Show identifiers added and removed between two runs",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runStoreDiff,
	}

	ids := &cobra.Command{
		Use:   "ids <run>",
		Short: "Print the identifiers of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runStoreIDs,
	}
	ids.Flags().String("format", "lines", "output format: lines, comma, json, yaml")

	cmd.AddCommand(runs, diff, ids)
	return cmd
}

// defaultStorePath is read by the store commands when no store is configured.
const defaultStorePath = "pdb-ids.db"

func (a *app) openStore() (*store.Store, error) {
	path := a.cfg.Store
	if path == "" {
		path = defaultStorePath
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return store.Open(path)
}

func (a *app) runStoreRuns(cmd *cobra.Command, args []string) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := st.LatestRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	known, err := st.KnownCount(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFINISHED\tPOLICY\tTOTAL\tCOUNT\tNEW")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.FinishedAt.Local().Format(time.DateTime), r.Policy, r.ServerTotal, r.Count, r.NewEntries)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%d distinct identifiers known\n", known)
	return nil
}

func (a *app) runStoreDiff(cmd *cobra.Command, args []string) error {
	oldRun, err := parseRunID(args[0])
	if err != nil {
		return err
	}
	newRun, err := parseRunID(args[1])
	if err != nil {
		return err
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	added, removed, err := st.Diff(cmd.Context(), oldRun, newRun)
	if err != nil {
		return err
	}
	for _, id := range added {
		fmt.Fprintf(a.stdout, "+%s\n", id)
	}
	for _, id := range removed {
		fmt.Fprintf(a.stdout, "-%s\n", id)
	}
	return nil
}

func (a *app) runStoreIDs(cmd *cobra.Command, args []string) error {
	runID, err := parseRunID(args[0])
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(name)
	if err != nil {
		return err
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ids, err := st.Identifiers(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if err := output.Encode(a.stdout, ids, format); err != nil {
		return err
	}
	if format == output.FormatComma {
		fmt.Fprintln(a.stdout)
	}
	return nil
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", s)
	}
	return id, nil
}
