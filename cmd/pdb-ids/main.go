// Package main is the entry point for the pdb-ids CLI, which collects the
// identifiers of every entry returned by an RCSB search.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/pdb-ids/internal/config"
	"github.com/Sternrassler/pdb-ids/pkg/logging"
)

// version is set at build time via ldflags.
var version = "dev"

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitPersistence = 2
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"endpoint":                 "endpoint",
	"user-agent":               "user_agent",
	"total-hint":               "total_hint",
	"page-size":                "page_size",
	"policy":                   "policy",
	"on-error":                 "on_error",
	"concurrency":              "concurrency",
	"request-timeout":          "request_timeout",
	"deadline":                 "deadline",
	"retries":                  "retries",
	"min-interval":             "min_interval",
	"max-consecutive-failures": "max_consecutive_failures",
	"max-pages":                "max_pages",
	"dedupe":                   "dedupe",
	"output":                   "output",
	"format":                   "format",
	"ignore-write-errors":      "ignore_write_errors",
	"store":                    "store",
	"metrics-addr":             "metrics_addr",
	"redis":                    "redis.addr",
	"redis-ttl":                "redis.ttl",
	"log-level":                "log.level",
	"pretty":                   "log.pretty",
}

// app holds the state shared by all subcommands of one invocation.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		v:      config.New(),
		stdout: stdout,
		stderr: stderr,
	}

	root := &cobra.Command{
		Use:   "pdb-ids",
		Short: "Collect the identifiers of every entry returned by an RCSB search",
		Long: `pdb-ids pages through the RCSB PDB search service and writes the complete
list of entry identifiers to a file.

Settings come from flags, PDB_IDS_* environment variables and an optional
pdb-ids.yaml in the working directory or ~/.config/pdb-ids/.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().String("config", "", "config file (default: ./pdb-ids.yaml or ~/.config/pdb-ids/pdb-ids.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error, disabled)")
	root.PersistentFlags().Bool("pretty", false, "human-readable console logs instead of JSON")

	root.AddCommand(
		newFetchCmd(a),
		newCountCmd(a),
		newQueryCmd(a),
		newStoreCmd(a),
		newCacheCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup reads configuration, binds the flags of the running command and
// configures logging.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	used, err := config.ReadFile(a.v, cfgFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	lc := cfg.Logging()
	lc.Output = a.stderr
	logging.Setup(lc)

	if used != "" {
		log.Debug().Str("file", used).Msg("Using config file")
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	if err != nil {
		log.Error().Err(err).Msg("pdb-ids failed")
	}
	stop()
	os.Exit(exitCode(err))
}
